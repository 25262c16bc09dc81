package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(ids ...string) []*discordgo.Member {
	out := make([]*discordgo.Member, len(ids))
	for i, id := range ids {
		out[i] = &discordgo.Member{User: &discordgo.User{ID: id, Username: "user-" + id}}
	}
	return out
}

func pendingNonce(t *testing.T, s *ConnectionState, guildID string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.chunkRequests[guildID]
	require.True(t, ok, "no pending chunk request for guild %s", guildID)
	return request.Nonce
}

func TestChunkRequest_ResolvesOnTerminalPageOnly(t *testing.T) {
	s, gw := newTestState(t, chunkingOptions())
	ctx := context.Background()

	_, err := s.ChunkGuild(ctx, &discordgo.Guild{ID: "g1"}, false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, gw.requestCount())
	nonce := pendingNonce(t, s, "g1")

	s.mu.Lock()
	future := s.chunkRequests["g1"].Future()
	s.mu.Unlock()

	push := func(index int, ids ...string) {
		s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
			GuildID:    "g1",
			Nonce:      nonce,
			Members:    members(ids...),
			ChunkIndex: index,
			ChunkCount: 3,
		})
	}

	push(0, "a", "b")
	push(1, "c")
	select {
	case <-future:
		t.Fatal("request resolved before the terminal chunk")
	default:
	}

	push(2, "d")
	select {
	case resolved := <-future:
		require.Len(t, resolved, 4)
		// Pages are buffered strictly in arrival order.
		for i, want := range []string{"a", "b", "c", "d"} {
			assert.Equal(t, want, resolved[i].User.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("request did not resolve after the terminal chunk")
	}

	assert.Zero(t, s.PendingChunks())
}

func TestChunkGuild_ConcurrentCallersShareOneRequest(t *testing.T) {
	s, gw := newTestState(t, chunkingOptions())
	ctx := context.Background()
	guild := &discordgo.Guild{ID: "g1"}

	results := make([][]*discordgo.Member, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.ChunkGuild(ctx, guild, true, nil)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	// Wait until both callers are attached to the single in-flight
	// request, then resolve it.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		request, ok := s.chunkRequests["g1"]
		s.mu.Unlock()
		if !ok {
			return false
		}
		request.mu.Lock()
		defer request.mu.Unlock()
		return len(request.waiters) == 2
	}, time.Second, 5*time.Millisecond)
	nonce := pendingNonce(t, s, "g1")
	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g1",
		Nonce:      nonce,
		Members:    members("a", "b"),
		ChunkIndex: 0,
		ChunkCount: 1,
	})
	wg.Wait()

	assert.Equal(t, 1, gw.requestCount(), "second caller must attach, not re-request")
	require.Len(t, results[0], 2)
	assert.Equal(t, results[0], results[1])
}

func TestChunkRequest_MergePreservesRicherMembers(t *testing.T) {
	s, _ := newTestState(t, chunkingOptions())
	ctx := context.Background()

	joined := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.cache.StoreMember(ctx, &discordgo.Member{
		GuildID:  "g1",
		User:     &discordgo.User{ID: "a"},
		Nick:     "rich",
		JoinedAt: joined,
	})
	s.cache.StoreMember(ctx, &discordgo.Member{
		GuildID: "g1",
		User:    &discordgo.User{ID: "b"},
		Nick:    "stub",
	})

	_, err := s.ChunkGuild(ctx, &discordgo.Guild{ID: "g1"}, false, nil)
	require.NoError(t, err)
	nonce := pendingNonce(t, s, "g1")

	chunked := members("a", "b")
	chunked[0].JoinedAt = joined
	chunked[1].JoinedAt = joined
	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g1",
		Nonce:      nonce,
		Members:    chunked,
		ChunkIndex: 0,
		ChunkCount: 1,
	})

	// The entry with a join timestamp keeps its richer local data; the one
	// without is replaced by the chunk payload.
	a, _ := s.cache.Member(ctx, "g1", "a")
	assert.Equal(t, "rich", a.Nick)
	b, _ := s.cache.Member(ctx, "g1", "b")
	assert.Empty(t, b.Nick)
}

func TestQueryMembers_TimeoutEvictsRequest(t *testing.T) {
	s, _ := newTestState(t, chunkingOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.QueryMembers(ctx, "g1", "ali", 10, nil, false, false)
	require.ErrorIs(t, err, ErrChunkTimeout)

	assert.Zero(t, s.PendingChunks())
}

func TestQueryMembers_IndependentOfChunkGuild(t *testing.T) {
	s, gw := newTestState(t, chunkingOptions())
	ctx := context.Background()

	_, err := s.ChunkGuild(ctx, &discordgo.Guild{ID: "g1"}, false, nil)
	require.NoError(t, err)
	guildNonce := pendingNonce(t, s, "g1")

	done := make(chan []*discordgo.Member, 1)
	go func() {
		got, err := s.QueryMembers(ctx, "g1", "ali", 10, nil, false, false)
		if err != nil {
			done <- nil
			return
		}
		done <- got
	}()

	// Both requests are outstanding: the full chunk and the query.
	require.Eventually(t, func() bool {
		return gw.requestCount() == 2 && s.PendingChunks() == 2
	}, time.Second, 5*time.Millisecond)

	var queryNonce string
	gw.mu.Lock()
	for _, r := range gw.requests {
		if r.nonce != guildNonce {
			queryNonce = r.nonce
		}
	}
	gw.mu.Unlock()
	require.NotEmpty(t, queryNonce)

	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g1",
		Nonce:      queryNonce,
		Members:    members("ali"),
		ChunkIndex: 0,
		ChunkCount: 1,
	})

	select {
	case got := <-done:
		require.Len(t, got, 1)
	case <-time.After(time.Second):
		t.Fatal("query did not resolve")
	}

	// Resolving the query must not disturb the guild-keyed request.
	assert.Equal(t, 1, s.PendingChunks())
	assert.Equal(t, guildNonce, pendingNonce(t, s, "g1"))
}

func TestHandleMembersChunk_ForeignNonceDoesNotResolveGuildRequest(t *testing.T) {
	s, _ := newTestState(t, chunkingOptions())
	ctx := context.Background()

	_, err := s.ChunkGuild(ctx, &discordgo.Guild{ID: "g1"}, false, nil)
	require.NoError(t, err)
	nonce := pendingNonce(t, s, "g1")

	s.mu.Lock()
	future := s.chunkRequests["g1"].Future()
	s.mu.Unlock()

	// A terminal page from some other request, such as a query that already
	// timed out and was evicted, must be dropped rather than routed to the
	// guild's full chunk request.
	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g1",
		Nonce:      "stale-query-nonce",
		Members:    members("stranger"),
		ChunkIndex: 0,
		ChunkCount: 1,
	})
	// Same for a page whose nonce matches but whose guild does not.
	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g2",
		Nonce:      nonce,
		Members:    members("stranger"),
		ChunkIndex: 0,
		ChunkCount: 1,
	})
	select {
	case <-future:
		t.Fatal("mismatched page resolved the guild request")
	default:
	}
	assert.Equal(t, 1, s.PendingChunks())

	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g1",
		Nonce:      nonce,
		Members:    members("a"),
		ChunkIndex: 0,
		ChunkCount: 1,
	})
	select {
	case resolved := <-future:
		require.Len(t, resolved, 1)
		assert.Equal(t, "a", resolved[0].User.ID)
	case <-time.After(time.Second):
		t.Fatal("matching page did not resolve the request")
	}
	assert.Zero(t, s.PendingChunks())
}

func TestHandleMembersChunk_UnknownNonceDropped(t *testing.T) {
	s, _ := newTestState(t, chunkingOptions())
	ctx := context.Background()

	// Nothing outstanding: the page is dropped without touching the cache.
	s.HandleMembersChunk(ctx, &discordgo.GuildMembersChunk{
		GuildID:    "g1",
		Nonce:      "stale",
		Members:    members("a"),
		ChunkIndex: 0,
		ChunkCount: 1,
	})
	assert.Empty(t, s.cache.Members(ctx))
}

func TestChunkNonce_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		nonce, err := chunkNonce()
		require.NoError(t, err)
		require.Len(t, nonce, 32)
		require.False(t, seen[nonce], fmt.Sprintf("duplicate nonce %s", nonce))
		seen[nonce] = true
	}
}
