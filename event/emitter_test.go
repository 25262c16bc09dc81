package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/embercord/embercord/cache"
	"github.com/embercord/embercord/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeState satisfies State with an in-memory cache and records calls into
// the routing handlers.
type fakeState struct {
	cache  cache.Cache
	flags  config.MemberCacheFlags
	selfID string

	mu            sync.Mutex
	readyCalls    int
	guildCreates  []*discordgo.Guild
	membersChunks []*discordgo.GuildMembersChunk
}

func newFakeState() *fakeState {
	c := cache.NewMemoryCache(100)
	c.Bind()
	return &fakeState{cache: c, flags: config.MemberCacheFlagsAll, selfID: "self"}
}

func (s *fakeState) Cache() cache.Cache             { return s.cache }
func (s *fakeState) Flags() config.MemberCacheFlags { return s.flags }
func (s *fakeState) SelfID() string                 { return s.selfID }

func (s *fakeState) StoreUser(ctx context.Context, user *discordgo.User) *discordgo.User {
	return s.cache.StoreUser(ctx, user)
}

func (s *fakeState) StoreMember(ctx context.Context, member *discordgo.Member) {
	s.cache.StoreMember(ctx, member)
}

func (s *fakeState) HandleReady(_ context.Context, _ *discordgo.Ready) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
}

func (s *fakeState) HandleGuildCreate(_ context.Context, guild *discordgo.Guild) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guildCreates = append(s.guildCreates, guild)
}

func (s *fakeState) HandleMembersChunk(_ context.Context, chunk *discordgo.GuildMembersChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membersChunks = append(s.membersChunks, chunk)
}

func newTestEmitter(t *testing.T) (*Emitter, *fakeState) {
	t.Helper()
	s := newFakeState()
	e := NewEmitter(s)
	for _, typ := range DefaultTypes() {
		e.AddType(typ)
	}
	return e, s
}

// collect subscribes a receiver that appends every event it sees.
func collect(e *Emitter) *[]Event {
	var mu sync.Mutex
	events := &[]Event{}
	e.AddReceiver(func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, ev)
	})
	return events
}

func TestEmit_UnknownNameIgnored(t *testing.T) {
	e, _ := newTestEmitter(t)
	events := collect(e)

	e.Emit(context.Background(), "NOT_A_REAL_EVENT", json.RawMessage(`{}`))
	assert.Empty(t, *events)
}

func TestEmit_UnknownGuildDiscardsWithoutMutation(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	raw, err := json.Marshal(map[string]any{
		"guild_id": "missing",
		"user":     map[string]any{"id": "u1", "username": "alice"},
	})
	require.NoError(t, err)
	e.Emit(ctx, "GUILD_MEMBER_ADD", raw)

	assert.Empty(t, *events)
	stats := s.cache.Stats(ctx)
	assert.Zero(t, stats.Members)
	assert.Zero(t, stats.Users)
}

func TestEmit_GuildMemberAddStoresAndDispatches(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	s.cache.AddGuild(ctx, &discordgo.Guild{ID: "g1", MemberCount: 1})

	raw, err := json.Marshal(map[string]any{
		"guild_id": "g1",
		"user":     map[string]any{"id": "u1", "username": "alice"},
	})
	require.NoError(t, err)
	e.Emit(ctx, "GUILD_MEMBER_ADD", raw)

	require.Len(t, *events, 1)
	join, ok := (*events)[0].(GuildMemberJoin)
	require.True(t, ok)
	assert.Equal(t, "u1", join.Member.User.ID)

	_, cached := s.cache.Member(ctx, "g1", "u1")
	assert.True(t, cached)
	guild, _ := s.cache.Guild(ctx, "g1")
	assert.Equal(t, 2, guild.MemberCount)
}

func TestEmit_MessageCreateCachesMessageAndAuthor(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	raw, err := json.Marshal(map[string]any{
		"id":         "m1",
		"channel_id": "c1",
		"content":    "hello",
		"author":     map[string]any{"id": "u1", "username": "alice"},
	})
	require.NoError(t, err)
	e.Emit(ctx, "MESSAGE_CREATE", raw)

	require.Len(t, *events, 1)
	_, cached := s.cache.Message(ctx, "m1")
	assert.True(t, cached)
	_, cached = s.cache.User(ctx, "u1")
	assert.True(t, cached)
}

func TestEmit_MessageDeleteReportsCacheState(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	s.cache.StoreMessage(ctx, &discordgo.Message{ID: "m1", Content: "bye"})

	raw := json.RawMessage(`{"id":"m1","channel_id":"c1"}`)
	e.Emit(ctx, "MESSAGE_DELETE", raw)

	require.Len(t, *events, 1)
	del := (*events)[0].(MessageDelete)
	assert.True(t, del.IsCached)
	require.NotNil(t, del.Message)
	assert.Equal(t, "bye", del.Message.Content)
	_, cached := s.cache.Message(ctx, "m1")
	assert.False(t, cached)

	// Deleting an uncached message still fires, without a snapshot.
	e.Emit(ctx, "MESSAGE_DELETE", json.RawMessage(`{"id":"m2","channel_id":"c1"}`))
	require.Len(t, *events, 2)
	del = (*events)[1].(MessageDelete)
	assert.False(t, del.IsCached)
	assert.Nil(t, del.Message)
}

func TestEmit_ReactionRemoveAbsorbsUnknownReaction(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	s.cache.StoreMessage(ctx, &discordgo.Message{ID: "m1"})

	raw := json.RawMessage(`{"message_id":"m1","user_id":"u1","emoji":{"name":"👍"}}`)
	e.Emit(ctx, "MESSAGE_REACTION_REMOVE", raw)

	// No reaction was recorded locally, so this is the race path: the event
	// still fires and nothing blows up.
	require.Len(t, *events, 1)
	message, _ := s.cache.Message(ctx, "m1")
	assert.Empty(t, message.Reactions)
}

func TestEmit_ReactionAddAndRemoveRoundTrip(t *testing.T) {
	e, s := newTestEmitter(t)
	ctx := context.Background()

	s.cache.StoreMessage(ctx, &discordgo.Message{ID: "m1"})

	raw := json.RawMessage(`{"message_id":"m1","user_id":"u1","emoji":{"name":"👍"}}`)
	e.Emit(ctx, "MESSAGE_REACTION_ADD", raw)
	e.Emit(ctx, "MESSAGE_REACTION_ADD", raw)

	message, _ := s.cache.Message(ctx, "m1")
	require.Len(t, message.Reactions, 1)
	assert.Equal(t, 2, message.Reactions[0].Count)

	e.Emit(ctx, "MESSAGE_REACTION_REMOVE", raw)
	e.Emit(ctx, "MESSAGE_REACTION_REMOVE", raw)

	message, _ = s.cache.Message(ctx, "m1")
	assert.Empty(t, message.Reactions)
}

func TestEmit_InternalEventsRouteWithoutDispatch(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	e.Emit(ctx, "READY", json.RawMessage(`{"user":{"id":"self"}}`))
	e.Emit(ctx, "GUILD_CREATE", json.RawMessage(`{"id":"g1"}`))
	e.Emit(ctx, "GUILD_MEMBERS_CHUNK", json.RawMessage(`{"guild_id":"g1","members":[],"chunk_index":0,"chunk_count":1}`))

	assert.Empty(t, *events)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 1, s.readyCalls)
	assert.Len(t, s.guildCreates, 1)
	assert.Len(t, s.membersChunks, 1)
}

func TestDispatch_JoinsAllReceivers(t *testing.T) {
	e, _ := newTestEmitter(t)

	var calls atomic.Int32
	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		e.AddReceiver(func(_ context.Context, _ Event) {
			<-block
			calls.Add(1)
		})
	}

	done := make(chan struct{})
	go func() {
		e.Dispatch(context.Background(), Connect{})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Dispatch returned before receivers finished")
	default:
	}
	close(block)
	<-done
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoveReceiver(t *testing.T) {
	e, _ := newTestEmitter(t)

	var calls atomic.Int32
	id := e.AddReceiver(func(_ context.Context, _ Event) { calls.Add(1) })
	e.Dispatch(context.Background(), Connect{})
	e.RemoveReceiver(id)
	e.Dispatch(context.Background(), Connect{})

	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoveType(t *testing.T) {
	e, _ := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	e.RemoveType("RESUMED")
	e.Emit(ctx, "RESUMED", json.RawMessage(`{}`))
	assert.Empty(t, *events)
}

func TestEmit_GuildUpdateCarriesOldSnapshot(t *testing.T) {
	e, s := newTestEmitter(t)
	events := collect(e)
	ctx := context.Background()

	s.cache.AddGuild(ctx, &discordgo.Guild{ID: "g1", Name: "before"})
	e.Emit(ctx, "GUILD_UPDATE", json.RawMessage(`{"id":"g1","name":"after"}`))

	require.Len(t, *events, 1)
	update := (*events)[0].(GuildUpdate)
	assert.Equal(t, "before", update.Old.Name)
	assert.Equal(t, "after", update.Guild.Name)
	guild, _ := s.cache.Guild(ctx, "g1")
	assert.Equal(t, "after", guild.Name)
}
