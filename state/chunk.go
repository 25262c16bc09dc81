package state

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// ErrChunkTimeout is returned when a chunk wait expires before the terminal
// chunk page arrives.
var ErrChunkTimeout = errors.New("timed out waiting for member chunks")

// ChunkRequest correlates an outstanding member chunk request with its
// nonce. The gateway streams member pages back asynchronously; the request
// buffers them and resolves every attached waiter once the terminal page
// lands. Multiple callers may wait on one in-flight request.
type ChunkRequest struct {
	GuildID string
	Nonce   string

	state *ConnectionState
	cache bool

	mu       sync.Mutex
	buffer   []*discordgo.Member
	waiters  []chan []*discordgo.Member
	resolved bool
}

func newChunkRequest(s *ConnectionState, guildID string, cacheMembers bool) (*ChunkRequest, error) {
	nonce, err := chunkNonce()
	if err != nil {
		return nil, err
	}
	return &ChunkRequest{
		GuildID: guildID,
		Nonce:   nonce,
		state:   s,
		cache:   cacheMembers,
	}, nil
}

// chunkNonce generates the correlation nonce. It must be unguessable so a
// hostile gateway peer cannot resolve someone else's request.
func chunkNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate chunk nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AddMembers appends one chunk page to the buffer in arrival order. When
// the request caches, each member is merged into the guild member cache; an
// existing entry is only overwritten if it lacks a join timestamp, so
// richer previously-known data survives.
func (r *ChunkRequest) AddMembers(ctx context.Context, members []*discordgo.Member) {
	r.mu.Lock()
	r.buffer = append(r.buffer, members...)
	r.mu.Unlock()

	if !r.cache {
		return
	}
	for _, member := range members {
		member.GuildID = r.GuildID
		existing, ok := r.state.cache.Member(ctx, r.GuildID, member.User.ID)
		if ok && !existing.JoinedAt.IsZero() {
			continue
		}
		r.state.cache.StoreMember(ctx, member)
		r.state.StoreUser(ctx, member.User)
	}
}

// Future attaches a waiter and returns its one-shot result channel. A
// request that already resolved delivers immediately.
func (r *ChunkRequest) Future() <-chan []*discordgo.Member {
	ch := make(chan []*discordgo.Member, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		ch <- r.buffer
		return ch
	}
	r.waiters = append(r.waiters, ch)
	return ch
}

// Wait blocks until the request resolves or ctx expires.
func (r *ChunkRequest) Wait(ctx context.Context) ([]*discordgo.Member, error) {
	select {
	case members := <-r.Future():
		return members, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: guild %s", ErrChunkTimeout, r.GuildID)
	}
}

// Done resolves every waiter with the accumulated buffer. Waiter channels
// are buffered, so resolution never blocks on a slow consumer.
func (r *ChunkRequest) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolved = true
	for _, ch := range r.waiters {
		ch <- r.buffer
	}
	r.waiters = nil
}
