package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/embercord/embercord/cache"
	"github.com/embercord/embercord/config"
	"github.com/embercord/embercord/event"
	"github.com/embercord/embercord/gateway"
	"github.com/embercord/embercord/rest"
)

// shardReadyTimeout scales the per-shard guild settle wait against the
// gateway's identify burst budget of roughly 110 guilds per 61 seconds.
func shardReadyTimeout(guilds int) time.Duration {
	return time.Duration(float64(61*time.Second) * float64(guilds) / 110)
}

type queuedGuild struct {
	guild *discordgo.Guild
	// known marks guilds that were already cached (from READY placeholders
	// or a previous session) and thus become "available" instead of
	// "joined".
	known bool
}

// guildQueue is the unbounded queue feeding the ready machine. Pop blocks
// until an item arrives or the per-item timeout expires; expiry is the
// normal "no more guilds incoming" signal, not an error.
type guildQueue struct {
	mu     sync.Mutex
	items  []queuedGuild
	signal chan struct{}
}

func newGuildQueue() *guildQueue {
	return &guildQueue{signal: make(chan struct{}, 1)}
}

func (q *guildQueue) push(item queuedGuild) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *guildQueue) pop(ctx context.Context, timeout time.Duration) (queuedGuild, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-timer.C:
			return queuedGuild{}, false
		case <-ctx.Done():
			return queuedGuild{}, false
		}
	}
}

// ShardedConnectionState layers the multi-shard ready sequencing machine on
// top of ConnectionState. READY and GUILD_CREATE bursts from all shards are
// collected, guilds are chunked under bounded concurrency, and readiness is
// announced per guild, per shard and finally in aggregate.
type ShardedConnectionState struct {
	*ConnectionState

	smu            sync.Mutex
	launched       map[int]bool
	launchDone     bool
	shardsLaunched chan struct{}
	queue          *guildQueue
	machineStarted bool
	machineDone    bool
}

// NewSharded constructs the sharded connection state.
func NewSharded(opts config.Options, c cache.Cache, shards gateway.Provider, restClient rest.Client) (*ShardedConnectionState, error) {
	base, err := newConnectionState(opts, c, shards, restClient)
	if err != nil {
		return nil, err
	}
	s := &ShardedConnectionState{
		ConnectionState: base,
		launched:        make(map[int]bool),
		shardsLaunched:  make(chan struct{}),
		queue:           newGuildQueue(),
	}
	base.emitter = event.NewEmitter(s)
	for _, t := range event.DefaultTypes() {
		base.emitter.AddType(t)
	}
	return s, nil
}

// HandleReady records one shard's READY burst. Once every configured shard
// has identified, the delayed ready machine is released.
func (s *ShardedConnectionState) HandleReady(ctx context.Context, ready *discordgo.Ready) {
	s.absorbReady(ctx, ready)

	shardID := 0
	if ready.Shard != nil {
		shardID = ready.Shard[0]
	}
	s.log.Debugf("shard %d identified with %d guilds", shardID, len(ready.Guilds))

	s.smu.Lock()
	s.launched[shardID] = true
	if !s.launchDone && len(s.launched) >= len(s.opts.ShardIDs) {
		s.launchDone = true
		close(s.shardsLaunched)
	}
	start := !s.machineStarted
	s.machineStarted = true
	s.smu.Unlock()

	if start {
		go s.delayReady()
	}
}

// HandleGuildCreate queues guilds for the ready machine while it runs;
// afterwards creates flow through the normal join/available path.
func (s *ShardedConnectionState) HandleGuildCreate(ctx context.Context, guild *discordgo.Guild) {
	if guild.Unavailable {
		s.cache.AddGuild(ctx, guild)
		return
	}
	_, known := s.cache.Guild(ctx, guild.ID)
	s.registerGuild(ctx, guild)

	s.smu.Lock()
	queueing := !s.machineDone
	s.smu.Unlock()
	if queueing {
		s.queue.push(queuedGuild{guild: guild, known: known})
		return
	}
	s.announceGuild(ctx, guild, known)
}

// delayReady is the ready sequencing machine. It waits for every shard to
// identify, drains the guild stream until it goes quiet, chunks guilds
// under a bounded bucket, then announces guild, shard and aggregate
// readiness in that order. Every wait carries a timeout and expiry always
// means "move on", never "fail".
func (s *ShardedConnectionState) delayReady() {
	ctx := s.ctx
	select {
	case <-s.shardsLaunched:
	case <-ctx.Done():
		return
	}

	var (
		collected []queuedGuild
		chunkDone = make(map[string]chan struct{})
		bucket    []chan struct{}
	)
	bucketCap := 2 * s.shards.ShardCount()
	for {
		item, ok := s.queue.pop(ctx, s.opts.GuildReadyTimeout)
		if !ok {
			// The stream went quiet: collection is finished.
			break
		}
		collected = append(collected, item)
		if !s.GuildNeedsChunking(ctx, item.guild) {
			continue
		}
		done := s.chunkInBackground(item.guild)
		chunkDone[item.guild.ID] = done
		bucket = append(bucket, done)
		if len(bucket) >= bucketCap {
			s.joinChunks(ctx, bucket, chunkTimeout(len(bucket)))
			bucket = nil
		}
	}
	if len(bucket) > 0 {
		s.joinChunks(ctx, bucket, chunkTimeout(len(bucket)))
	}
	if ctx.Err() != nil {
		return
	}

	for _, shardID := range s.readyShardIDs(collected) {
		guilds := s.guildsForShard(collected, shardID)
		deadline := time.Now().Add(shardReadyTimeout(len(guilds)))
		for _, item := range guilds {
			if done, ok := chunkDone[item.guild.ID]; ok {
				s.waitUntil(ctx, done, deadline)
			}
			if item.known {
				s.emitter.Dispatch(ctx, event.GuildAvailable{Guild: item.guild})
			} else {
				s.emitter.Dispatch(ctx, event.GuildJoin{Guild: item.guild})
			}
		}
		s.emitter.Dispatch(ctx, event.ShardReady{ShardID: shardID})
	}

	if s.rest != nil {
		if err := s.AddDefaultSounds(ctx); err != nil {
			s.log.WithError(err).Warn("could not populate default sounds")
		}
	}
	if s.opts.CacheAppEmojis && s.rest != nil {
		s.fetchAppEmojis(ctx)
	}

	s.smu.Lock()
	s.queue = newGuildQueue()
	s.machineDone = true
	s.smu.Unlock()

	s.emitter.Dispatch(ctx, event.Ready{User: s.ClientUser()})
}

// chunkInBackground starts one bounded chunk task and returns its done
// signal.
func (s *ShardedConnectionState) chunkInBackground(guild *discordgo.Guild) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		chunkCtx, cancel := context.WithTimeout(s.ctx, chunkTimeout(1))
		defer cancel()
		if _, err := s.ChunkGuild(chunkCtx, guild, true, nil); err != nil {
			s.log.WithError(err).Debugf("startup chunking for guild %s did not finish", guild.ID)
		}
	}()
	return done
}

// joinChunks waits for a full bucket of chunk tasks, bounded so one stuck
// guild cannot stall the whole ready sequence.
func (s *ShardedConnectionState) joinChunks(ctx context.Context, bucket []chan struct{}, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range bucket {
		select {
		case <-done:
		case <-timer.C:
			s.log.Debug("chunk bucket join timed out, continuing")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *ShardedConnectionState) waitUntil(ctx context.Context, done chan struct{}, deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// readyShardIDs is every shard that gets a SHARD_READY: all identified
// shards, plus any shard a collected guild maps to. Shards with no guilds
// still settle.
func (s *ShardedConnectionState) readyShardIDs(items []queuedGuild) []int {
	seen := make(map[int]bool)
	var ids []int
	s.smu.Lock()
	for id := range s.launched {
		seen[id] = true
		ids = append(ids, id)
	}
	s.smu.Unlock()
	for _, item := range items {
		id := gateway.ShardForGuild(item.guild.ID, s.shards.ShardCount())
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (s *ShardedConnectionState) guildsForShard(items []queuedGuild, shardID int) []queuedGuild {
	var out []queuedGuild
	for _, item := range items {
		if gateway.ShardForGuild(item.guild.ID, s.shards.ShardCount()) == shardID {
			out = append(out, item)
		}
	}
	return out
}
