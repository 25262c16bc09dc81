// Package config holds the immutable configuration consumed by the
// connection state: gateway intents, member cache policy, cache bounds and
// the timeouts of the sharded ready sequence.
package config

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxMessages is used when Options.MaxMessages is zero or negative.
	DefaultMaxMessages = 1000

	// DefaultGuildReadyTimeout is how long the sharded ready machine waits
	// for the next GUILD_CREATE before treating the stream as finished.
	DefaultGuildReadyTimeout = 2 * time.Second
)

// Options configures a ConnectionState. The zero value gets sensible
// defaults from ApplyDefaults; state.New applies and validates for you.
type Options struct {
	// Intents is the gateway intent bitmask the client identifies with.
	Intents Intents `json:"intents"`

	// MemberCacheFlags overrides the member cache policy derived from
	// Intents. Leave nil to derive it automatically.
	MemberCacheFlags *MemberCacheFlags `json:"member_cache_flags,omitempty"`

	// MaxMessages bounds the message cache. Values <= 0 fall back to
	// DefaultMaxMessages.
	MaxMessages int `json:"max_messages"`

	// ChunkGuildsAtStartup requests full member lists for every guild during
	// the ready sequence. Defaults to whether the members intent is set and
	// requires that intent when enabled explicitly.
	ChunkGuildsAtStartup *bool `json:"chunk_guilds_at_startup,omitempty"`

	// GuildReadyTimeout is the per-guild dequeue timeout of the ready
	// machine. Zero means DefaultGuildReadyTimeout; negative is an error.
	GuildReadyTimeout time.Duration `json:"guild_ready_timeout"`

	// ShardCount and ShardIDs describe the shard topology this process runs.
	// ShardCount <= 0 is treated as a single shard.
	ShardCount int   `json:"shard_count"`
	ShardIDs   []int `json:"shard_ids,omitempty"`

	// ApplicationID is the application snowflake, when known up front.
	ApplicationID string `json:"application_id,omitempty"`

	// CacheAppEmojis enables caching of application emojis fetched over REST.
	CacheAppEmojis bool `json:"cache_app_emojis"`
}

// ApplyDefaults fills derived and defaulted fields in place.
func (o *Options) ApplyDefaults() {
	if o.Intents == 0 {
		o.Intents = DefaultIntents()
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.GuildReadyTimeout == 0 {
		o.GuildReadyTimeout = DefaultGuildReadyTimeout
	}
	if o.ShardCount <= 0 {
		o.ShardCount = 1
	}
	if len(o.ShardIDs) == 0 {
		o.ShardIDs = make([]int, o.ShardCount)
		for i := range o.ShardIDs {
			o.ShardIDs[i] = i
		}
	}
	if o.ChunkGuildsAtStartup == nil {
		chunk := o.Intents.Members()
		o.ChunkGuildsAtStartup = &chunk
	}
	if o.MemberCacheFlags == nil {
		flags := MemberCacheFlagsFromIntents(o.Intents)
		o.MemberCacheFlags = &flags
	}
}

// Validate reports configuration contradictions. These indicate programmer
// error and are fatal at construction time.
func (o *Options) Validate() error {
	if o.GuildReadyTimeout < 0 {
		return fmt.Errorf("guild_ready_timeout cannot be negative")
	}
	if o.ChunkGuildsAtStartup != nil && *o.ChunkGuildsAtStartup && !o.Intents.Members() {
		return fmt.Errorf("the members intent must be enabled to chunk guilds at startup")
	}
	if o.MemberCacheFlags != nil {
		if err := o.MemberCacheFlags.VerifyIntents(o.Intents); err != nil {
			return fmt.Errorf("member_cache_flags incompatible with intents: %w", err)
		}
	}
	return nil
}

// ChunkGuilds reports whether guilds are chunked during the ready sequence.
// Call after ApplyDefaults.
func (o *Options) ChunkGuilds() bool {
	return o.ChunkGuildsAtStartup != nil && *o.ChunkGuildsAtStartup
}

// Flags returns the effective member cache policy. Call after ApplyDefaults.
func (o *Options) Flags() MemberCacheFlags {
	if o.MemberCacheFlags == nil {
		return MemberCacheFlagsFromIntents(o.Intents)
	}
	return *o.MemberCacheFlags
}
