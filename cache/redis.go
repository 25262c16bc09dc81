package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/embercord/embercord/logging"
)

const keyPrefix = "embercord:"

// ConnectionConfig holds the Redis connection parameters for a RedisCache.
type ConnectionConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RedisCache is a Cache backed by Redis, sharing entity state across
// processes. Reads that fail for infrastructure reasons are logged and
// reported as misses so the state layer degrades to its partial-entity
// fallbacks instead of erroring.
//
// Views and modals hold live callbacks and cannot cross a process boundary;
// they stay in process-local maps.
type RedisCache struct {
	rdb         *redis.Client
	log         *logrus.Entry
	maxMessages int

	mu     sync.RWMutex
	bound  bool
	views  map[string]View
	modals map[string]Modal
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(cfg *ConnectionConfig, maxMessages int) (*RedisCache, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("redis cache requires an address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("could not connect to cache at %s: %w", cfg.Addr, err)
	}
	return &RedisCache{
		rdb:         rdb,
		log:         logging.NewLogger("cache"),
		maxMessages: maxMessages,
		views:       make(map[string]View),
		modals:      make(map[string]Modal),
	}, nil
}

// Ping reports connection health.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisCache) Bind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = true
}

func (c *RedisCache) ensureBound() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.bound {
		panic("cache: used before being bound to a connection state")
	}
}

func (c *RedisCache) warn(op string, err error) {
	c.log.WithError(err).Warnf("cache %s failed, treating as miss", op)
}

func key(parts ...string) string {
	out := keyPrefix
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

// hashGet unmarshals one field of a hash into dst.
func (c *RedisCache) hashGet(ctx context.Context, hashKey, field string, dst any) bool {
	raw, err := c.rdb.HGet(ctx, hashKey, field).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.warn("read "+hashKey, err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.warn("decode "+hashKey, err)
		return false
	}
	return true
}

func (c *RedisCache) hashSet(ctx context.Context, hashKey, field string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.warn("encode "+hashKey, err)
		return
	}
	if err := c.rdb.HSet(ctx, hashKey, field, raw).Err(); err != nil {
		c.warn("write "+hashKey, err)
	}
}

// hashValues decodes every field of a hash into a slice of T.
func hashValues[T any](c *RedisCache, ctx context.Context, hashKey string) []*T {
	raw, err := c.rdb.HVals(ctx, hashKey).Result()
	if err != nil {
		c.warn("read "+hashKey, err)
		return nil
	}
	out := make([]*T, 0, len(raw))
	for _, item := range raw {
		v := new(T)
		if err := json.Unmarshal([]byte(item), v); err != nil {
			c.warn("decode "+hashKey, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// hashValuesByPattern decodes every field of every hash matching pattern.
func hashValuesByPattern[T any](c *RedisCache, ctx context.Context, pattern string) []*T {
	var out []*T
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, hashValues[T](c, ctx, iter.Val())...)
	}
	if err := iter.Err(); err != nil {
		c.warn("scan "+pattern, err)
	}
	return out
}

// users

func (c *RedisCache) Users(ctx context.Context) []*discordgo.User {
	c.ensureBound()
	return hashValues[discordgo.User](c, ctx, key("users"))
}

func (c *RedisCache) StoreUser(ctx context.Context, user *discordgo.User) *discordgo.User {
	c.ensureBound()
	var existing discordgo.User
	if c.hashGet(ctx, key("users"), user.ID, &existing) {
		return &existing
	}
	if user.Discriminator != "0000" {
		c.hashSet(ctx, key("users"), user.ID, user)
	}
	return user
}

func (c *RedisCache) User(ctx context.Context, userID string) (*discordgo.User, bool) {
	c.ensureBound()
	var u discordgo.User
	if !c.hashGet(ctx, key("users"), userID, &u) {
		return nil, false
	}
	return &u, true
}

func (c *RedisCache) DeleteUser(ctx context.Context, userID string) {
	c.ensureBound()
	if err := c.rdb.HDel(ctx, key("users"), userID).Err(); err != nil {
		c.warn("delete user", err)
	}
}

// guilds

func (c *RedisCache) Guilds(ctx context.Context) []*discordgo.Guild {
	c.ensureBound()
	return hashValues[discordgo.Guild](c, ctx, key("guilds"))
}

func (c *RedisCache) Guild(ctx context.Context, guildID string) (*discordgo.Guild, bool) {
	c.ensureBound()
	var g discordgo.Guild
	if !c.hashGet(ctx, key("guilds"), guildID, &g) {
		return nil, false
	}
	return &g, true
}

func (c *RedisCache) AddGuild(ctx context.Context, guild *discordgo.Guild) {
	c.ensureBound()
	c.hashSet(ctx, key("guilds"), guild.ID, guild)
}

func (c *RedisCache) DeleteGuild(ctx context.Context, guildID string) {
	c.ensureBound()
	if err := c.rdb.HDel(ctx, key("guilds"), guildID).Err(); err != nil {
		c.warn("delete guild", err)
	}
}

// guild members, one hash per guild

func (c *RedisCache) StoreMember(ctx context.Context, member *discordgo.Member) {
	c.ensureBound()
	c.hashSet(ctx, key("members", member.GuildID), member.User.ID, member)
}

func (c *RedisCache) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, bool) {
	c.ensureBound()
	var m discordgo.Member
	if !c.hashGet(ctx, key("members", guildID), userID, &m) {
		return nil, false
	}
	return &m, true
}

func (c *RedisCache) DeleteMember(ctx context.Context, guildID, userID string) {
	c.ensureBound()
	if err := c.rdb.HDel(ctx, key("members", guildID), userID).Err(); err != nil {
		c.warn("delete member", err)
	}
}

func (c *RedisCache) DeleteGuildMembers(ctx context.Context, guildID string) {
	c.ensureBound()
	if err := c.rdb.Del(ctx, key("members", guildID)).Err(); err != nil {
		c.warn("delete guild members", err)
	}
}

func (c *RedisCache) GuildMembers(ctx context.Context, guildID string) []*discordgo.Member {
	c.ensureBound()
	return hashValues[discordgo.Member](c, ctx, key("members", guildID))
}

func (c *RedisCache) Members(ctx context.Context) []*discordgo.Member {
	c.ensureBound()
	return hashValuesByPattern[discordgo.Member](c, ctx, key("members", "*"))
}

// messages, one bounded list plus an ID index for point lookups

func (c *RedisCache) StoreMessage(ctx context.Context, message *discordgo.Message) {
	c.ensureBound()
	raw, err := json.Marshal(message)
	if err != nil {
		c.warn("encode message", err)
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, key("messages"), 0, message.ID)
	pipe.RPush(ctx, key("messages"), message.ID)
	if c.maxMessages > 0 {
		pipe.LTrim(ctx, key("messages"), int64(-c.maxMessages), -1)
	}
	pipe.HSet(ctx, key("messages", "byid"), message.ID, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn("write message", err)
	}
}

func (c *RedisCache) Message(ctx context.Context, messageID string) (*discordgo.Message, bool) {
	c.ensureBound()
	var m discordgo.Message
	if !c.hashGet(ctx, key("messages", "byid"), messageID, &m) {
		return nil, false
	}
	return &m, true
}

func (c *RedisCache) DeleteMessage(ctx context.Context, messageID string) {
	c.ensureBound()
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, key("messages"), 0, messageID)
	pipe.HDel(ctx, key("messages", "byid"), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn("delete message", err)
	}
}

func (c *RedisCache) Messages(ctx context.Context) []*discordgo.Message {
	c.ensureBound()
	ids, err := c.rdb.LRange(ctx, key("messages"), 0, -1).Result()
	if err != nil {
		c.warn("read messages", err)
		return nil
	}
	messages := make([]*discordgo.Message, 0, len(ids))
	for _, id := range ids {
		var m discordgo.Message
		if c.hashGet(ctx, key("messages", "byid"), id, &m) {
			messages = append(messages, &m)
		}
	}
	return messages
}

// private channels, a hash plus a sorted set that orders channels by last
// use so the 128-entry bound can evict the stalest first

func (c *RedisCache) PrivateChannels(ctx context.Context) []*discordgo.Channel {
	c.ensureBound()
	ids, err := c.rdb.ZRevRange(ctx, key("dm", "order"), 0, -1).Result()
	if err != nil {
		c.warn("read private channels", err)
		return nil
	}
	channels := make([]*discordgo.Channel, 0, len(ids))
	for _, id := range ids {
		var ch discordgo.Channel
		if c.hashGet(ctx, key("dm", "channels"), id, &ch) {
			channels = append(channels, &ch)
		}
	}
	return channels
}

func (c *RedisCache) PrivateChannel(ctx context.Context, channelID string) (*discordgo.Channel, bool) {
	c.ensureBound()
	var ch discordgo.Channel
	if !c.hashGet(ctx, key("dm", "channels"), channelID, &ch) {
		return nil, false
	}
	c.touchPrivateChannel(ctx, channelID)
	return &ch, true
}

func (c *RedisCache) PrivateChannelByUser(ctx context.Context, userID string) (*discordgo.Channel, bool) {
	c.ensureBound()
	channelID, err := c.rdb.HGet(ctx, key("dm", "byuser"), userID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.warn("read dm index", err)
		return nil, false
	}
	var ch discordgo.Channel
	if !c.hashGet(ctx, key("dm", "channels"), channelID, &ch) {
		return nil, false
	}
	return &ch, true
}

func (c *RedisCache) touchPrivateChannel(ctx context.Context, channelID string) {
	score := float64(time.Now().UnixNano())
	if err := c.rdb.ZAdd(ctx, key("dm", "order"), redis.Z{Score: score, Member: channelID}).Err(); err != nil {
		c.warn("touch private channel", err)
	}
}

func (c *RedisCache) StorePrivateChannel(ctx context.Context, channel *discordgo.Channel) {
	c.ensureBound()
	c.hashSet(ctx, key("dm", "channels"), channel.ID, channel)
	c.touchPrivateChannel(ctx, channel.ID)
	if recipient := dmRecipient(channel); recipient != nil {
		if err := c.rdb.HSet(ctx, key("dm", "byuser"), recipient.ID, channel.ID).Err(); err != nil {
			c.warn("write dm index", err)
		}
	}

	size, err := c.rdb.ZCard(ctx, key("dm", "order")).Result()
	if err != nil {
		c.warn("size private channels", err)
		return
	}
	if size <= maxPrivateChannels {
		return
	}
	stale, err := c.rdb.ZRange(ctx, key("dm", "order"), 0, size-maxPrivateChannels-1).Result()
	if err != nil {
		c.warn("evict private channels", err)
		return
	}
	for _, id := range stale {
		c.evictPrivateChannel(ctx, id)
	}
}

func (c *RedisCache) evictPrivateChannel(ctx context.Context, channelID string) {
	var ch discordgo.Channel
	hadEntry := c.hashGet(ctx, key("dm", "channels"), channelID, &ch)
	pipe := c.rdb.Pipeline()
	pipe.ZRem(ctx, key("dm", "order"), channelID)
	pipe.HDel(ctx, key("dm", "channels"), channelID)
	if hadEntry {
		if recipient := dmRecipient(&ch); recipient != nil {
			pipe.HDel(ctx, key("dm", "byuser"), recipient.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn("evict private channel", err)
	}
}

// emojis

func (c *RedisCache) StoreGuildEmoji(ctx context.Context, guildID string, emoji *discordgo.Emoji) {
	c.ensureBound()
	c.hashSet(ctx, key("emojis", guildID), emoji.ID, emoji)
}

func (c *RedisCache) StoreAppEmoji(ctx context.Context, applicationID string, emoji *discordgo.Emoji) {
	c.ensureBound()
	c.hashSet(ctx, key("emojis", applicationID), emoji.ID, emoji)
}

func (c *RedisCache) Emoji(ctx context.Context, emojiID string) (*discordgo.Emoji, bool) {
	c.ensureBound()
	for _, e := range c.Emojis(ctx) {
		if e.ID == emojiID {
			return e, true
		}
	}
	return nil, false
}

func (c *RedisCache) Emojis(ctx context.Context) []*discordgo.Emoji {
	c.ensureBound()
	return hashValuesByPattern[discordgo.Emoji](c, ctx, key("emojis", "*"))
}

func (c *RedisCache) DeleteEmoji(ctx context.Context, ownerID, emojiID string) {
	c.ensureBound()
	if err := c.rdb.HDel(ctx, key("emojis", ownerID), emojiID).Err(); err != nil {
		c.warn("delete emoji", err)
	}
}

// stickers

func (c *RedisCache) StoreSticker(ctx context.Context, guildID string, sticker *discordgo.Sticker) {
	c.ensureBound()
	c.hashSet(ctx, key("stickers", guildID), sticker.ID, sticker)
}

func (c *RedisCache) Sticker(ctx context.Context, stickerID string) (*discordgo.Sticker, bool) {
	c.ensureBound()
	for _, s := range c.Stickers(ctx) {
		if s.ID == stickerID {
			return s, true
		}
	}
	return nil, false
}

func (c *RedisCache) Stickers(ctx context.Context) []*discordgo.Sticker {
	c.ensureBound()
	return hashValuesByPattern[discordgo.Sticker](c, ctx, key("stickers", "*"))
}

func (c *RedisCache) DeleteGuildStickers(ctx context.Context, guildID string) {
	c.ensureBound()
	if err := c.rdb.Del(ctx, key("stickers", guildID)).Err(); err != nil {
		c.warn("delete guild stickers", err)
	}
}

// soundboard sounds

func (c *RedisCache) StoreSound(ctx context.Context, sound *SoundboardSound) {
	c.ensureBound()
	c.hashSet(ctx, key("sounds"), sound.SoundID, sound)
}

func (c *RedisCache) Sound(ctx context.Context, soundID string) (*SoundboardSound, bool) {
	c.ensureBound()
	var s SoundboardSound
	if !c.hashGet(ctx, key("sounds"), soundID, &s) {
		return nil, false
	}
	return &s, true
}

func (c *RedisCache) Sounds(ctx context.Context) []*SoundboardSound {
	c.ensureBound()
	return hashValues[SoundboardSound](c, ctx, key("sounds"))
}

func (c *RedisCache) DeleteSound(ctx context.Context, soundID string) {
	c.ensureBound()
	if err := c.rdb.HDel(ctx, key("sounds"), soundID).Err(); err != nil {
		c.warn("delete sound", err)
	}
}

// persistent UI components, process-local

func (c *RedisCache) StoreView(_ context.Context, view View, messageID string) {
	c.ensureBound()
	c.mu.Lock()
	defer c.mu.Unlock()
	k := messageID
	if k == "" {
		k = view.ID()
	}
	c.views[k] = view
}

func (c *RedisCache) Views(_ context.Context) []View {
	c.ensureBound()
	c.mu.RLock()
	defer c.mu.RUnlock()
	views := make([]View, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	return views
}

func (c *RedisCache) DeleteViewOn(_ context.Context, messageID string) (View, bool) {
	c.ensureBound()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.views {
		if v.MessageID() == messageID || k == messageID {
			delete(c.views, k)
			return v, true
		}
	}
	return nil, false
}

func (c *RedisCache) StoreModal(_ context.Context, modal Modal) {
	c.ensureBound()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modals[modal.CustomID()] = modal
}

func (c *RedisCache) Modals(_ context.Context) []Modal {
	c.ensureBound()
	c.mu.RLock()
	defer c.mu.RUnlock()
	modals := make([]Modal, 0, len(c.modals))
	for _, m := range c.modals {
		modals = append(modals, m)
	}
	return modals
}

func (c *RedisCache) DeleteModal(_ context.Context, customID string) {
	c.ensureBound()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modals, customID)
}

// Clear deletes every key under the embercord prefix.
func (c *RedisCache) Clear(ctx context.Context, preserveViews bool) {
	c.ensureBound()
	var keys []string
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.warn("scan for clear", err)
		return
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			c.warn("clear", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !preserveViews {
		c.views = make(map[string]View)
	}
	c.modals = make(map[string]Modal)
}

func (c *RedisCache) Stats(ctx context.Context) Stats {
	c.ensureBound()
	c.mu.RLock()
	views, modals := len(c.views), len(c.modals)
	c.mu.RUnlock()

	stats := Stats{Views: views, Modals: modals}
	stats.Users = c.hashLen(ctx, key("users"))
	stats.Guilds = c.hashLen(ctx, key("guilds"))
	stats.Sounds = c.hashLen(ctx, key("sounds"))
	stats.Members = c.hashLenByPattern(ctx, key("members", "*"))
	stats.Emojis = c.hashLenByPattern(ctx, key("emojis", "*"))
	stats.Stickers = c.hashLenByPattern(ctx, key("stickers", "*"))
	if n, err := c.rdb.LLen(ctx, key("messages")).Result(); err == nil {
		stats.Messages = int(n)
	}
	if n, err := c.rdb.ZCard(ctx, key("dm", "order")).Result(); err == nil {
		stats.PrivateChannels = int(n)
	}
	return stats
}

func (c *RedisCache) hashLen(ctx context.Context, hashKey string) int {
	n, err := c.rdb.HLen(ctx, hashKey).Result()
	if err != nil {
		c.warn("size "+hashKey, err)
		return 0
	}
	return int(n)
}

func (c *RedisCache) hashLenByPattern(ctx context.Context, pattern string) int {
	total := 0
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		total += c.hashLen(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.warn("scan "+pattern, err)
	}
	return total
}

var _ Cache = (*RedisCache)(nil)
