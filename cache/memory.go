package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MemoryCache is the default in-process Cache. All state is rebuilt from the
// gateway on reconnect; nothing is persisted.
type MemoryCache struct {
	mu          sync.RWMutex
	bound       bool
	maxMessages int

	users    map[string]*discordgo.User
	guilds   map[string]*discordgo.Guild
	members  map[string]map[string]*discordgo.Member
	messages []*discordgo.Message

	privateChannels map[string]*list.Element
	privateOrder    *list.List // front = most recently used
	dmByUser        map[string]*discordgo.Channel

	emojis   map[string][]*discordgo.Emoji
	stickers map[string][]*discordgo.Sticker
	sounds   map[string]*SoundboardSound

	views  map[string]View
	modals map[string]Modal
}

// NewMemoryCache creates an in-memory cache holding at most maxMessages
// messages. Values <= 0 disable the message bound.
func NewMemoryCache(maxMessages int) *MemoryCache {
	c := &MemoryCache{maxMessages: maxMessages}
	c.reset(false)
	return c
}

// Bind marks the cache as owned by a connection state. Every other method
// panics until Bind has been called; using an unowned cache is a bug in the
// embedding application, not a runtime condition.
func (c *MemoryCache) Bind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = true
}

func (c *MemoryCache) ensureBound() {
	if !c.bound {
		panic("cache: used before being bound to a connection state")
	}
}

// reset reinitializes every sub-map. Callers hold the write lock, except the
// constructor.
func (c *MemoryCache) reset(preserveViews bool) {
	c.users = make(map[string]*discordgo.User)
	c.guilds = make(map[string]*discordgo.Guild)
	c.members = make(map[string]map[string]*discordgo.Member)
	c.messages = nil
	c.privateChannels = make(map[string]*list.Element)
	c.privateOrder = list.New()
	c.dmByUser = make(map[string]*discordgo.Channel)
	c.emojis = make(map[string][]*discordgo.Emoji)
	c.stickers = make(map[string][]*discordgo.Sticker)
	c.sounds = make(map[string]*SoundboardSound)
	if !preserveViews {
		c.views = make(map[string]View)
	} else if c.views == nil {
		c.views = make(map[string]View)
	}
	c.modals = make(map[string]Modal)
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context, preserveViews bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	c.reset(preserveViews)
}

// users

func (c *MemoryCache) Users(_ context.Context) []*discordgo.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	users := make([]*discordgo.User, 0, len(c.users))
	for _, u := range c.users {
		users = append(users, u)
	}
	return users
}

func (c *MemoryCache) StoreUser(_ context.Context, user *discordgo.User) *discordgo.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	if existing, ok := c.users[user.ID]; ok {
		return existing
	}
	// Users still carrying the legacy discriminator are pre-migration
	// duplicates; hand them back without caching.
	if user.Discriminator != "0000" {
		c.users[user.ID] = user
	}
	return user
}

func (c *MemoryCache) User(_ context.Context, userID string) (*discordgo.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	u, ok := c.users[userID]
	return u, ok
}

func (c *MemoryCache) DeleteUser(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.users, userID)
}

// guilds

func (c *MemoryCache) Guilds(_ context.Context) []*discordgo.Guild {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	guilds := make([]*discordgo.Guild, 0, len(c.guilds))
	for _, g := range c.guilds {
		guilds = append(guilds, g)
	}
	return guilds
}

func (c *MemoryCache) Guild(_ context.Context, guildID string) (*discordgo.Guild, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	g, ok := c.guilds[guildID]
	return g, ok
}

func (c *MemoryCache) AddGuild(_ context.Context, guild *discordgo.Guild) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	c.guilds[guild.ID] = guild
}

func (c *MemoryCache) DeleteGuild(_ context.Context, guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.guilds, guildID)
}

// guild members

func (c *MemoryCache) StoreMember(_ context.Context, member *discordgo.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	guild := c.members[member.GuildID]
	if guild == nil {
		guild = make(map[string]*discordgo.Member)
		c.members[member.GuildID] = guild
	}
	guild[member.User.ID] = member
}

func (c *MemoryCache) Member(_ context.Context, guildID, userID string) (*discordgo.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	m, ok := c.members[guildID][userID]
	return m, ok
}

func (c *MemoryCache) DeleteMember(_ context.Context, guildID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.members[guildID], userID)
}

func (c *MemoryCache) DeleteGuildMembers(_ context.Context, guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.members, guildID)
}

func (c *MemoryCache) GuildMembers(_ context.Context, guildID string) []*discordgo.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	members := make([]*discordgo.Member, 0, len(c.members[guildID]))
	for _, m := range c.members[guildID] {
		members = append(members, m)
	}
	return members
}

func (c *MemoryCache) Members(_ context.Context) []*discordgo.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	var members []*discordgo.Member
	for _, guild := range c.members {
		for _, m := range guild {
			members = append(members, m)
		}
	}
	return members
}

// messages

func (c *MemoryCache) StoreMessage(_ context.Context, message *discordgo.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	// Recent messages are the likely duplicates, so scan from the tail.
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == message.ID {
			c.messages[i] = message
			return
		}
	}
	c.messages = append(c.messages, message)
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		overflow := len(c.messages) - c.maxMessages
		c.messages = append([]*discordgo.Message(nil), c.messages[overflow:]...)
	}
}

func (c *MemoryCache) Message(_ context.Context, messageID string) (*discordgo.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			return c.messages[i], true
		}
	}
	return nil, false
}

func (c *MemoryCache) DeleteMessage(_ context.Context, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

func (c *MemoryCache) Messages(_ context.Context) []*discordgo.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	return append([]*discordgo.Message(nil), c.messages...)
}

// private channels

func (c *MemoryCache) PrivateChannels(_ context.Context) []*discordgo.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	channels := make([]*discordgo.Channel, 0, c.privateOrder.Len())
	for e := c.privateOrder.Front(); e != nil; e = e.Next() {
		channels = append(channels, e.Value.(*discordgo.Channel))
	}
	return channels
}

func (c *MemoryCache) PrivateChannel(_ context.Context, channelID string) (*discordgo.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	elem, ok := c.privateChannels[channelID]
	if !ok {
		return nil, false
	}
	// A hit refreshes recency.
	c.privateOrder.MoveToFront(elem)
	return elem.Value.(*discordgo.Channel), true
}

func (c *MemoryCache) PrivateChannelByUser(_ context.Context, userID string) (*discordgo.Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	ch, ok := c.dmByUser[userID]
	return ch, ok
}

func (c *MemoryCache) StorePrivateChannel(_ context.Context, channel *discordgo.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	if elem, ok := c.privateChannels[channel.ID]; ok {
		elem.Value = channel
		c.privateOrder.MoveToFront(elem)
	} else {
		c.privateChannels[channel.ID] = c.privateOrder.PushFront(channel)
	}

	if c.privateOrder.Len() > maxPrivateChannels {
		oldest := c.privateOrder.Back()
		evicted := oldest.Value.(*discordgo.Channel)
		c.privateOrder.Remove(oldest)
		delete(c.privateChannels, evicted.ID)
		if recipient := dmRecipient(evicted); recipient != nil {
			delete(c.dmByUser, recipient.ID)
		}
	}

	if recipient := dmRecipient(channel); recipient != nil {
		c.dmByUser[recipient.ID] = channel
	}
}

// dmRecipient returns the counterpart user of a direct-message channel, or
// nil for group DMs and non-DM channels.
func dmRecipient(channel *discordgo.Channel) *discordgo.User {
	if channel.Type != discordgo.ChannelTypeDM || len(channel.Recipients) == 0 {
		return nil
	}
	return channel.Recipients[0]
}

// emojis

func (c *MemoryCache) StoreGuildEmoji(ctx context.Context, guildID string, emoji *discordgo.Emoji) {
	c.storeEmoji(guildID, emoji)
}

func (c *MemoryCache) StoreAppEmoji(ctx context.Context, applicationID string, emoji *discordgo.Emoji) {
	c.storeEmoji(applicationID, emoji)
}

func (c *MemoryCache) storeEmoji(ownerID string, emoji *discordgo.Emoji) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	for i, existing := range c.emojis[ownerID] {
		if existing.ID == emoji.ID {
			c.emojis[ownerID][i] = emoji
			return
		}
	}
	c.emojis[ownerID] = append(c.emojis[ownerID], emoji)
}

func (c *MemoryCache) Emoji(_ context.Context, emojiID string) (*discordgo.Emoji, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	for _, owner := range c.emojis {
		for _, e := range owner {
			if e.ID == emojiID {
				return e, true
			}
		}
	}
	return nil, false
}

func (c *MemoryCache) Emojis(_ context.Context) []*discordgo.Emoji {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	var emojis []*discordgo.Emoji
	for _, owner := range c.emojis {
		emojis = append(emojis, owner...)
	}
	return emojis
}

func (c *MemoryCache) DeleteEmoji(_ context.Context, ownerID, emojiID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	owned := c.emojis[ownerID]
	for i, e := range owned {
		if e.ID == emojiID {
			c.emojis[ownerID] = append(owned[:i], owned[i+1:]...)
			return
		}
	}
}

// stickers

func (c *MemoryCache) StoreSticker(_ context.Context, guildID string, sticker *discordgo.Sticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	for i, existing := range c.stickers[guildID] {
		if existing.ID == sticker.ID {
			c.stickers[guildID][i] = sticker
			return
		}
	}
	c.stickers[guildID] = append(c.stickers[guildID], sticker)
}

func (c *MemoryCache) Sticker(_ context.Context, stickerID string) (*discordgo.Sticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	for _, guild := range c.stickers {
		for _, s := range guild {
			if s.ID == stickerID {
				return s, true
			}
		}
	}
	return nil, false
}

func (c *MemoryCache) Stickers(_ context.Context) []*discordgo.Sticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	var stickers []*discordgo.Sticker
	for _, guild := range c.stickers {
		stickers = append(stickers, guild...)
	}
	return stickers
}

func (c *MemoryCache) DeleteGuildStickers(_ context.Context, guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.stickers, guildID)
}

// soundboard sounds

func (c *MemoryCache) StoreSound(_ context.Context, sound *SoundboardSound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	c.sounds[sound.SoundID] = sound
}

func (c *MemoryCache) Sound(_ context.Context, soundID string) (*SoundboardSound, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	s, ok := c.sounds[soundID]
	return s, ok
}

func (c *MemoryCache) Sounds(_ context.Context) []*SoundboardSound {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	sounds := make([]*SoundboardSound, 0, len(c.sounds))
	for _, s := range c.sounds {
		sounds = append(sounds, s)
	}
	return sounds
}

func (c *MemoryCache) DeleteSound(_ context.Context, soundID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.sounds, soundID)
}

// persistent UI components

func (c *MemoryCache) StoreView(_ context.Context, view View, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	key := messageID
	if key == "" {
		key = view.ID()
	}
	c.views[key] = view
}

func (c *MemoryCache) Views(_ context.Context) []View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	views := make([]View, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	return views
}

func (c *MemoryCache) DeleteViewOn(_ context.Context, messageID string) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	for key, v := range c.views {
		if v.MessageID() == messageID || key == messageID {
			delete(c.views, key)
			return v, true
		}
	}
	return nil, false
}

func (c *MemoryCache) StoreModal(_ context.Context, modal Modal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	c.modals[modal.CustomID()] = modal
}

func (c *MemoryCache) Modals(_ context.Context) []Modal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	modals := make([]Modal, 0, len(c.modals))
	for _, m := range c.modals {
		modals = append(modals, m)
	}
	return modals
}

func (c *MemoryCache) DeleteModal(_ context.Context, customID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureBound()
	delete(c.modals, customID)
}

// Stats implements Cache.
func (c *MemoryCache) Stats(_ context.Context) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.ensureBound()
	stats := Stats{
		Users:           len(c.users),
		Guilds:          len(c.guilds),
		Messages:        len(c.messages),
		PrivateChannels: len(c.privateChannels),
		Sounds:          len(c.sounds),
		Views:           len(c.views),
		Modals:          len(c.modals),
	}
	for _, guild := range c.members {
		stats.Members += len(guild)
	}
	for _, owner := range c.emojis {
		stats.Emojis += len(owner)
	}
	for _, guild := range c.stickers {
		stats.Stickers += len(guild)
	}
	return stats
}

var _ Cache = (*MemoryCache)(nil)
