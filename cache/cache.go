// Package cache defines the pluggable entity store backing a connection
// state, with an in-memory default and a Redis-backed alternative.
//
// Reads never fail for "not found": they return the entity and a boolean.
// Writes are idempotent upserts keyed by entity ID. Implementations must be
// safe for concurrent readers; writes only ever come from the single event
// dispatch goroutine of the owning state.
package cache

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// View is a persistent UI component registered for rehydration across
// gateway reconnects. Implementations live in the application layer.
type View interface {
	// ID is the component's custom identifier.
	ID() string
	// MessageID is the message the view is attached to, or empty.
	MessageID() string
	// IsPersistent reports whether the view survives a cache clear.
	IsPersistent() bool
}

// Modal is a registered modal component, keyed by its custom ID.
type Modal interface {
	CustomID() string
}

// SoundboardSound is one soundboard entry, built-in or guild-owned.
// discordgo does not model soundboard payloads, so the cache carries its
// own struct matching the wire shape.
type SoundboardSound struct {
	SoundID   string          `json:"sound_id"`
	Name      string          `json:"name"`
	Volume    float64         `json:"volume"`
	EmojiID   string          `json:"emoji_id,omitempty"`
	EmojiName string          `json:"emoji_name,omitempty"`
	GuildID   string          `json:"guild_id,omitempty"`
	Available bool            `json:"available"`
	User      *discordgo.User `json:"user,omitempty"`
}

// Stats is a point-in-time size report used by health snapshots.
type Stats struct {
	Users           int `json:"users"`
	Guilds          int `json:"guilds"`
	Members         int `json:"members"`
	Messages        int `json:"messages"`
	PrivateChannels int `json:"private_channels"`
	Emojis          int `json:"emojis"`
	Stickers        int `json:"stickers"`
	Sounds          int `json:"sounds"`
	Views           int `json:"views"`
	Modals          int `json:"modals"`
}

// Cache is the entity store contract the connection state fronts.
//
// Bind must be called exactly once by the owning state before any other
// method; accessing an unbound cache is a programming fault and panics.
type Cache interface {
	Bind()

	// users
	Users(ctx context.Context) []*discordgo.User
	// StoreUser upserts a user payload and returns the canonical entry. An
	// already-stored user wins over the incoming payload; users still on the
	// legacy "0000" discriminator are returned but never stored.
	StoreUser(ctx context.Context, user *discordgo.User) *discordgo.User
	User(ctx context.Context, userID string) (*discordgo.User, bool)
	DeleteUser(ctx context.Context, userID string)

	// guilds
	Guilds(ctx context.Context) []*discordgo.Guild
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, bool)
	AddGuild(ctx context.Context, guild *discordgo.Guild)
	DeleteGuild(ctx context.Context, guildID string)

	// guild members
	StoreMember(ctx context.Context, member *discordgo.Member)
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, bool)
	DeleteMember(ctx context.Context, guildID, userID string)
	DeleteGuildMembers(ctx context.Context, guildID string)
	GuildMembers(ctx context.Context, guildID string) []*discordgo.Member
	Members(ctx context.Context) []*discordgo.Member

	// messages
	StoreMessage(ctx context.Context, message *discordgo.Message)
	Message(ctx context.Context, messageID string) (*discordgo.Message, bool)
	DeleteMessage(ctx context.Context, messageID string)
	Messages(ctx context.Context) []*discordgo.Message

	// private channels
	PrivateChannels(ctx context.Context) []*discordgo.Channel
	PrivateChannel(ctx context.Context, channelID string) (*discordgo.Channel, bool)
	PrivateChannelByUser(ctx context.Context, userID string) (*discordgo.Channel, bool)
	StorePrivateChannel(ctx context.Context, channel *discordgo.Channel)

	// emojis, keyed by owner (guild ID or application ID)
	StoreGuildEmoji(ctx context.Context, guildID string, emoji *discordgo.Emoji)
	StoreAppEmoji(ctx context.Context, applicationID string, emoji *discordgo.Emoji)
	Emoji(ctx context.Context, emojiID string) (*discordgo.Emoji, bool)
	Emojis(ctx context.Context) []*discordgo.Emoji
	DeleteEmoji(ctx context.Context, ownerID, emojiID string)

	// stickers
	StoreSticker(ctx context.Context, guildID string, sticker *discordgo.Sticker)
	Sticker(ctx context.Context, stickerID string) (*discordgo.Sticker, bool)
	Stickers(ctx context.Context) []*discordgo.Sticker
	DeleteGuildStickers(ctx context.Context, guildID string)

	// soundboard sounds
	StoreSound(ctx context.Context, sound *SoundboardSound)
	Sound(ctx context.Context, soundID string) (*SoundboardSound, bool)
	Sounds(ctx context.Context) []*SoundboardSound
	DeleteSound(ctx context.Context, soundID string)

	// persistent UI components
	StoreView(ctx context.Context, view View, messageID string)
	Views(ctx context.Context) []View
	DeleteViewOn(ctx context.Context, messageID string) (View, bool)
	StoreModal(ctx context.Context, modal Modal)
	Modals(ctx context.Context) []Modal
	DeleteModal(ctx context.Context, customID string)

	// Clear resets every sub-map. With preserveViews the view registry
	// survives, so persistent components outlive a reconnect.
	Clear(ctx context.Context, preserveViews bool)

	Stats(ctx context.Context) Stats
}

// maxPrivateChannels bounds the private channel LRU, matching the gateway's
// own DM channel cache behavior.
const maxPrivateChannels = 128
