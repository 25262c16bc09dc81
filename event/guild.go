package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// GuildJoin fires when the client joins a new guild, or for every guild the
// client was already in that becomes available after startup chunking.
type GuildJoin struct {
	Guild *discordgo.Guild
}

func (GuildJoin) EventName() string { return "GUILD_JOIN" }

// GuildAvailable fires when a previously unavailable guild comes back.
type GuildAvailable struct {
	Guild *discordgo.Guild
}

func (GuildAvailable) EventName() string { return "GUILD_AVAILABLE" }

// GuildUnavailable fires when a guild drops to unavailable without the
// client leaving it.
type GuildUnavailable struct {
	Guild *discordgo.Guild
}

func (GuildUnavailable) EventName() string { return "GUILD_UNAVAILABLE" }

// GuildUpdate carries the previous cached snapshot alongside the update.
type GuildUpdate struct {
	Old   *discordgo.Guild
	Guild *discordgo.Guild
}

func (GuildUpdate) EventName() string { return "GUILD_UPDATE" }

// GuildDelete fires when the client leaves or is removed from a guild.
type GuildDelete struct {
	Guild *discordgo.Guild
}

func (GuildDelete) EventName() string { return "GUILD_DELETE" }

// GuildEmojisUpdate carries the previous emoji list alongside the new one.
type GuildEmojisUpdate struct {
	GuildID string
	Old     []*discordgo.Emoji
	Emojis  []*discordgo.Emoji
}

func (GuildEmojisUpdate) EventName() string { return "GUILD_EMOJIS_UPDATE" }

// GuildStickersUpdate carries the previous sticker list alongside the new
// one.
type GuildStickersUpdate struct {
	GuildID  string
	Old      []*discordgo.Sticker
	Stickers []*discordgo.Sticker
}

func (GuildStickersUpdate) EventName() string { return "GUILD_STICKERS_UPDATE" }

// guildCreateType routes GUILD_CREATE into the connection state, which
// either queues the guild for the ready machine or emits join/available
// itself. User code never sees the raw create.
func guildCreateType() Type {
	return Type{
		Name: "GUILD_CREATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var guild discordgo.Guild
			if err := json.Unmarshal(raw, &guild); err != nil {
				return nil, err
			}
			s.HandleGuildCreate(ctx, &guild)
			return nil, nil
		},
	}
}

func guildUpdateType() Type {
	return Type{
		Name: "GUILD_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var guild discordgo.Guild
			if err := json.Unmarshal(raw, &guild); err != nil {
				return nil, err
			}
			old, ok := s.Cache().Guild(ctx, guild.ID)
			if !ok {
				return nil, nil
			}
			s.Cache().AddGuild(ctx, &guild)
			return GuildUpdate{Old: old, Guild: &guild}, nil
		},
	}
}

func guildDeleteType() Type {
	return Type{
		Name: "GUILD_DELETE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload discordgo.Guild
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			guild, ok := s.Cache().Guild(ctx, payload.ID)
			if !ok {
				return nil, nil
			}
			if payload.Unavailable {
				// An outage, not a removal: keep the guild cached but
				// flagged so accessors can tell.
				guild.Unavailable = true
				s.Cache().AddGuild(ctx, guild)
				return GuildUnavailable{Guild: guild}, nil
			}
			s.Cache().DeleteGuild(ctx, payload.ID)
			s.Cache().DeleteGuildMembers(ctx, payload.ID)
			s.Cache().DeleteGuildStickers(ctx, payload.ID)
			return GuildDelete{Guild: guild}, nil
		},
	}
}

func guildEmojisUpdateType() Type {
	return Type{
		Name: "GUILD_EMOJIS_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload struct {
				GuildID string            `json:"guild_id"`
				Emojis  []*discordgo.Emoji `json:"emojis"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			guild, ok := s.Cache().Guild(ctx, payload.GuildID)
			if !ok {
				return nil, nil
			}
			old := guild.Emojis
			guild.Emojis = payload.Emojis
			s.Cache().AddGuild(ctx, guild)

			current := make(map[string]bool, len(payload.Emojis))
			for _, e := range payload.Emojis {
				current[e.ID] = true
				s.Cache().StoreGuildEmoji(ctx, payload.GuildID, e)
			}
			for _, e := range old {
				if !current[e.ID] {
					s.Cache().DeleteEmoji(ctx, payload.GuildID, e.ID)
				}
			}
			return GuildEmojisUpdate{GuildID: payload.GuildID, Old: old, Emojis: payload.Emojis}, nil
		},
	}
}

func guildStickersUpdateType() Type {
	return Type{
		Name: "GUILD_STICKERS_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload struct {
				GuildID  string               `json:"guild_id"`
				Stickers []*discordgo.Sticker `json:"stickers"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			guild, ok := s.Cache().Guild(ctx, payload.GuildID)
			if !ok {
				return nil, nil
			}
			old := guild.Stickers
			guild.Stickers = payload.Stickers
			s.Cache().AddGuild(ctx, guild)

			s.Cache().DeleteGuildStickers(ctx, payload.GuildID)
			for _, st := range payload.Stickers {
				s.Cache().StoreSticker(ctx, payload.GuildID, st)
			}
			return GuildStickersUpdate{GuildID: payload.GuildID, Old: old, Stickers: payload.Stickers}, nil
		},
	}
}
