package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// ChannelCreate fires for new guild channels and freshly opened DMs.
type ChannelCreate struct {
	Channel *discordgo.Channel
}

func (ChannelCreate) EventName() string { return "CHANNEL_CREATE" }

// ChannelUpdate carries the previous cached snapshot when one existed.
type ChannelUpdate struct {
	Old     *discordgo.Channel
	Channel *discordgo.Channel
}

func (ChannelUpdate) EventName() string { return "CHANNEL_UPDATE" }

// ChannelDelete fires when a channel is deleted or a DM is closed.
type ChannelDelete struct {
	Channel *discordgo.Channel
}

func (ChannelDelete) EventName() string { return "CHANNEL_DELETE" }

func isPrivate(channel *discordgo.Channel) bool {
	return channel.Type == discordgo.ChannelTypeDM || channel.Type == discordgo.ChannelTypeGroupDM
}

// storeGuildChannel replaces the channel entry on its cached guild, or
// appends it when new. Returns the previous entry and whether the guild was
// known at all.
func storeGuildChannel(ctx context.Context, s State, channel *discordgo.Channel) (*discordgo.Channel, bool) {
	guild, ok := s.Cache().Guild(ctx, channel.GuildID)
	if !ok {
		return nil, false
	}
	for i, existing := range guild.Channels {
		if existing.ID == channel.ID {
			guild.Channels[i] = channel
			s.Cache().AddGuild(ctx, guild)
			return existing, true
		}
	}
	guild.Channels = append(guild.Channels, channel)
	s.Cache().AddGuild(ctx, guild)
	return nil, true
}

func channelCreateType() Type {
	return Type{
		Name: "CHANNEL_CREATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var channel discordgo.Channel
			if err := json.Unmarshal(raw, &channel); err != nil {
				return nil, err
			}
			if isPrivate(&channel) {
				s.Cache().StorePrivateChannel(ctx, &channel)
				return ChannelCreate{Channel: &channel}, nil
			}
			if _, ok := storeGuildChannel(ctx, s, &channel); !ok {
				return nil, nil
			}
			return ChannelCreate{Channel: &channel}, nil
		},
	}
}

func channelUpdateType() Type {
	return Type{
		Name: "CHANNEL_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var channel discordgo.Channel
			if err := json.Unmarshal(raw, &channel); err != nil {
				return nil, err
			}
			if isPrivate(&channel) {
				old, _ := s.Cache().PrivateChannel(ctx, channel.ID)
				s.Cache().StorePrivateChannel(ctx, &channel)
				return ChannelUpdate{Old: old, Channel: &channel}, nil
			}
			old, ok := storeGuildChannel(ctx, s, &channel)
			if !ok {
				return nil, nil
			}
			return ChannelUpdate{Old: old, Channel: &channel}, nil
		},
	}
}

func channelDeleteType() Type {
	return Type{
		Name: "CHANNEL_DELETE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var channel discordgo.Channel
			if err := json.Unmarshal(raw, &channel); err != nil {
				return nil, err
			}
			if isPrivate(&channel) {
				// The LRU drops closed DMs on its own; nothing to unlink
				// eagerly.
				return ChannelDelete{Channel: &channel}, nil
			}
			guild, ok := s.Cache().Guild(ctx, channel.GuildID)
			if !ok {
				return nil, nil
			}
			for i, existing := range guild.Channels {
				if existing.ID == channel.ID {
					guild.Channels = append(guild.Channels[:i], guild.Channels[i+1:]...)
					break
				}
			}
			s.Cache().AddGuild(ctx, guild)
			return ChannelDelete{Channel: &channel}, nil
		},
	}
}
