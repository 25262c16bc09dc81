package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// MessageCreate fires for every new message visible to the client.
type MessageCreate struct {
	Message *discordgo.Message
}

func (MessageCreate) EventName() string { return "MESSAGE_CREATE" }

// MessageUpdate carries the previous cached snapshot when one existed.
// Gateway edit payloads can be partial, so Message may lack fields the
// original carried; IsCached tells receivers whether Old is meaningful.
type MessageUpdate struct {
	Old      *discordgo.Message
	Message  *discordgo.Message
	IsCached bool
}

func (MessageUpdate) EventName() string { return "MESSAGE_UPDATE" }

// MessageDelete fires for every deletion; Message is the cached snapshot
// when one existed.
type MessageDelete struct {
	ID        string
	ChannelID string
	GuildID   string
	Message   *discordgo.Message
	IsCached  bool
}

func (MessageDelete) EventName() string { return "MESSAGE_DELETE" }

// MessageDeleteBulk fires for bulk deletions; Messages holds whichever of
// the deleted messages were cached.
type MessageDeleteBulk struct {
	IDs       []string
	ChannelID string
	GuildID   string
	Messages  []*discordgo.Message
}

func (MessageDeleteBulk) EventName() string { return "MESSAGE_DELETE_BULK" }

// ReactionAdd fires when a reaction is added to any message.
type ReactionAdd struct {
	Reaction *discordgo.MessageReaction
	Message  *discordgo.Message
}

func (ReactionAdd) EventName() string { return "MESSAGE_REACTION_ADD" }

// ReactionRemove fires when a reaction is removed.
type ReactionRemove struct {
	Reaction *discordgo.MessageReaction
	Message  *discordgo.Message
}

func (ReactionRemove) EventName() string { return "MESSAGE_REACTION_REMOVE" }

func messageCreateType() Type {
	return Type{
		Name: "MESSAGE_CREATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var message discordgo.Message
			if err := json.Unmarshal(raw, &message); err != nil {
				return nil, err
			}
			if message.Author != nil && message.WebhookID == "" {
				message.Author = s.StoreUser(ctx, message.Author)
			}
			s.Cache().StoreMessage(ctx, &message)
			return MessageCreate{Message: &message}, nil
		},
	}
}

func messageUpdateType() Type {
	return Type{
		Name: "MESSAGE_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var message discordgo.Message
			if err := json.Unmarshal(raw, &message); err != nil {
				return nil, err
			}
			old, cached := s.Cache().Message(ctx, message.ID)
			if cached {
				// Only cached messages are refreshed; edits to messages we
				// never saw stay uncached because the payload is partial.
				s.Cache().StoreMessage(ctx, &message)
			}
			return MessageUpdate{Old: old, Message: &message, IsCached: cached}, nil
		},
	}
}

func messageDeleteType() Type {
	return Type{
		Name: "MESSAGE_DELETE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload struct {
				ID        string `json:"id"`
				ChannelID string `json:"channel_id"`
				GuildID   string `json:"guild_id"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			cached, ok := s.Cache().Message(ctx, payload.ID)
			if ok {
				s.Cache().DeleteMessage(ctx, payload.ID)
			}
			return MessageDelete{
				ID:        payload.ID,
				ChannelID: payload.ChannelID,
				GuildID:   payload.GuildID,
				Message:   cached,
				IsCached:  ok,
			}, nil
		},
	}
}

func messageDeleteBulkType() Type {
	return Type{
		Name: "MESSAGE_DELETE_BULK",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload struct {
				IDs       []string `json:"ids"`
				ChannelID string   `json:"channel_id"`
				GuildID   string   `json:"guild_id"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			ev := MessageDeleteBulk{
				IDs:       payload.IDs,
				ChannelID: payload.ChannelID,
				GuildID:   payload.GuildID,
			}
			for _, id := range payload.IDs {
				if cached, ok := s.Cache().Message(ctx, id); ok {
					ev.Messages = append(ev.Messages, cached)
					s.Cache().DeleteMessage(ctx, id)
				}
			}
			return ev, nil
		},
	}
}

func reactionAddType() Type {
	return Type{
		Name: "MESSAGE_REACTION_ADD",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload struct {
				discordgo.MessageReaction
				Member *discordgo.Member `json:"member"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			reaction := payload.MessageReaction
			message, ok := s.Cache().Message(ctx, reaction.MessageID)
			if ok {
				addReaction(message, &reaction, reaction.UserID == s.SelfID())
				s.Cache().StoreMessage(ctx, message)
			}
			if payload.Member != nil && s.Flags().Interaction() {
				member := payload.Member
				if member.GuildID == "" {
					member.GuildID = reaction.GuildID
				}
				s.StoreMember(ctx, member)
			}
			return ReactionAdd{Reaction: &reaction, Message: message}, nil
		},
	}
}

func reactionRemoveType() Type {
	return Type{
		Name: "MESSAGE_REACTION_REMOVE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var reaction discordgo.MessageReaction
			if err := json.Unmarshal(raw, &reaction); err != nil {
				return nil, err
			}
			message, ok := s.Cache().Message(ctx, reaction.MessageID)
			if ok {
				// The gateway and REST views are not linearizable: removing
				// a reaction we never recorded is a race, not an error.
				removeReaction(message, &reaction, reaction.UserID == s.SelfID())
				s.Cache().StoreMessage(ctx, message)
			}
			return ReactionRemove{Reaction: &reaction, Message: message}, nil
		},
	}
}

func sameEmoji(a, b *discordgo.Emoji) bool {
	if a.ID != "" || b.ID != "" {
		return a.ID == b.ID
	}
	return a.Name == b.Name
}

func addReaction(message *discordgo.Message, reaction *discordgo.MessageReaction, me bool) {
	for _, r := range message.Reactions {
		if sameEmoji(r.Emoji, &reaction.Emoji) {
			r.Count++
			r.Me = r.Me || me
			return
		}
	}
	emoji := reaction.Emoji
	message.Reactions = append(message.Reactions, &discordgo.MessageReactions{
		Count: 1,
		Me:    me,
		Emoji: &emoji,
	})
}

func removeReaction(message *discordgo.Message, reaction *discordgo.MessageReaction, me bool) {
	for i, r := range message.Reactions {
		if !sameEmoji(r.Emoji, &reaction.Emoji) {
			continue
		}
		r.Count--
		if me {
			r.Me = false
		}
		if r.Count <= 0 {
			message.Reactions = append(message.Reactions[:i], message.Reactions[i+1:]...)
		}
		return
	}
}
