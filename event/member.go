package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// GuildMemberJoin fires when a member joins a guild the client is in.
type GuildMemberJoin struct {
	Member *discordgo.Member
}

func (GuildMemberJoin) EventName() string { return "GUILD_MEMBER_ADD" }

// GuildMemberRemove fires when a member leaves or is removed. Member is the
// cached snapshot when one existed, nil otherwise.
type GuildMemberRemove struct {
	GuildID string
	User    *discordgo.User
	Member  *discordgo.Member
}

func (GuildMemberRemove) EventName() string { return "GUILD_MEMBER_REMOVE" }

// GuildMemberUpdate carries the previous cached member alongside the
// update; Old is nil when the member was not cached.
type GuildMemberUpdate struct {
	Old    *discordgo.Member
	Member *discordgo.Member
}

func (GuildMemberUpdate) EventName() string { return "GUILD_MEMBER_UPDATE" }

func guildMemberAddType() Type {
	return Type{
		Name: "GUILD_MEMBER_ADD",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var member discordgo.Member
			if err := json.Unmarshal(raw, &member); err != nil {
				return nil, err
			}
			guild, ok := s.Cache().Guild(ctx, member.GuildID)
			if !ok {
				return nil, nil
			}
			guild.MemberCount++
			s.Cache().AddGuild(ctx, guild)
			if s.Flags().Joined() {
				s.StoreMember(ctx, &member)
			}
			return GuildMemberJoin{Member: &member}, nil
		},
	}
}

func guildMemberRemoveType() Type {
	return Type{
		Name: "GUILD_MEMBER_REMOVE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var payload discordgo.Member
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			guild, ok := s.Cache().Guild(ctx, payload.GuildID)
			if !ok {
				return nil, nil
			}
			if guild.MemberCount > 0 {
				guild.MemberCount--
			}
			s.Cache().AddGuild(ctx, guild)

			cached, _ := s.Cache().Member(ctx, payload.GuildID, payload.User.ID)
			s.Cache().DeleteMember(ctx, payload.GuildID, payload.User.ID)
			return GuildMemberRemove{
				GuildID: payload.GuildID,
				User:    payload.User,
				Member:  cached,
			}, nil
		},
	}
}

func guildMemberUpdateType() Type {
	return Type{
		Name: "GUILD_MEMBER_UPDATE",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var member discordgo.Member
			if err := json.Unmarshal(raw, &member); err != nil {
				return nil, err
			}
			if _, ok := s.Cache().Guild(ctx, member.GuildID); !ok {
				return nil, nil
			}
			old, _ := s.Cache().Member(ctx, member.GuildID, member.User.ID)
			if old != nil || s.Flags().Joined() {
				s.StoreMember(ctx, &member)
			}
			return GuildMemberUpdate{Old: old, Member: &member}, nil
		},
	}
}

// guildMembersChunkType feeds chunk pages into the chunk correlation
// engine. Chunk pages never reach user code directly; callers observe them
// through ChunkGuild and QueryMembers results.
func guildMembersChunkType() Type {
	return Type{
		Name: "GUILD_MEMBERS_CHUNK",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var chunk discordgo.GuildMembersChunk
			if err := json.Unmarshal(raw, &chunk); err != nil {
				return nil, err
			}
			s.HandleMembersChunk(ctx, &chunk)
			return nil, nil
		},
	}
}
