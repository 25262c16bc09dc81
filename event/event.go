// Package event implements the typed publish/subscribe pipeline between the
// raw gateway frame stream and application code. Raw event names map to one
// or more registered Types; each Type's loader turns the payload into a
// typed Event, consulting and mutating entity state on the way. Loaders that
// cannot resolve their payload discard it instead of erroring, because
// gateway delivery order relative to local state is not guaranteed.
package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"

	"github.com/embercord/embercord/cache"
	"github.com/embercord/embercord/config"
)

// Event is a single-dispatch typed notification handed to receivers.
type Event interface {
	// EventName is the raw gateway name the event corresponds to.
	EventName() string
}

// Type binds a raw gateway event name to a loader. Multiple Types may share
// one name; internal routing types return (nil, nil) so the raw event feeds
// the state machinery without reaching user code.
type Type struct {
	Name string

	// Load builds the typed event from the raw payload. Returning (nil, nil)
	// discards the payload silently.
	Load func(ctx context.Context, raw json.RawMessage, s State) (Event, error)
}

// State is the surface loaders need from the owning connection state. It is
// implemented by state.ConnectionState; keeping it here breaks the import
// cycle between the two packages.
type State interface {
	// Cache returns the bound entity store.
	Cache() cache.Cache

	// Flags is the effective member cache policy.
	Flags() config.MemberCacheFlags

	// SelfID is the connected user's ID, or empty before READY.
	SelfID() string

	// StoreUser upserts a user honoring the member cache policy: with
	// member caching meaningfully disabled it is a pass-through.
	StoreUser(ctx context.Context, user *discordgo.User) *discordgo.User

	// StoreMember upserts a guild member when the policy allows it.
	StoreMember(ctx context.Context, member *discordgo.Member)

	// HandleReady feeds a READY payload into the sharded ready machine.
	HandleReady(ctx context.Context, ready *discordgo.Ready)

	// HandleGuildCreate routes a GUILD_CREATE either into the ready machine
	// or out as a join/available event, depending on launch phase.
	HandleGuildCreate(ctx context.Context, guild *discordgo.Guild)

	// HandleMembersChunk correlates a GUILD_MEMBERS_CHUNK page with its
	// outstanding chunk request.
	HandleMembersChunk(ctx context.Context, chunk *discordgo.GuildMembersChunk)
}

// DefaultTypes is the wire event set a connection state registers at
// construction.
func DefaultTypes() []Type {
	return []Type{
		readyType(),
		resumedType(),
		guildCreateType(),
		guildUpdateType(),
		guildDeleteType(),
		guildEmojisUpdateType(),
		guildStickersUpdateType(),
		guildMemberAddType(),
		guildMemberRemoveType(),
		guildMemberUpdateType(),
		guildMembersChunkType(),
		messageCreateType(),
		messageUpdateType(),
		messageDeleteType(),
		messageDeleteBulkType(),
		reactionAddType(),
		reactionRemoveType(),
		channelCreateType(),
		channelUpdateType(),
		channelDeleteType(),
		userUpdateType(),
	}
}
