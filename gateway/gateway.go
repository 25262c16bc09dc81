// Package gateway abstracts the outbound side of the gateway transport. The
// wire protocol itself (websocket framing, heartbeats, identify) lives in
// the transport layer; state code only needs to send commands on an already
// established shard connection.
package gateway

import (
	"context"
	"strconv"
)

// Gateway sends outbound commands on one shard connection.
type Gateway interface {
	// RequestGuildMembers asks the gateway to stream member chunk pages for
	// a guild, correlated by nonce. An empty query with limit 0 requests
	// the full member list.
	RequestGuildMembers(ctx context.Context, guildID, query string, limit int, userIDs []string, presences bool, nonce string) error
}

// Provider resolves shard connections for state code that only knows guild
// IDs.
type Provider interface {
	// Shard returns the connection for a shard ID, or false while that
	// shard is not connected.
	Shard(shardID int) (Gateway, bool)

	// ShardCount is the total shard count of the topology.
	ShardCount() int
}

// ShardForGuild computes which shard serves a guild, using the documented
// (guildID >> 22) % shardCount mapping. Malformed IDs map to shard 0.
func ShardForGuild(guildID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0
	}
	return int((id >> 22) % uint64(shardCount))
}
