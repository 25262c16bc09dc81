package event

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// Connect fires when a shard's gateway connection opens. It is dispatched
// by the transport, not loaded from a frame.
type Connect struct {
	ShardID int
}

func (Connect) EventName() string { return "CONNECT" }

// Disconnect fires when a shard's gateway connection closes.
type Disconnect struct {
	ShardID int
}

func (Disconnect) EventName() string { return "DISCONNECT" }

// Resumed fires when a shard resumes a previous session.
type Resumed struct {
	ShardID int
}

func (Resumed) EventName() string { return "RESUMED" }

func resumedType() Type {
	return Type{
		Name: "RESUMED",
		Load: func(_ context.Context, _ json.RawMessage, _ State) (Event, error) {
			return Resumed{}, nil
		},
	}
}

// ShardReady fires once a single shard's guild stream has settled.
type ShardReady struct {
	ShardID int
}

func (ShardReady) EventName() string { return "SHARD_READY" }

// Ready is the aggregate readiness event, dispatched by the ready machine
// once every launched shard has settled.
type Ready struct {
	User *discordgo.User
}

func (Ready) EventName() string { return "READY" }

// readyType routes the raw READY frame into the sharded ready machine. The
// user-facing Ready event is dispatched by the machine itself later, so the
// loader always discards.
func readyType() Type {
	return Type{
		Name: "READY",
		Load: func(ctx context.Context, raw json.RawMessage, s State) (Event, error) {
			var ready discordgo.Ready
			if err := json.Unmarshal(raw, &ready); err != nil {
				return nil, err
			}
			s.HandleReady(ctx, &ready)
			return nil, nil
		},
	}
}
