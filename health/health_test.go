package health

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercord/embercord/cache"
	"github.com/embercord/embercord/config"
	"github.com/embercord/embercord/gateway"
	"github.com/embercord/embercord/state"
)

type noopGateway struct{}

func (noopGateway) RequestGuildMembers(context.Context, string, string, int, []string, bool, string) error {
	return nil
}

type singleShard struct{}

func (singleShard) Shard(int) (gateway.Gateway, bool) { return noopGateway{}, true }
func (singleShard) ShardCount() int                   { return 1 }

type noopREST struct{}

func (noopREST) DefaultSoundboardSounds(context.Context) ([]*cache.SoundboardSound, error) {
	return nil, nil
}

func (noopREST) ApplicationEmojis(context.Context, string) ([]*discordgo.Emoji, error) {
	return nil, nil
}

func TestCollect(t *testing.T) {
	s, err := state.New(config.Options{}, cache.NewMemoryCache(10), singleShard{}, noopREST{})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	s.Cache().StoreUser(ctx, &discordgo.User{ID: "u1"})
	s.Cache().AddGuild(ctx, &discordgo.Guild{ID: "g1"})

	snapshot, err := Collect(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, 1, snapshot.Cache.Users)
	assert.Equal(t, 1, snapshot.Cache.Guilds)
	assert.Zero(t, snapshot.VoiceClients)
	assert.Zero(t, snapshot.PendingChunks)
	assert.GreaterOrEqual(t, snapshot.MemoryPercent, 0.0)
}
