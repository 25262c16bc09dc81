package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoundCache(maxMessages int) *MemoryCache {
	c := NewMemoryCache(maxMessages)
	c.Bind()
	return c
}

func dmChannel(id, userID string) *discordgo.Channel {
	return &discordgo.Channel{
		ID:         id,
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{{ID: userID}},
	}
}

func TestUnboundCachePanics(t *testing.T) {
	c := NewMemoryCache(10)
	assert.Panics(t, func() {
		c.User(context.Background(), "1")
	})
}

func TestStoreUser_FirstEntryWins(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	first := &discordgo.User{ID: "42", Username: "alice"}
	stored := c.StoreUser(ctx, first)
	assert.Same(t, first, stored)

	// Storing the same ID again returns the original entry untouched.
	second := &discordgo.User{ID: "42", Username: "alice-renamed"}
	stored = c.StoreUser(ctx, second)
	assert.Same(t, first, stored)

	got, ok := c.User(ctx, "42")
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)
}

func TestStoreUser_LegacyDiscriminatorNotCached(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	u := &discordgo.User{ID: "7", Username: "ghost", Discriminator: "0000"}
	stored := c.StoreUser(ctx, u)
	assert.Same(t, u, stored)

	_, ok := c.User(ctx, "7")
	assert.False(t, ok)
}

func TestStoreMessage_EvictsOldestPastBound(t *testing.T) {
	c := newBoundCache(2)
	ctx := context.Background()

	c.StoreMessage(ctx, &discordgo.Message{ID: "1"})
	c.StoreMessage(ctx, &discordgo.Message{ID: "2"})
	c.StoreMessage(ctx, &discordgo.Message{ID: "3"})

	messages := c.Messages(ctx)
	require.Len(t, messages, 2)
	assert.Equal(t, "2", messages[0].ID)
	assert.Equal(t, "3", messages[1].ID)

	_, ok := c.Message(ctx, "1")
	assert.False(t, ok)
}

func TestStoreMessage_DuplicateUpdatesInPlace(t *testing.T) {
	c := newBoundCache(2)
	ctx := context.Background()

	c.StoreMessage(ctx, &discordgo.Message{ID: "1", Content: "old"})
	c.StoreMessage(ctx, &discordgo.Message{ID: "2"})
	c.StoreMessage(ctx, &discordgo.Message{ID: "1", Content: "new"})

	messages := c.Messages(ctx)
	require.Len(t, messages, 2)
	assert.Equal(t, "1", messages[0].ID)
	assert.Equal(t, "new", messages[0].Content)
}

func TestStorePrivateChannel_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	for i := 0; i < maxPrivateChannels; i++ {
		c.StorePrivateChannel(ctx, dmChannel(fmt.Sprintf("ch-%d", i), fmt.Sprintf("user-%d", i)))
	}
	// Touch the oldest so it is no longer the eviction candidate.
	_, ok := c.PrivateChannel(ctx, "ch-0")
	require.True(t, ok)

	c.StorePrivateChannel(ctx, dmChannel("ch-new", "user-new"))

	// ch-1 became the least recently used and must be gone, along with its
	// user index entry.
	_, ok = c.PrivateChannel(ctx, "ch-1")
	assert.False(t, ok)
	_, ok = c.PrivateChannelByUser(ctx, "user-1")
	assert.False(t, ok)

	_, ok = c.PrivateChannel(ctx, "ch-0")
	assert.True(t, ok)
	got, ok := c.PrivateChannelByUser(ctx, "user-new")
	require.True(t, ok)
	assert.Equal(t, "ch-new", got.ID)
	assert.Len(t, c.PrivateChannels(ctx), maxPrivateChannels)
}

func TestStorePrivateChannel_GroupDMHasNoUserIndex(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	group := &discordgo.Channel{
		ID:         "g1",
		Type:       discordgo.ChannelTypeGroupDM,
		Recipients: []*discordgo.User{{ID: "a"}, {ID: "b"}},
	}
	c.StorePrivateChannel(ctx, group)

	_, ok := c.PrivateChannel(ctx, "g1")
	assert.True(t, ok)
	_, ok = c.PrivateChannelByUser(ctx, "a")
	assert.False(t, ok)
}

type stubView struct {
	id         string
	messageID  string
	persistent bool
}

func (v stubView) ID() string         { return v.id }
func (v stubView) MessageID() string  { return v.messageID }
func (v stubView) IsPersistent() bool { return v.persistent }

type stubModal struct{ customID string }

func (m stubModal) CustomID() string { return m.customID }

func TestClear_PreservesViewsOnRequest(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	c.StoreUser(ctx, &discordgo.User{ID: "1"})
	c.AddGuild(ctx, &discordgo.Guild{ID: "g"})
	c.StoreView(ctx, stubView{id: "v1", messageID: "m1", persistent: true}, "m1")
	c.StoreModal(ctx, stubModal{customID: "modal-1"})

	c.Clear(ctx, true)

	assert.Empty(t, c.Users(ctx))
	assert.Empty(t, c.Guilds(ctx))
	assert.Len(t, c.Views(ctx), 1)
	// Modals never survive a clear.
	assert.Empty(t, c.Modals(ctx))

	c.Clear(ctx, false)
	assert.Empty(t, c.Views(ctx))
}

func TestDeleteViewOn(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	c.StoreView(ctx, stubView{id: "v1", messageID: "m1"}, "m1")
	v, ok := c.DeleteViewOn(ctx, "m1")
	require.True(t, ok)
	assert.Equal(t, "v1", v.ID())

	_, ok = c.DeleteViewOn(ctx, "m1")
	assert.False(t, ok)
}

func TestMemberStorageByGuild(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	c.StoreMember(ctx, &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1"}})
	c.StoreMember(ctx, &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u2"}})
	c.StoreMember(ctx, &discordgo.Member{GuildID: "g2", User: &discordgo.User{ID: "u1"}})

	_, ok := c.Member(ctx, "g1", "u1")
	assert.True(t, ok)
	assert.Len(t, c.GuildMembers(ctx, "g1"), 2)
	assert.Len(t, c.Members(ctx), 3)

	c.DeleteGuildMembers(ctx, "g1")
	assert.Empty(t, c.GuildMembers(ctx, "g1"))
	_, ok = c.Member(ctx, "g2", "u1")
	assert.True(t, ok)
}

func TestEmojiOwnership(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	c.StoreGuildEmoji(ctx, "g1", &discordgo.Emoji{ID: "e1", Name: "party"})
	c.StoreAppEmoji(ctx, "app1", &discordgo.Emoji{ID: "e2", Name: "blob"})

	e, ok := c.Emoji(ctx, "e1")
	require.True(t, ok)
	assert.Equal(t, "party", e.Name)
	assert.Len(t, c.Emojis(ctx), 2)

	c.DeleteEmoji(ctx, "g1", "e1")
	_, ok = c.Emoji(ctx, "e1")
	assert.False(t, ok)
	_, ok = c.Emoji(ctx, "e2")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	c := newBoundCache(10)
	ctx := context.Background()

	c.StoreUser(ctx, &discordgo.User{ID: "1"})
	c.AddGuild(ctx, &discordgo.Guild{ID: "g"})
	c.StoreMember(ctx, &discordgo.Member{GuildID: "g", User: &discordgo.User{ID: "1"}})
	c.StoreMessage(ctx, &discordgo.Message{ID: "m"})
	c.StorePrivateChannel(ctx, dmChannel("d", "1"))
	c.StoreSound(ctx, &SoundboardSound{SoundID: "s"})

	stats := c.Stats(ctx)
	assert.Equal(t, 1, stats.Users)
	assert.Equal(t, 1, stats.Guilds)
	assert.Equal(t, 1, stats.Members)
	assert.Equal(t, 1, stats.Messages)
	assert.Equal(t, 1, stats.PrivateChannels)
	assert.Equal(t, 1, stats.Sounds)
}
