// Package rest declares the HTTP operations the state layer falls back to
// when the gateway never delivered an entity. All of them are idempotent
// GETs, safe to retry. Rate limiting and retries belong to the
// implementing client.
package rest

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/embercord/embercord/cache"
)

// Client is the REST surface consumed by the connection state.
type Client interface {
	// DefaultSoundboardSounds fetches the built-in soundboard sounds.
	DefaultSoundboardSounds(ctx context.Context) ([]*cache.SoundboardSound, error)

	// ApplicationEmojis fetches the emojis owned by an application.
	ApplicationEmojis(ctx context.Context, applicationID string) ([]*discordgo.Emoji, error)
}
