package config

import "github.com/bwmarrin/discordgo"

// Intents is the gateway intent bitmask the client identifies with. It wraps
// discordgo's intent constants; combine them with bitwise OR as usual:
//
//	config.Intents(discordgo.IntentGuilds | discordgo.IntentGuildMembers)
type Intents discordgo.Intent

// DefaultIntents returns every non-privileged intent.
func DefaultIntents() Intents {
	return Intents(discordgo.IntentsAllWithoutPrivileged)
}

// Value returns the raw bitmask for the identify payload.
func (i Intents) Value() discordgo.Intent {
	return discordgo.Intent(i)
}

func (i Intents) has(intent discordgo.Intent) bool {
	return discordgo.Intent(i)&intent == intent
}

// Guilds reports whether guild lifecycle events are delivered.
func (i Intents) Guilds() bool { return i.has(discordgo.IntentGuilds) }

// Members reports whether the privileged guild-members intent is set.
func (i Intents) Members() bool { return i.has(discordgo.IntentGuildMembers) }

// Presences reports whether the privileged presences intent is set.
func (i Intents) Presences() bool { return i.has(discordgo.IntentGuildPresences) }

// VoiceStates reports whether voice state events are delivered.
func (i Intents) VoiceStates() bool { return i.has(discordgo.IntentGuildVoiceStates) }
