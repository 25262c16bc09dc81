package config

import "fmt"

// MemberCacheFlags selects which events are allowed to populate the guild
// member cache. With no flags set the member cache stays empty and user
// storage degrades to cheap pass-throughs.
type MemberCacheFlags uint8

const (
	// MemberCacheJoined caches members who join a guild or are gained via
	// chunking. Requires the members intent.
	MemberCacheJoined MemberCacheFlags = 1 << iota

	// MemberCacheVoice caches members connected to a voice channel.
	// Requires the voice-states intent.
	MemberCacheVoice

	// MemberCacheInteraction caches members seen through interactions.
	MemberCacheInteraction
)

// MemberCacheFlagsAll enables every caching source.
const MemberCacheFlagsAll = MemberCacheJoined | MemberCacheVoice | MemberCacheInteraction

// MemberCacheFlagsFromIntents derives the broadest policy the given intents
// can actually keep current.
func MemberCacheFlagsFromIntents(intents Intents) MemberCacheFlags {
	var flags MemberCacheFlags = MemberCacheInteraction
	if intents.Members() {
		flags |= MemberCacheJoined
	}
	if intents.VoiceStates() {
		flags |= MemberCacheVoice
	}
	return flags
}

// Joined reports whether joined-member caching is enabled.
func (f MemberCacheFlags) Joined() bool { return f&MemberCacheJoined != 0 }

// Voice reports whether voice-member caching is enabled.
func (f MemberCacheFlags) Voice() bool { return f&MemberCacheVoice != 0 }

// Interaction reports whether interaction-member caching is enabled.
func (f MemberCacheFlags) Interaction() bool { return f&MemberCacheInteraction != 0 }

// Empty reports whether no caching source is enabled at all.
func (f MemberCacheFlags) Empty() bool { return f == 0 }

// VerifyIntents checks that every enabled flag is backed by the intent that
// feeds it. A flag without its intent would silently cache nothing.
func (f MemberCacheFlags) VerifyIntents(intents Intents) error {
	if f.Joined() && !intents.Members() {
		return fmt.Errorf("MemberCacheJoined requires the members intent")
	}
	if f.Voice() && !intents.VoiceStates() {
		return fmt.Errorf("MemberCacheVoice requires the voice-states intent")
	}
	return nil
}
