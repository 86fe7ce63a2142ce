// Package tts defines the Provider interface for Text-to-Speech backends and
// a [Speaker] that plays synthesised speech on an [audio.Player].
//
// A provider accepts a channel of text fragments and returns a channel of raw
// 16-bit PCM as it becomes available. Narration feeds whole replies, but the
// streaming shape lets providers start playback after the first sentence.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a channel
	// emitting raw PCM audio in the provider's configured output format.
	//
	// The returned channel is closed when all text has been synthesised, when
	// synthesis fails, or when ctx is cancelled. Callers must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceProfile selects a voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is a BCP 47 tag such as "en-US". Empty means provider default.
	Language string

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// BaseLanguage returns the primary language subtag of a BCP 47 tag, e.g.
// "es" for "es-ES". It returns the empty string for an empty tag.
func BaseLanguage(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' || tag[i] == '_' {
			return tag[:i]
		}
	}
	return tag
}
