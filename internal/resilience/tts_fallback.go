package resilience

import (
	"context"

	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// Reporter summarises the breaker state of a group of providers.
type Reporter interface {
	Healthy() bool
	States() map[string]State
}

// ttsEntry is a provider with an optional voice override. Voice IDs are
// provider-specific, so a fallback usually needs its own.
type ttsEntry struct {
	provider tts.Provider
	voiceID  string
}

// TTSFallback is a [tts.Provider] that fails over between speech backends.
// Only stream setup is covered; a stream that breaks after it started is not
// retried, since part of the reply may already have been played.
type TTSFallback struct {
	group *FallbackGroup[ttsEntry]
}

var (
	_ tts.Provider = (*TTSFallback)(nil)
	_ Reporter     = (*FallbackGroup[ttsEntry])(nil)
)

// NewTTSFallback returns a TTSFallback preferring primary. The primary
// receives the caller's voice unchanged.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(ttsEntry{provider: primary}, primaryName, cfg)}
}

// AddFallback registers another provider after the existing ones. A
// non-empty voiceID replaces the caller's voice ID for this provider; the
// language is kept.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider, voiceID string) {
	f.group.AddFallback(name, ttsEntry{provider: provider, voiceID: voiceID})
}

// Health reports the breaker state of every provider.
func (f *TTSFallback) Health() Reporter { return f.group }

// SynthesizeStream implements [tts.Provider].
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(e ttsEntry) (<-chan []byte, error) {
		v := voice
		if e.voiceID != "" {
			v.ID = e.voiceID
		}
		return e.provider.SynthesizeStream(ctx, text, v)
	})
}

// ListVoices implements [tts.Provider]. Voices come from the first provider
// that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(e ttsEntry) ([]tts.VoiceProfile, error) {
		return e.provider.ListVoices(ctx)
	})
}
