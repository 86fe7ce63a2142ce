package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// Providers holds the hardware and speech backends of the application.
// Populated by [BuildProviders] or injected directly in tests.
type Providers struct {
	// Capture is the microphone. Required.
	Capture audio.CaptureDevice

	// TTS synthesises narration. Nil narrates to the log only.
	TTS tts.Provider

	// TTSHealth reports the circuit state of the TTS chain. Nil when TTS is
	// not wrapped in a fallback group.
	TTSHealth resilience.Reporter

	// Player plays narration. Nil narrates to the log only.
	Player audio.Player
}

// BuildProviders instantiates every provider named in cfg through reg. The
// TTS primary and its fallbacks are wrapped in a [resilience.TTSFallback] so
// that a failing provider trips its circuit breaker and the next one speaks.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}

	capture, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("create capture driver %q: %w", cfg.Capture.Driver, err)
	}
	ps.Capture = capture
	slog.Info("provider created", "kind", "capture", "name", cfg.Capture.Driver)

	if cfg.Narrator.Player.Driver != config.DriverNone {
		player, err := reg.CreatePlayer(cfg.Narrator.Player)
		if err != nil {
			return nil, fmt.Errorf("create player %q: %w", cfg.Narrator.Player.Driver, err)
		}
		ps.Player = player
		slog.Info("provider created", "kind", "player", "name", cfg.Narrator.Player.Driver)
	}

	primary := cfg.Narrator.TTS.Primary
	if primary.Name == "" {
		return ps, nil
	}
	p, err := reg.CreateTTS(primary)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", primary.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", primary.Name, "model", primary.Model)

	chain := resilience.NewTTSFallback(p, primary.Name, resilience.FallbackConfig{Metrics: m})
	for _, entry := range cfg.Narrator.TTS.Fallback {
		fb, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("tts fallback not available in this build, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, fb, entry.VoiceID)
		slog.Info("provider created", "kind", "tts_fallback", "name", entry.Name)
	}
	ps.TTS = chain
	ps.TTSHealth = chain.Health()
	return ps, nil
}
