package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/command"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/tts/coqui"
	"github.com/MrWong99/murmur/pkg/provider/tts/elevenlabs"
)

// extraRegistrations holds factories that only exist behind build tags.
var extraRegistrations []func(*config.Registry)

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	// Narration is played as 16 kHz mono, so the output format is fixed.
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if raw := entry.OptString("timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("coqui: options.timeout: %w", err)
			}
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Capture / playback ────────────────────────────────────────────────────

	reg.RegisterCapture(config.DriverCommand, func(c config.CaptureConfig) (audio.CaptureDevice, error) {
		return command.NewDevice(c.Command, audio.Format{SampleRate: c.SampleRate, Channels: c.Channels})
	})

	reg.RegisterPlayer(config.DriverCommand, func(c config.PlayerConfig) (audio.Player, error) {
		return command.NewPlayer(c.Command)
	})

	for _, register := range extraRegistrations {
		register(reg)
	}

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}
