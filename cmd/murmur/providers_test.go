package main

import (
	"slices"
	"testing"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/audio/command"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.Names()
	for _, want := range []string{"coqui", "elevenlabs"} {
		if !slices.Contains(names["tts"], want) {
			t.Errorf("tts providers %v missing %q", names["tts"], want)
		}
	}
	if !slices.Contains(names["capture"], config.DriverCommand) {
		t.Errorf("capture drivers %v missing command", names["capture"])
	}
	if !slices.Contains(names["player"], config.DriverCommand) {
		t.Errorf("player drivers %v missing command", names["player"])
	}
}

func TestBuiltinFactories(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tests := []struct {
		name    string
		entry   config.ProviderEntry
		wantErr bool
	}{
		{"elevenlabs", config.ProviderEntry{Name: "elevenlabs", APIKey: "k", Model: "eleven_flash_v2_5"}, false},
		{"elevenlabs without key", config.ProviderEntry{Name: "elevenlabs"}, true},
		{"coqui", config.ProviderEntry{Name: "coqui", BaseURL: "http://localhost:5002"}, false},
		{"coqui xtts", config.ProviderEntry{
			Name:    "coqui",
			BaseURL: "http://localhost:8020",
			Options: map[string]any{"api_mode": "xtts", "timeout": "45s"},
		}, false},
		{"coqui bad timeout", config.ProviderEntry{
			Name:    "coqui",
			BaseURL: "http://localhost:5002",
			Options: map[string]any{"timeout": "soon"},
		}, true},
		{"coqui without url", config.ProviderEntry{Name: "coqui"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.CreateTTS(tt.entry)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTTS() returned error: %v", err)
			}
			if p == nil {
				t.Fatal("CreateTTS() returned nil provider")
			}
		})
	}

	if _, err := reg.CreateCapture(config.CaptureConfig{
		Driver:     config.DriverCommand,
		Command:    command.DefaultCaptureCommand,
		SampleRate: 16000,
		Channels:   1,
	}); err != nil {
		t.Errorf("CreateCapture() returned error: %v", err)
	}
	if _, err := reg.CreatePlayer(config.PlayerConfig{Driver: config.DriverCommand, Command: ""}); err == nil {
		t.Error("CreatePlayer() with an empty command should fail")
	}
}
