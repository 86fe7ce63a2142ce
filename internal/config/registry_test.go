package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/audio"
	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
)

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS error = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateCapture(config.CaptureConfig{Driver: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateCapture error = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreatePlayer(config.PlayerConfig{Driver: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreatePlayer error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Create(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	provider := &ttsmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterTTS("mock", func(e config.ProviderEntry) (tts.Provider, error) {
		gotEntry = e
		return provider, nil
	})
	device := &audiomock.Device{}
	var gotCapture config.CaptureConfig
	reg.RegisterCapture("mock", func(c config.CaptureConfig) (audio.CaptureDevice, error) {
		gotCapture = c
		return device, nil
	})
	player := &audiomock.Player{}
	reg.RegisterPlayer("mock", func(config.PlayerConfig) (audio.Player, error) {
		return player, nil
	})

	p, err := reg.CreateTTS(config.ProviderEntry{Name: "mock", APIKey: "k"})
	if err != nil || p != provider {
		t.Errorf("CreateTTS = %v, %v", p, err)
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory got entry %+v", gotEntry)
	}

	d, err := reg.CreateCapture(config.CaptureConfig{Driver: "mock", SampleRate: 8000})
	if err != nil || d != device {
		t.Errorf("CreateCapture = %v, %v", d, err)
	}
	if gotCapture.SampleRate != 8000 {
		t.Errorf("factory got capture config %+v", gotCapture)
	}

	pl, err := reg.CreatePlayer(config.PlayerConfig{Driver: "mock"})
	if err != nil || pl != player {
		t.Errorf("CreatePlayer = %v, %v", pl, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTTS("bad", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })

	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("CreateTTS error = %v, want %v", err, boom)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	noTTS := func(config.ProviderEntry) (tts.Provider, error) { return nil, nil }
	reg.RegisterTTS("coqui", noTTS)
	reg.RegisterTTS("elevenlabs", noTTS)
	reg.RegisterTTS("coqui", noTTS)

	names := reg.Names()
	if !slices.Equal(names["tts"], []string{"coqui", "elevenlabs"}) {
		t.Errorf("tts names = %v", names["tts"])
	}
	if len(names["capture"]) != 0 || len(names["player"]) != 0 {
		t.Errorf("unexpected names: %v", names)
	}
}
