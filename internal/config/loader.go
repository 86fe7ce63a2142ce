package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/pkg/audio/command"
	"github.com/MrWong99/murmur/pkg/vad"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = "127.0.0.1:8765"
	DefaultLocale      = "en-US"
	DefaultServiceName = "murmur"
	DefaultSampleRate  = 16000
	DefaultChannels    = 1
)

// ValidProviderNames lists known TTS provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"elevenlabs", "coqui"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Capture.Driver == "" {
		cfg.Capture.Driver = DriverCommand
	}
	if cfg.Capture.Driver == DriverCommand && cfg.Capture.Command == "" {
		cfg.Capture.Command = command.DefaultCaptureCommand
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = DefaultChannels
	}

	if cfg.Narrator.Locale == "" {
		cfg.Narrator.Locale = DefaultLocale
	}
	if cfg.Narrator.Player.Driver == "" {
		cfg.Narrator.Player.Driver = DriverCommand
	}
	if cfg.Narrator.Player.Driver == DriverCommand && cfg.Narrator.Player.Command == "" {
		cfg.Narrator.Player.Command = command.DefaultPlayCommand
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Params returns the VAD parameters with zero fields replaced by the
// package defaults.
func (c VADConfig) Params() vad.Config {
	p := vad.DefaultConfig()
	if c.Threshold != 0 {
		p.Threshold = c.Threshold
	}
	if c.SilenceTimeout != 0 {
		p.SilenceTimeout = c.SilenceTimeout
	}
	if c.GracePeriod != 0 {
		p.GracePeriod = c.GracePeriod
	}
	return p
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.UploadTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.upload_timeout must be >= 0, got %s", cfg.Backend.UploadTimeout))
	}
	if cfg.Backend.TextTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.text_timeout must be >= 0, got %s", cfg.Backend.TextTimeout))
	}

	// VAD
	if err := cfg.VAD.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.VAD.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("vad.tick_interval must be >= 0, got %s", cfg.VAD.TickInterval))
	}

	// Capture
	switch cfg.Capture.Driver {
	case DriverCommand:
		if cfg.Capture.Command == "" {
			errs = append(errs, errors.New("capture.command is required for the command driver"))
		}
	case DriverPortAudio:
	default:
		errs = append(errs, fmt.Errorf("capture.driver %q is invalid; valid values: command, portaudio", cfg.Capture.Driver))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be > 0, got %d", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", cfg.Capture.Channels))
	}

	// Narrator
	switch cfg.Narrator.Player.Driver {
	case DriverCommand:
		if cfg.Narrator.Player.Command == "" {
			errs = append(errs, errors.New("narrator.player.command is required for the command driver"))
		}
	case DriverPortAudio, DriverNone:
	default:
		errs = append(errs, fmt.Errorf("narrator.player.driver %q is invalid; valid values: command, portaudio, none", cfg.Narrator.Player.Driver))
	}
	validateProviderName("narrator.tts.primary", cfg.Narrator.TTS.Primary.Name)
	if cfg.Narrator.TTS.Primary.Name == "" && len(cfg.Narrator.TTS.Fallback) > 0 {
		errs = append(errs, errors.New("narrator.tts.fallback requires narrator.tts.primary"))
	}
	for i, fb := range cfg.Narrator.TTS.Fallback {
		prefix := fmt.Sprintf("narrator.tts.fallback[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// known provider list. Third-party factories may still be registered under
// other names, so this is not an error.
func validateProviderName(field, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames, name) {
		slog.Warn("unknown tts provider name; it must be registered before startup",
			"field", field,
			"name", name,
			"known", ValidProviderNames,
		)
	}
}
