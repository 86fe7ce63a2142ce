// Package config provides the configuration schema, loader, watcher and
// provider registry for the murmur voice session controller.
package config

import "time"

// LogLevel controls log verbosity for the murmur server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Driver names accepted by capture.driver and narrator.player.driver.
const (
	DriverCommand   = "command"
	DriverPortAudio = "portaudio"
	DriverNone      = "none"
)

// Config is the root configuration for murmur.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	VAD       VADConfig       `yaml:"vad"`
	Capture   CaptureConfig   `yaml:"capture"`
	Narrator  NarratorConfig  `yaml:"narrator"`
	Labels    LabelsConfig    `yaml:"labels"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the local control API settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., "127.0.0.1:8765").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log level. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists extra host patterns (e.g., "localhost:*") allowed
	// to open the event WebSocket from a browser.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BackendConfig points at the transcription/reply service.
type BackendConfig struct {
	// BaseURL is the scheme and host of the backend, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url"`

	// AudioPath and TextPath override the default endpoint paths.
	AudioPath string `yaml:"audio_path"`
	TextPath  string `yaml:"text_path"`

	// UploadTimeout bounds a single audio upload. Zero means 30 s.
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// TextTimeout bounds a text submission. Zero means no bound.
	TextTimeout time.Duration `yaml:"text_timeout"`
}

// VADConfig tunes the silence detector. Zero values take the defaults of
// [github.com/MrWong99/murmur/pkg/vad.DefaultConfig].
type VADConfig struct {
	// Threshold is the energy level (percent of full scale) above which a
	// tick counts as sound.
	Threshold float64 `yaml:"threshold"`

	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`

	// TickInterval is how often the level is sampled. Zero means 16 ms.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// CaptureConfig selects the microphone implementation.
type CaptureConfig struct {
	// Driver is "command" (default) or "portaudio".
	Driver string `yaml:"driver"`

	// Command is the capture command template for the "command" driver.
	// {rate} and {channels} are substituted.
	Command string `yaml:"command"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// NarratorConfig controls spoken feedback.
type NarratorConfig struct {
	// Locale is the BCP 47 tag used for narration. Hot-reloadable.
	Locale string `yaml:"locale"`

	// VoiceID is the voice used with the primary TTS provider.
	VoiceID string `yaml:"voice_id"`

	TTS    TTSConfig    `yaml:"tts"`
	Player PlayerConfig `yaml:"player"`
}

// TTSConfig names the primary provider and an optional ordered fallback chain.
// An empty primary name narrates to the log only.
type TTSConfig struct {
	Primary  ProviderEntry   `yaml:"primary"`
	Fallback []ProviderEntry `yaml:"fallback"`
}

// PlayerConfig selects the audio output used for narration.
type PlayerConfig struct {
	// Driver is "command" (default), "portaudio" or "none".
	Driver  string `yaml:"driver"`
	Command string `yaml:"command"`
}

// ProviderEntry is the configuration for a single TTS provider.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "elevenlabs", "coqui").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// VoiceID overrides narrator.voice_id for this provider.
	VoiceID string `yaml:"voice_id"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// OptString extracts a string value from Options. It returns "" if the key is
// absent or not a string.
func (e ProviderEntry) OptString(key string) string {
	if e.Options == nil {
		return ""
	}
	s, _ := e.Options[key].(string)
	return s
}

// LabelsConfig overrides the user-visible placeholder and fallback texts.
// Empty values keep the built-in English defaults.
type LabelsConfig struct {
	ProcessingAudio string `yaml:"processing_audio"`
	AudioProcessed  string `yaml:"audio_processed"`
	ProcessingText  string `yaml:"processing_text"`
	EmptyAudioReply string `yaml:"empty_audio_reply"`
	EmptyTextReply  string `yaml:"empty_text_reply"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	// ServiceName defaults to "murmur".
	ServiceName string `yaml:"service_name"`
}
