package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; everything
// else is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LocaleChanged bool
	NewLocale     string

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LocaleChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Narrator.Locale != new.Narrator.Locale {
		d.LocaleChanged = true
		d.NewLocale = new.Narrator.Locale
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Narrator.VoiceID != new.Narrator.VoiceID ||
		old.Narrator.Player != new.Narrator.Player ||
		!sameTTS(old.Narrator.TTS, new.Narrator.TTS) {
		d.RestartRequired = append(d.RestartRequired, "narrator")
	}
	if old.Labels != new.Labels {
		d.RestartRequired = append(d.RestartRequired, "labels")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

// sameTTS compares provider chains by the fields that select a provider.
// Options maps are not compared.
func sameTTS(a, b TTSConfig) bool {
	if !sameEntry(a.Primary, b.Primary) || len(a.Fallback) != len(b.Fallback) {
		return false
	}
	for i := range a.Fallback {
		if !sameEntry(a.Fallback[i], b.Fallback[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.VoiceID == b.VoiceID
}
