// Package vad decides when a speaker has stopped talking.
//
// A [Timer] consumes one energy [audio.Sample] per scheduler tick and answers
// with a [Decision]. It is pure decision logic: no I/O, no goroutines, and all
// durations are measured against the wall-clock times passed in, so the result
// does not depend on how often Update is called.
//
// A Timer is not safe for concurrent use. The recording session owns exactly
// one Timer per recording and drives it from its tick loop.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Default parameters. Threshold is in the scale of [audio.Level] (percent of
// 16-bit full scale).
const (
	DefaultThreshold      = 1.5
	DefaultSilenceTimeout = 2500 * time.Millisecond
	DefaultGracePeriod    = 2000 * time.Millisecond
)

// Decision is the outcome of a single [Timer.Update].
type Decision int

const (
	// Continue means the recording should keep running.
	Continue Decision = iota

	// SilenceTimeout means silence has lasted longer than the configured
	// timeout and the utterance is over.
	SilenceTimeout
)

// String returns a human-readable name for d.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case SilenceTimeout:
		return "silence_timeout"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Config holds the parameters of a Timer. It is immutable for the lifetime of
// a session.
type Config struct {
	// Threshold is the energy level above which sound is considered present.
	// A sample exactly at Threshold counts as silence.
	Threshold float64

	// SilenceTimeout is how long energy must stay at or below Threshold
	// before the utterance ends.
	SilenceTimeout time.Duration

	// GracePeriod is the initial window after the recording starts during
	// which silence never ends the utterance.
	GracePeriod time.Duration
}

// DefaultConfig returns the default VAD parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		SilenceTimeout: DefaultSilenceTimeout,
		GracePeriod:    DefaultGracePeriod,
	}
}

// Validate reports every invalid field of c.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad: threshold must be >= 0, got %v", c.Threshold))
	}
	if c.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("vad: silence timeout must be > 0, got %s", c.SilenceTimeout))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("vad: grace period must be >= 0, got %s", c.GracePeriod))
	}
	return errors.Join(errs...)
}
