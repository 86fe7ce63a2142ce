package vad

import (
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Timer tracks elapsed silence for one recording.
type Timer struct {
	cfg         Config
	startedAt   time.Time
	lastSoundAt time.Time
}

// NewTimer returns a Timer for a recording that started at start. Both the
// start time and the last-sound time are initialised to start.
func NewTimer(cfg Config, start time.Time) *Timer {
	return &Timer{cfg: cfg, startedAt: start, lastSoundAt: start}
}

// Config returns the parameters the Timer was built with.
func (t *Timer) Config() Config { return t.cfg }

// StartedAt returns the time the recording started.
func (t *Timer) StartedAt() time.Time { return t.startedAt }

// LastSoundAt returns the last time sound was present, or the last tick of
// the grace period, whichever is later.
func (t *Timer) LastSoundAt() time.Time { return t.lastSoundAt }

// Update feeds one sample observed at now into the timer.
//
// While now is inside the grace period the silence clock is reset on every
// call, so an utterance can never end before the grace period has elapsed.
// lastSoundAt never moves backwards, even if now does.
func (t *Timer) Update(sample audio.Sample, now time.Time) Decision {
	if sample.Level > t.cfg.Threshold {
		t.touch(now)
	}
	if now.Sub(t.startedAt) < t.cfg.GracePeriod {
		t.touch(now)
		return Continue
	}
	if now.Sub(t.lastSoundAt) > t.cfg.SilenceTimeout {
		return SilenceTimeout
	}
	return Continue
}

// Silence returns how long the input has been silent as of now.
func (t *Timer) Silence(now time.Time) time.Duration {
	d := now.Sub(t.lastSoundAt)
	if d < 0 {
		return 0
	}
	return d
}

func (t *Timer) touch(now time.Time) {
	if now.After(t.lastSoundAt) {
		t.lastSoundAt = now
	}
}
