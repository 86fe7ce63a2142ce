package session

import (
	"sync"
	"time"
)

// DefaultTickInterval is the analysis cadence of [TickerScheduler] when no
// interval is set. It is close to one display frame.
const DefaultTickInterval = 16 * time.Millisecond

// Scheduler drives the per-tick analysis loop of a recording.
//
// Start arranges for fn to be called periodically from a single goroutine,
// never concurrently with itself, and never synchronously from Start. The
// returned stop function ends the loop; it must be safe to call more than
// once and from inside fn, and it must not block.
type Scheduler interface {
	Start(fn func(now time.Time)) (stop func())
}

// TickerScheduler is the default [Scheduler], backed by a [time.Ticker].
type TickerScheduler struct {
	Interval time.Duration
}

var _ Scheduler = TickerScheduler{}

// Start implements [Scheduler].
func (s TickerScheduler) Start(fn func(now time.Time)) (stop func()) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn(now)
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
