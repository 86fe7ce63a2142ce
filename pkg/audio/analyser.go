package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// fullScale is the magnitude of the largest 16-bit PCM sample.
const fullScale = 32768.0

// Analyser turns the live input into one scalar energy level per call.
//
// The metric is the time-domain RMS of the most recently observed frame,
// expressed as a percentage of 16-bit full scale (0–100). It is monotonic in
// loudness and deterministic for identical frames. Interleaved stereo is
// measured over all samples without down-mixing.
//
// Observe and Sample may be called from different goroutines.
type Analyser struct {
	mu     sync.Mutex
	latest []byte
	closed bool
}

// NewAnalyser returns an open [Analyser] with no frame observed yet. Until the
// first frame arrives Sample reports a level of zero.
func NewAnalyser() *Analyser {
	return &Analyser{}
}

// Observe records frame as the current analysis window. Frames observed after
// Close are ignored.
func (a *Analyser) Observe(frame AudioFrame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.latest = frame.Data
}

// Sample computes the energy of the current analysis window. It fails with
// [ErrCaptureUnavailable] once the analyser has been closed.
func (a *Analyser) Sample(now time.Time) (Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Sample{}, ErrCaptureUnavailable
	}
	return Sample{Level: Level(a.latest), ObservedAt: now}, nil
}

// Close tears the analyser down. Further calls to Sample fail. Close is
// idempotent.
func (a *Analyser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.latest = nil
}

// Level returns the RMS of pcm as a percentage of 16-bit full scale. pcm must
// be little-endian int16 samples; a trailing odd byte is ignored. An empty
// buffer has level 0.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / fullScale * 100
}
