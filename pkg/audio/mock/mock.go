// Package mock provides in-memory implementations of [audio.CaptureDevice],
// [audio.CaptureStream] and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that
// tests can assert on call counts, and they expose exported fields that the
// test sets to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	dev := &mock.Device{OpenResult: stream}
//	s, err := dev.Open(ctx)
//	stream.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.CaptureStream]. Frames pushed with [Stream.Push]
// are delivered on the Frames channel until Close is called.
type Stream struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool
	ended  bool

	// CloseError is returned by the first call to Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a Stream whose Frames channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{frames: make(chan audio.AudioFrame, buffer)}
}

// Frames implements [audio.CaptureStream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Push delivers frame to the consumer. It reports false when the stream is
// already closed or ended; it blocks while the channel buffer is full.
func (s *Stream) Push(frame audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return false
	}
	s.frames <- frame
	return true
}

// Close implements [audio.CaptureStream]. The Frames channel is closed on the
// first call; later calls are no-ops returning nil.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.ended {
		close(s.frames)
	}
	return s.CloseError
}

// End closes the Frames channel without closing the stream, the way a
// device that disappears mid-capture does. Close still has to be called.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return
	}
	s.ended = true
	close(s.frames)
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock [audio.CaptureDevice].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by Open when OpenError is nil. When nil, Open
	// creates a fresh Stream per call (retrievable via Streams).
	OpenResult audio.CaptureStream

	// OpenError is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	streams []*Stream
}

// Open implements [audio.CaptureDevice].
func (d *Device) Open(_ context.Context) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.OpenResult != nil {
		return d.OpenResult, nil
	}
	s := NewStream(64)
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns the streams created by Open when OpenResult is nil, in
// creation order.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player] that collects every chunk it is asked to play.
type Player struct {
	mu sync.Mutex

	// PlayError, if non-nil, is returned by Play without consuming pcm.
	PlayError error

	// Played holds the concatenated PCM of every Play call.
	Played []byte

	// Formats records the format argument of each Play call.
	Formats []audio.Format
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	p.mu.Lock()
	p.Formats = append(p.Formats, format)
	err := p.PlayError
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				return nil
			}
			p.mu.Lock()
			p.Played = append(p.Played, chunk...)
			p.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PlayedBytes returns a copy of all PCM played so far.
func (p *Player) PlayedBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.Played))
	copy(out, p.Played)
	return out
}
