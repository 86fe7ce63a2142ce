// Package audio defines the capture and playback abstractions used by murmur
// together with small PCM helpers (energy analysis, WAV encoding, format
// conversion).
//
// The two capture abstractions are:
//
//   - [CaptureDevice]: the microphone; Open acquires it and returns a stream.
//   - [CaptureStream]: an open capture that delivers [AudioFrame] values until
//     it is closed.
//
// Driver packages (audio/command, audio/portaudio) implement these interfaces.
// Tests use the in-memory doubles in audio/mock.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by [CaptureDevice.Open] when the
	// operating system or user refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceNotFound is returned by [CaptureDevice.Open] when no input
	// device is available.
	ErrDeviceNotFound = errors.New("audio: capture device not found")

	// ErrCaptureUnavailable is returned when a capture resource is used after
	// teardown or the device cannot deliver audio.
	ErrCaptureUnavailable = errors.New("audio: capture unavailable")
)

// CaptureStream is an open microphone capture.
//
// Frames are delivered continuously on the channel returned by Frames until
// Close is called, at which point the channel is closed by the implementation.
// Close is idempotent and returns nil on repeated calls.
type CaptureStream interface {
	// Frames returns the channel carrying captured PCM frames.
	Frames() <-chan AudioFrame

	// Close stops capture and releases the underlying device.
	Close() error
}

// CaptureDevice acquires the microphone.
//
// Open fails with an error wrapping [ErrPermissionDenied], [ErrDeviceNotFound]
// or [ErrCaptureUnavailable] so callers can classify the failure.
type CaptureDevice interface {
	Open(ctx context.Context) (CaptureStream, error)
}

// Player plays PCM audio on a speaker.
type Player interface {
	// Play writes every chunk received from pcm to the output device until pcm
	// is closed or ctx is cancelled. The chunks are 16-bit little-endian PCM in
	// the given format. Play returns ctx.Err() when cancelled.
	Play(ctx context.Context, pcm <-chan []byte, format Format) error
}
