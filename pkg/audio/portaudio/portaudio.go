//go:build portaudio

// Package portaudio implements [audio.CaptureDevice] and [audio.Player] using
// the PortAudio C library through github.com/gordonklaus/portaudio.
//
// The package is only compiled with the "portaudio" build tag because it
// needs cgo and the native PortAudio library:
//
//	go build -tags portaudio ./cmd/murmur
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/murmur/pkg/audio"
)

// framesPerBuffer is the number of sample frames read or written per call.
const framesPerBuffer = 320

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Device)(nil)
	_ audio.Player        = (*Player)(nil)
)

// classify maps PortAudio error codes onto the audio error sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, pa.InvalidDevice), errors.Is(err, pa.DeviceUnavailable):
		return fmt.Errorf("%w: %v", audio.ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", audio.ErrCaptureUnavailable, err)
	}
}

// Device captures from the default PortAudio input device.
type Device struct {
	format audio.Format
}

// NewDevice returns a Device recording in format.
func NewDevice(format audio.Format) (*Device, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %s", format)
	}
	return &Device{format: format}, nil
}

// Open initialises PortAudio and starts the default input stream.
func (d *Device) Open(ctx context.Context) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, classify(err)
	}
	buf := make([]int16, framesPerBuffer*d.format.Channels)
	st, err := pa.OpenDefaultStream(d.format.Channels, 0, float64(d.format.SampleRate), framesPerBuffer, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, classify(err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = pa.Terminate()
		return nil, classify(err)
	}

	s := &stream{
		st:     st,
		buf:    buf,
		format: d.format,
		frames: make(chan audio.AudioFrame, 64),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

type stream struct {
	st     *pa.Stream
	buf    []int16
	format audio.Format
	frames chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	var offset time.Duration
	perFrame := time.Duration(framesPerBuffer) * time.Second / time.Duration(s.format.SampleRate)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.st.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				continue
			}
			slog.Warn("portaudio: read failed", "err", err)
			return
		}
		data := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			data[i*2] = byte(v)
			data[i*2+1] = byte(v >> 8)
		}
		frame := audio.AudioFrame{Data: data, SampleRate: s.format.SampleRate, Channels: s.format.Channels, Timestamp: offset}
		offset += perFrame
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Close stops the input stream, waits for the reader and terminates PortAudio.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = errors.Join(s.st.Stop(), s.st.Close(), pa.Terminate())
	})
	return err
}

// Player writes PCM to the default PortAudio output device.
type Player struct{}

// NewPlayer returns a PortAudio Player.
func NewPlayer() *Player { return &Player{} }

// Play opens an output stream for format and writes pcm until it is closed or
// ctx is cancelled.
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: play: %w", err)
	}
	defer pa.Terminate()

	out := make([]int16, framesPerBuffer*format.Channels)
	st, err := pa.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("portaudio: play: %w", err)
	}
	defer st.Close()
	if err := st.Start(); err != nil {
		return fmt.Errorf("portaudio: play: %w", err)
	}
	defer st.Stop()

	var pending []byte
	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				if len(pending) > 0 {
					pending = append(pending, make([]byte, len(out)*2-len(pending))...)
					return p.write(st, out, pending)
				}
				return nil
			}
			pending = append(pending, chunk...)
			for len(pending) >= len(out)*2 {
				if err := p.write(st, out, pending[:len(out)*2]); err != nil {
					return err
				}
				pending = pending[len(out)*2:]
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Player) write(st *pa.Stream, out []int16, data []byte) error {
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	if err := st.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}
