// Package command implements [audio.CaptureDevice] and [audio.Player] on top of
// external programs that stream raw PCM over stdin/stdout, such as arecord and
// aplay (ALSA), sox or ffmpeg.
//
// Command lines are templates: the placeholders {rate} and {channels} are
// replaced with the configured format before the program is started. The
// program must read or write 16-bit signed little-endian interleaved PCM.
//
// Usage:
//
//	dev, err := command.NewDevice("arecord -q -f S16_LE -r {rate} -c {channels} -t raw",
//	    audio.Format{SampleRate: 16000, Channels: 1})
//	stream, err := dev.Open(ctx)
//	for frame := range stream.Frames() { ... }
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

const (
	// DefaultCaptureCommand records from the default ALSA input.
	DefaultCaptureCommand = "arecord -q -f S16_LE -r {rate} -c {channels} -t raw"

	// DefaultPlayCommand plays to the default ALSA output.
	DefaultPlayCommand = "aplay -q -f S16_LE -r {rate} -c {channels} -t raw"

	// frameDuration is the amount of audio carried by each captured frame.
	frameDuration = 20 * time.Millisecond

	frameBuffer = 64
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Device)(nil)
	_ audio.Player        = (*Player)(nil)
)

// expand splits a command template into argv with the format placeholders
// filled in.
func expand(template string, format audio.Format) ([]string, error) {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(format.SampleRate),
		"{channels}", strconv.Itoa(format.Channels),
	)
	argv := strings.Fields(r.Replace(template))
	if len(argv) == 0 {
		return nil, errors.New("command: empty command line")
	}
	return argv, nil
}

// classifyStartErr maps a process start failure onto the audio error
// sentinels so that callers can tell a missing recorder from a refused one.
func classifyStartErr(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", audio.ErrDeviceNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", audio.ErrCaptureUnavailable, err)
	}
}

// ---- capture ----------------------------------------------------------------

const (
	// DefaultStartupWait is how long Open watches a freshly started capture
	// program for an immediate exit before handing out the stream.
	DefaultStartupWait = 200 * time.Millisecond

	// stderrTail bounds the diagnostic output kept from the capture program.
	stderrTail = 4 << 10

	// waitDelay bounds how long Close waits for output pipes held open by
	// children of the capture program.
	waitDelay = time.Second
)

// Device starts the capture program each time it is opened.
type Device struct {
	argv        []string
	format      audio.Format
	startupWait time.Duration
}

// DeviceOption configures a [Device].
type DeviceOption func(*Device)

// WithStartupWait overrides [DefaultStartupWait]. Zero disables the wait;
// Open then only notices programs that have already exited.
func WithStartupWait(d time.Duration) DeviceOption {
	return func(dev *Device) { dev.startupWait = max(d, 0) }
}

// NewDevice returns a Device for the given command template and capture format.
func NewDevice(template string, format audio.Format, opts ...DeviceOption) (*Device, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("command: invalid capture format %s", format)
	}
	argv, err := expand(template, format)
	if err != nil {
		return nil, err
	}
	d := &Device{argv: argv, format: format, startupWait: DefaultStartupWait}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Open starts the capture program. The returned stream delivers 20 ms frames
// until Close is called or the program exits.
//
// Open waits until the program produces its first audio, exits, or the
// startup wait elapses. A program that exits with a failure status before
// producing audio is reported as a classified error built from its exit
// status and stderr.
func (d *Device) Open(ctx context.Context) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, d.argv[0], d.argv[1:]...)
	r, w, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, classifyStartErr(err)
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stdout = w
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		cancel()
		_ = r.Close()
		_ = w.Close()
		return nil, classifyStartErr(err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()

	s := &stream{
		cmd:    cmd,
		cancel: cancel,
		r:      r,
		stderr: stderr,
		frames: make(chan audio.AudioFrame, frameBuffer),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	frameBytes := int(int64(d.format.BytesPerSecond()) * int64(frameDuration) / int64(time.Second))
	frameBytes -= frameBytes % (2 * d.format.Channels)
	s.wg.Add(1)
	go s.readLoop(frameBytes, d.format)
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	log := slog.With("argv", d.argv, "pid", cmd.Process.Pid)
	var timeout <-chan time.Time
	if d.startupWait > 0 {
		t := time.NewTimer(d.startupWait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-s.ready:
	case <-s.exited:
		if err := s.exitErr(); err != nil {
			_ = s.Close()
			log.Warn("capture command exited during startup", "err", err)
			return nil, fmt.Errorf("command: %s exited during startup: %w", d.argv[0], err)
		}
	case <-timeout:
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}

	log.Debug("capture command started")
	return s, nil
}

type stream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	r      *os.File
	stderr *tailBuffer
	frames chan audio.AudioFrame

	// ready is closed once the first audio has been read.
	ready chan struct{}

	// exited is closed once Wait returned; waitErr is valid after that.
	exited  chan struct{}
	waitErr error

	// eof is set when the program closed its output.
	eof atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

// readLoop owns the frames channel and closes it when stdout is exhausted.
func (s *stream) readLoop(frameBytes int, format audio.Format) {
	defer s.wg.Done()
	defer close(s.frames)

	var offset time.Duration
	first := true
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			if first {
				close(s.ready)
				first = false
			}
			frame := audio.AudioFrame{
				Data:       buf[:n-n%2],
				SampleRate: format.SampleRate,
				Channels:   format.Channels,
				Timestamp:  offset,
			}
			offset += time.Duration(n) * time.Second / time.Duration(format.BytesPerSecond())
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.eof.Store(true)
			return
		}
	}
}

// exitErr classifies how the program ended. A clean exit is nil. It must
// only be called after exited is closed.
func (s *stream) exitErr() error {
	if s.waitErr == nil || errors.Is(s.waitErr, exec.ErrWaitDelay) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(s.waitErr, &exitErr) {
		return classifyExit(exitErr, s.stderr.String())
	}
	return fmt.Errorf("%w: wait: %v", audio.ErrCaptureUnavailable, s.waitErr)
}

// Close kills the capture program and waits for the reader to exit. When the
// program had already exited on its own with a failure status, Close returns
// that failure, classified like [Device.Open] does.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		if s.eof.Load() {
			select {
			case <-s.exited:
			case <-time.After(waitDelay):
			}
		}
		select {
		case <-s.exited:
			s.closeErr = s.exitErr()
		default:
			// A recorder killed here reports a signal exit; that is expected.
		}
		close(s.done)
		s.cancel()
		_ = s.r.Close()
		s.wg.Wait()
		<-s.exited
	})
	return s.closeErr
}

// classifyExit maps a failed capture program onto the audio error sentinels
// using the diagnostics it printed.
func classifyExit(err *exec.ExitError, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	} else {
		detail = fmt.Sprintf("%s (%v)", detail, err)
	}
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"):
		return fmt.Errorf("%w: %s", audio.ErrPermissionDenied, detail)
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "no such device"):
		return fmt.Errorf("%w: %s", audio.ErrDeviceNotFound, detail)
	default:
		return fmt.Errorf("%w: %s", audio.ErrCaptureUnavailable, detail)
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// ---- playback ---------------------------------------------------------------

// Player pipes PCM into a playback program, one process per Play call.
type Player struct {
	template string
}

// NewPlayer returns a Player for the given command template.
func NewPlayer(template string) (*Player, error) {
	if _, err := expand(template, audio.Format{SampleRate: 1, Channels: 1}); err != nil {
		return nil, err
	}
	return &Player{template: template}, nil
}

// Play starts the playback program for format and writes every chunk of pcm to
// its stdin. Cancelling ctx kills the program immediately, cutting the audio.
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	argv, err := expand(p.template, format)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("command: play: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("command: play: %w", err)
	}

	writeErr := func() error {
		defer stdin.Close()
		for {
			select {
			case chunk, ok := <-pcm:
				if !ok {
					return nil
				}
				if _, err := stdin.Write(chunk); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if writeErr != nil {
		return fmt.Errorf("command: play: write: %w", writeErr)
	}
	if waitErr != nil {
		return fmt.Errorf("command: play: %w", waitErr)
	}
	return nil
}
