package session

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/vad"
)

// recording owns the resources of one capture: the open stream, the recorder
// goroutine, the analyser and the tick loop. The VAD timer is only touched
// from the tick loop.
type recording struct {
	gen       uint64
	stream    audio.CaptureStream
	analyser  *audio.Analyser
	timer     *vad.Timer
	startedAt time.Time
	stopTicks func()

	stopRec chan struct{}
	recDone chan struct{}

	// ended is set when the device closed Frames before release.
	ended atomic.Bool

	mu     sync.Mutex
	pcm    bytes.Buffer
	format audio.Format

	once     sync.Once
	closeErr error
}

func newRecording(gen uint64, stream audio.CaptureStream, timer *vad.Timer, format audio.Format) *recording {
	return &recording{
		gen:       gen,
		stream:    stream,
		analyser:  audio.NewAnalyser(),
		timer:     timer,
		startedAt: timer.StartedAt(),
		format:    format,
		stopRec:   make(chan struct{}),
		recDone:   make(chan struct{}),
	}
}

// record consumes frames until release is called or the stream ends.
func (r *recording) record() {
	defer close(r.recDone)
	frames := r.stream.Frames()
	for {
		select {
		case <-r.stopRec:
			return
		case f, ok := <-frames:
			if !ok {
				r.ended.Store(true)
				return
			}
			r.analyser.Observe(f)
			r.mu.Lock()
			r.pcm.Write(f.Data)
			if f.SampleRate > 0 && f.Channels > 0 {
				r.format = audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
			}
			r.mu.Unlock()
		}
	}
}

// release tears the capture down in order: tick loop, recorder, analyser,
// device. It runs once; concurrent callers block until it has finished.
func (r *recording) release() error {
	r.once.Do(func() {
		if r.stopTicks != nil {
			r.stopTicks()
		}
		close(r.stopRec)
		<-r.recDone
		r.analyser.Close()
		if err := r.stream.Close(); err != nil {
			r.closeErr = errors.Join(audio.ErrCaptureUnavailable, err)
		}
	})
	return r.closeErr
}

// take returns the captured PCM and its format. The buffer is handed over;
// the recording keeps no reference to it.
func (r *recording) take() ([]byte, audio.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pcm := r.pcm.Bytes()
	r.pcm = bytes.Buffer{}
	return pcm, r.format
}
