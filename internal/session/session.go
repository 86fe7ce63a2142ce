// Package session implements the recording session: a small state machine
// that opens the microphone, runs voice-activity detection on a periodic
// tick, and hands the finished recording to the submission pipeline.
//
// A Session allows one recording at a time. Every path out of a recording,
// whether silence, an explicit Stop or Cleanup, releases the capture
// resources in the same order (tick loop, recorder, analyser, device) before
// the session leaves Finalizing, and every path ends in Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/errclass"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/submit"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/vad"
)

var (
	// ErrAlreadyRecording is returned by Start when the session is not Idle.
	ErrAlreadyRecording = errors.New("session: a recording is already in progress")

	// ErrNotRecording is returned by Stop when there is no recording to end.
	ErrNotRecording = errors.New("session: not recording")

	// ErrBusy is returned by SubmitText while a recording or submission is in
	// flight.
	ErrBusy = errors.New("session: busy")

	// ErrEmptyMessage is returned by SubmitText for blank messages.
	ErrEmptyMessage = errors.New("session: message is empty")

	// ErrInterrupted is returned by Start when Cleanup ran while the device
	// was being opened.
	ErrInterrupted = errors.New("session: interrupted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Submitter sends finished recordings and typed messages.
// *submit.Pipeline satisfies it.
type Submitter interface {
	SubmitAudio(ctx context.Context, payload audio.CapturedAudio, sessionID string) submit.Outcome
	SubmitText(ctx context.Context, message, sessionID string) submit.Outcome
}

// Narrator speaks and silences assistant output.
// *narrator.Narrator satisfies it.
type Narrator interface {
	Speak(text string)
	Stop()
}

var _ Submitter = (*submit.Pipeline)(nil)

// Snapshot is the observable state of a Session.
type Snapshot struct {
	State State `json:"state"`

	// AudioLevel is the latest energy sample while recording, else 0.
	AudioLevel float64 `json:"audioLevel"`

	// Pulse is AudioLevel mapped onto [0, 1] for visual feedback.
	Pulse float64 `json:"pulse"`

	SessionID string `json:"sessionId"`
}

// pulseScale is the level at which Pulse saturates.
const pulseScale = 5.0

// Pulse maps an energy level onto [0, 1].
func Pulse(level float64) float64 {
	return min(max(level/pulseScale, 0), 1)
}

// Config holds the dependencies of a [Session].
type Config struct {
	// ID is the conversation session id sent with every submission.
	ID string

	Device     audio.CaptureDevice
	Submitter  Submitter
	Transcript *transcript.Transcript
	Narrator   Narrator

	// VAD parameters, fixed for the lifetime of the session. Zero value means
	// [vad.DefaultConfig].
	VAD vad.Config

	// Format is assumed for captured audio when frames carry none.
	// Default 16 kHz mono.
	Format audio.Format
}

// Option configures a [Session].
type Option func(*Session)

// WithScheduler replaces the default [TickerScheduler].
func WithScheduler(s Scheduler) Option {
	return func(sess *Session) { sess.scheduler = s }
}

// WithClock overrides the time source used for recording start times and
// transcript entries.
func WithClock(now func() time.Time) Option {
	return func(sess *Session) { sess.now = now }
}

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(sess *Session) { sess.metrics = m }
}

// Session is a single-user recording session. All methods are safe for
// concurrent use.
type Session struct {
	id         string
	device     audio.CaptureDevice
	submitter  Submitter
	transcript *transcript.Transcript
	narrator   Narrator
	vadCfg     vad.Config
	format     audio.Format
	scheduler  Scheduler
	now        func() time.Time
	metrics    *observe.Metrics

	mu     sync.Mutex
	state  State
	level  float64
	gen    uint64
	rec    *recording
	cancel context.CancelFunc
	closed bool

	// draining is the recording Cleanup is releasing. The session stays in
	// Finalizing until its device is closed.
	draining *recording

	inflight sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates an idle Session.
func New(cfg Config, opts ...Option) (*Session, error) {
	var errs []error
	if cfg.ID == "" {
		errs = append(errs, errors.New("session ID must not be empty"))
	}
	if cfg.Device == nil {
		errs = append(errs, errors.New("capture device is required"))
	}
	if cfg.Submitter == nil {
		errs = append(errs, errors.New("submitter is required"))
	}
	if cfg.Transcript == nil {
		errs = append(errs, errors.New("transcript is required"))
	}
	if cfg.Narrator == nil {
		errs = append(errs, errors.New("narrator is required"))
	}
	if cfg.VAD == (vad.Config{}) {
		cfg.VAD = vad.DefaultConfig()
	}
	if err := cfg.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("session: new: %w", errors.Join(errs...))
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.Channels <= 0 {
		cfg.Format = audio.Format{SampleRate: 16000, Channels: 1}
	}

	s := &Session{
		id:         cfg.ID,
		device:     cfg.Device,
		submitter:  cfg.Submitter,
		transcript: cfg.Transcript,
		narrator:   cfg.Narrator,
		vadCfg:     cfg.VAD,
		format:     cfg.Format,
		scheduler:  TickerScheduler{},
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// ID returns the conversation session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:      s.state,
		AudioLevel: s.level,
		Pulse:      Pulse(s.level),
		SessionID:  s.id,
	}
}

// Subscribe registers fn to receive a snapshot after every observable
// change. fn runs synchronously and must not call Start, Stop, SubmitText,
// Cleanup or Close. The returned function removes the subscription.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(Snapshot))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// notify delivers the current snapshot. Taking it under subMu keeps
// deliveries ordered.
func (s *Session) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.subs {
		fn(snap)
	}
}

// Start opens the microphone and begins a recording.
//
// Start fails with [ErrAlreadyRecording] unless the session is Idle, leaving
// everything untouched. When the device cannot be opened the session
// returns to Idle and the classified error is appended to the transcript and
// narrated before Start returns it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.gen++
	gen := s.gen
	s.state = Acquiring
	s.mu.Unlock()
	s.notify()

	s.narrator.Stop()
	log := observe.Logger(observe.WithSession(ctx, s.id))

	stream, err := s.device.Open(ctx)
	if err != nil {
		s.mu.Lock()
		interrupted := s.gen != gen
		if !interrupted && s.state == Acquiring {
			s.state = Idle
		}
		s.mu.Unlock()
		if interrupted {
			log.Debug("session: open capture failed after cleanup", "err", err)
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		s.notify()

		kind := s.reportCaptureError(ctx, err)
		log.Warn("session: open capture device", "err", err, "class", kind)
		return fmt.Errorf("session: open capture: %w", err)
	}

	now := s.now()
	rec := newRecording(gen, stream, vad.NewTimer(s.vadCfg, now), s.format)

	s.mu.Lock()
	if s.gen != gen || s.state != Acquiring {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrInterrupted
	}
	s.state = Recording
	s.level = 0
	s.rec = rec
	go rec.record()
	go s.watch(rec)
	rec.stopTicks = s.scheduler.Start(func(now time.Time) { s.tick(rec, now) })
	s.mu.Unlock()

	s.metrics.ActiveRecordings.Add(ctx, 1)
	log.Info("recording started", "threshold", s.vadCfg.Threshold, "silence_timeout", s.vadCfg.SilenceTimeout)
	s.notify()
	return nil
}

// tick runs one analysis step. Ticks belonging to an older recording are
// ignored.
func (s *Session) tick(rec *recording, now time.Time) {
	s.mu.Lock()
	live := s.rec == rec && s.state == Recording
	s.mu.Unlock()
	if !live {
		return
	}

	sample, err := rec.analyser.Sample(now)
	if err != nil {
		return
	}
	switch rec.timer.Update(sample, now) {
	case vad.SilenceTimeout:
		s.finalize(rec, triggerSilence)
	default:
		s.mu.Lock()
		if s.rec == rec && s.state == Recording {
			s.level = sample.Level
		}
		s.mu.Unlock()
		s.notify()
	}
}

// Stop ends the current recording and submits it. It returns
// [ErrNotRecording] when no recording is in progress. The upload runs in
// the background; see [Session.Wait].
func (s *Session) Stop() error {
	s.mu.Lock()
	rec := s.rec
	recording := s.state == Recording
	s.mu.Unlock()
	if !recording || rec == nil {
		return ErrNotRecording
	}
	if !s.finalize(rec, triggerManual) {
		return ErrNotRecording
	}
	return nil
}

// Recording end triggers, as reported in metrics and logs.
const (
	triggerManual    = "manual"
	triggerSilence   = "silence"
	triggerStreamEnd = "stream_end"
)

// watch finalizes rec when its device stops delivering frames on its own.
func (s *Session) watch(rec *recording) {
	<-rec.recDone
	if rec.ended.Load() {
		s.finalize(rec, triggerStreamEnd)
	}
}

// finalize releases the capture, assembles the recording and starts the
// upload. It reports whether this call performed the transition out of
// Recording.
//
// A recording ended by triggerStreamEnd lost its device: the classified
// capture error is appended and narrated, and whatever was captured before
// the loss is still uploaded.
func (s *Session) finalize(rec *recording, trigger string) bool {
	s.mu.Lock()
	if s.rec != rec || s.state != Recording {
		s.mu.Unlock()
		return false
	}
	s.state = Finalizing
	s.level = 0
	s.mu.Unlock()
	s.notify()

	ctx := observe.WithSession(context.Background(), s.id)
	log := observe.Logger(ctx)

	releaseErr := rec.release()
	if releaseErr != nil {
		log.Warn("session: release capture", "err", releaseErr)
	}
	s.metrics.ActiveRecordings.Add(ctx, -1)

	pcm, format := rec.take()
	length := time.Duration(0)
	if bps := format.BytesPerSecond(); bps > 0 {
		length = time.Duration(len(pcm)) * time.Second / time.Duration(bps)
	}

	s.mu.Lock()
	if s.rec != rec {
		// Cleanup took over while the capture was being released.
		s.mu.Unlock()
		s.metrics.RecordRecording(ctx, "cleanup", "discarded", length)
		return true
	}
	s.rec = nil

	reportLoss := func() {}
	if trigger == triggerStreamEnd {
		lost := releaseErr
		if lost == nil {
			lost = fmt.Errorf("%w: stream ended", audio.ErrCaptureUnavailable)
		}
		reportLoss = func() {
			kind := s.reportCaptureError(ctx, lost)
			log.Warn("session: capture stream ended", "err", lost, "class", kind, "bytes", len(pcm))
		}
	}

	if len(pcm) == 0 {
		s.state = Idle
		s.mu.Unlock()
		s.notify()
		reportLoss()
		s.metrics.RecordRecording(ctx, trigger, "empty", 0)
		log.Info("recording ended without audio", "trigger", trigger)
		return true
	}

	data, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		s.state = Idle
		s.mu.Unlock()
		s.notify()
		reportLoss()
		s.metrics.RecordRecording(ctx, trigger, "error", length)
		kind := s.reportCaptureError(ctx, err)
		log.Error("session: encode recording", "err", err, "class", kind)
		return true
	}
	payload := audio.CapturedAudio{
		Data:      data,
		MediaType: audio.MediaTypeWAV,
		Filename:  "voice.wav",
		Duration:  length,
	}

	upCtx, cancel := context.WithCancel(ctx)
	s.state = Uploading
	s.cancel = cancel
	s.inflight.Add(1)
	gen := s.gen
	s.mu.Unlock()
	s.notify()

	reportLoss()
	s.metrics.RecordRecording(ctx, trigger, "uploaded", length)
	log.Info("recording finished", "trigger", trigger, "bytes", len(data), "length", length)

	go func() {
		defer s.inflight.Done()
		defer cancel()
		s.submitter.SubmitAudio(upCtx, payload, s.id)
		s.finishSubmission(gen)
	}()
	return true
}

// reportCaptureError appends the user-facing message for a capture failure
// to the transcript and narrates it.
func (s *Session) reportCaptureError(ctx context.Context, err error) errclass.Kind {
	kind, msg := errclass.ClassifyAudio(err)
	s.metrics.RecordError(ctx, "capture", kind.String())
	s.transcript.Append(transcript.Entry{
		Role:      transcript.RoleModel,
		Content:   msg,
		Timestamp: s.now(),
	})
	s.narrator.Speak(msg)
	return kind
}

// finishSubmission returns to Idle unless Cleanup or a new request already
// moved the session on.
func (s *Session) finishSubmission(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != Uploading {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	s.cancel = nil
	s.mu.Unlock()
	s.notify()
}

// SubmitText sends a typed message and blocks until the reply has been
// written to the transcript. It fails with [ErrEmptyMessage] for blank input
// and with [ErrBusy] unless the session is Idle.
func (s *Session) SubmitText(ctx context.Context, message string) (submit.Outcome, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return submit.Outcome{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return submit.Outcome{}, ErrClosed
	}
	if s.state != Idle {
		s.mu.Unlock()
		return submit.Outcome{}, ErrBusy
	}
	s.gen++
	gen := s.gen
	reqCtx, cancel := context.WithCancel(ctx)
	s.state = Uploading
	s.cancel = cancel
	s.inflight.Add(1)
	s.mu.Unlock()
	s.notify()

	defer s.inflight.Done()
	defer cancel()

	s.narrator.Stop()
	out := s.submitter.SubmitText(reqCtx, message, s.id)
	s.finishSubmission(gen)
	return out, nil
}

// Cleanup returns the session to Idle from any state. It releases an open
// capture, cancels an in-flight submission and silences the narrator.
// Cleanup is idempotent.
//
// When a capture is open the session passes through Finalizing and only
// reaches Idle once the device is closed, so Start cannot claim the device
// while it is still being released. Cleanup returns after that.
func (s *Session) Cleanup() {
	s.mu.Lock()
	rec := s.rec
	if rec == nil {
		rec = s.draining
	}
	cancel := s.cancel
	changed := s.state != Idle
	wasRecording := s.state == Recording
	s.rec = nil
	s.cancel = nil
	s.gen++
	gen := s.gen
	s.level = 0
	if rec != nil {
		s.state = Finalizing
		s.draining = rec
	} else {
		s.state = Idle
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	if cancel != nil {
		cancel()
	}
	s.narrator.Stop()
	if rec == nil {
		return
	}

	if err := rec.release(); err != nil {
		slog.Warn("session: release capture", "session_id", s.id, "err", err)
	}
	if wasRecording {
		ctx := context.Background()
		s.metrics.ActiveRecordings.Add(ctx, -1)
		s.metrics.RecordRecording(ctx, "cleanup", "discarded", time.Since(rec.startedAt))
	}

	s.mu.Lock()
	if s.draining == rec {
		s.draining = nil
	}
	idle := s.gen == gen && s.state == Finalizing
	if idle {
		s.state = Idle
	}
	s.mu.Unlock()
	if idle {
		s.notify()
	}
}

// Wait blocks until no submission is in flight.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close cleans up, rejects further commands and waits for in-flight work.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cleanup()
	s.Wait()
	return nil
}
