// Package narrator speaks assistant replies aloud, one utterance at a time.
//
// A new utterance always wins: [Narrator.Speak] cancels whatever is playing
// and starts the new text once the interrupted utterance has released the
// speaker. Nothing is queued.
package narrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/format"
	"github.com/MrWong99/murmur/internal/observe"
)

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "en-US"

// Speaker produces speech. Speak blocks until the utterance finishes and
// returns early with ctx.Err() when ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text, locale string) error
}

// Option configures a [Narrator].
type Option func(*Narrator)

// WithLocale sets the initial narration locale.
func WithLocale(locale string) Option {
	return func(n *Narrator) {
		if locale != "" {
			n.locale = locale
		}
	}
}

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Narrator) {
		n.metrics = m
	}
}

// Narrator is a single-slot speech controller. All methods are safe for
// concurrent use.
type Narrator struct {
	speaker Speaker
	metrics *observe.Metrics

	mu      sync.Mutex
	locale  string
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
	current string
}

// New returns a Narrator speaking through s.
func New(s Speaker, opts ...Option) *Narrator {
	n := &Narrator{speaker: s, locale: DefaultLocale}
	for _, o := range opts {
		o(n)
	}
	if n.metrics == nil {
		n.metrics = observe.DefaultMetrics()
	}
	return n
}

// SetLocale changes the locale used for subsequent utterances.
func (n *Narrator) SetLocale(locale string) {
	if locale == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locale = locale
}

// Locale returns the current narration locale.
func (n *Narrator) Locale() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.locale
}

// Speaking returns the text currently being spoken, or "".
func (n *Narrator) Speaking() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Speak interrupts the current utterance and speaks text. Markdown is
// stripped first; text that is empty afterwards only interrupts.
// Speak returns immediately.
func (n *Narrator) Speak(text string) {
	text = format.StripMarkdown(text)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.interruptLocked()
	if text == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := n.done
	done := make(chan struct{})
	n.cancel = cancel
	n.done = done
	locale := n.locale

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		n.setCurrent(done, text)
		n.run(ctx, text, locale)
		n.setCurrent(done, "")
	}()
}

// Stop interrupts the current utterance without starting another.
func (n *Narrator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interruptLocked()
}

// Wait blocks until no utterance is in flight.
func (n *Narrator) Wait() {
	n.wg.Wait()
}

// Close stops narration, waits for the speaker to return and rejects further
// Speak calls. Close is idempotent.
func (n *Narrator) Close() error {
	n.mu.Lock()
	n.closed = true
	n.interruptLocked()
	n.mu.Unlock()
	n.wg.Wait()
	return nil
}

func (n *Narrator) interruptLocked() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

// setCurrent updates the spoken text only while owner is the newest utterance.
func (n *Narrator) setCurrent(owner chan struct{}, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done == owner {
		n.current = text
	}
}

func (n *Narrator) run(ctx context.Context, text, locale string) {
	start := time.Now()
	err := n.speaker.Speak(ctx, text, locale)
	status := "completed"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		status = "interrupted"
	default:
		status = "error"
		slog.Warn("narrator: speak failed", "err", err, "locale", locale)
	}
	n.metrics.RecordNarration(context.Background(), status, time.Since(start))
}

// LogSpeaker is a [Speaker] that only logs the text. It is used when no TTS
// provider is configured.
type LogSpeaker struct {
	Logger *slog.Logger
}

// Speak implements [Speaker].
func (s LogSpeaker) Speak(ctx context.Context, text, locale string) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("narration", "locale", locale, "text", text)
	return ctx.Err()
}
