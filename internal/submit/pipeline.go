// Package submit sends finished recordings and typed messages to the backend
// and keeps the transcript consistent with the result.
//
// Every request follows the placeholder protocol: a temporary entry is
// appended before any network I/O and is always replaced in place or removed
// once the request resolves, whatever the outcome. The reply, or the
// classified error text, is handed to the narrator.
package submit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/errclass"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/backend"
)

// DefaultUploadTimeout bounds an audio submission.
const DefaultUploadTimeout = 30 * time.Second

// Backend is the remote transcription and response service.
// *backend.Client satisfies it.
type Backend interface {
	SubmitAudio(ctx context.Context, payload audio.CapturedAudio, sessionID string) (*backend.AudioResponse, error)
	SubmitText(ctx context.Context, text, sessionID string) (*backend.TextResponse, error)
}

// Narrator speaks text aloud. *narrator.Narrator satisfies it.
type Narrator interface {
	Speak(text string)
}

var _ Backend = (*backend.Client)(nil)

// Labels are the fixed texts shown while requests are pending and when the
// backend returns an empty reply.
type Labels struct {
	ProcessingAudio string
	AudioProcessed  string
	ProcessingText  string
	EmptyAudioReply string
	EmptyTextReply  string
}

// DefaultLabels returns the English labels.
func DefaultLabels() Labels {
	return Labels{
		ProcessingAudio: "Processing audio…",
		AudioProcessed:  "Audio processed",
		ProcessingText:  "Processing…",
		EmptyAudioReply: "Could not get a transcription.",
		EmptyTextReply:  "Could not get a response.",
	}
}

// withDefaults fills empty labels from [DefaultLabels].
func (l Labels) withDefaults() Labels {
	d := DefaultLabels()
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Labels{
		ProcessingAudio: pick(l.ProcessingAudio, d.ProcessingAudio),
		AudioProcessed:  pick(l.AudioProcessed, d.AudioProcessed),
		ProcessingText:  pick(l.ProcessingText, d.ProcessingText),
		EmptyAudioReply: pick(l.EmptyAudioReply, d.EmptyAudioReply),
		EmptyTextReply:  pick(l.EmptyTextReply, d.EmptyTextReply),
	}
}

// Outcome is the result of one submission. Err is nil on success, in which
// case Kind is meaningless. Reply is the text appended for the model, either
// the backend reply or the classified error message.
type Outcome struct {
	Kind  errclass.Kind
	Err   error
	Reply string
}

// OK reports whether the submission succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLabels overrides the placeholder and fallback texts. Empty fields keep
// their defaults.
func WithLabels(l Labels) Option {
	return func(p *Pipeline) { p.labels = l.withDefaults() }
}

// WithUploadTimeout bounds audio submissions. Zero or negative restores
// [DefaultUploadTimeout].
func WithUploadTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.uploadTimeout = d
		}
	}
}

// WithTextTimeout bounds text submissions. The default of zero leaves the
// timeout to the transport.
func WithTextTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.textTimeout = d }
}

// WithClock overrides the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline submits audio and text to the backend. It is safe for concurrent
// use, though the recording session never runs two submissions at once.
type Pipeline struct {
	backend       Backend
	transcript    *transcript.Transcript
	narrator      Narrator
	labels        Labels
	uploadTimeout time.Duration
	textTimeout   time.Duration
	now           func() time.Time
	metrics       *observe.Metrics
}

// New returns a Pipeline writing to t and speaking through n.
func New(b Backend, t *transcript.Transcript, n Narrator, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend:       b,
		transcript:    t,
		narrator:      n,
		labels:        DefaultLabels(),
		uploadTimeout: DefaultUploadTimeout,
		now:           time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SubmitAudio uploads a finished recording.
//
// When ctx itself is cancelled the placeholder is removed and the outcome
// carries the error, but no entry is appended and nothing is spoken.
//
// A temporary user entry is shown while the upload is pending. On success it
// is replaced with the transcription resolved by the server, or with the
// "audio processed" label when the response carries no usable history, and
// the model reply is appended and narrated. On failure the placeholder is
// removed and a classified error entry is appended and narrated instead.
func (p *Pipeline) SubmitAudio(ctx context.Context, payload audio.CapturedAudio, sessionID string) Outcome {
	ctx = observe.WithSession(ctx, sessionID)
	ctx, span := observe.StartSpan(ctx, "submit.audio",
		trace.WithAttributes(attribute.Int("audio.bytes", len(payload.Data))),
	)
	defer span.End()

	placeholder := p.transcript.AppendTemporary(transcript.Entry{
		Role:      transcript.RoleUser,
		Content:   p.labels.ProcessingAudio,
		Timestamp: p.now(),
	})

	start := time.Now()
	upCtx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
	resp, err := p.backend.SubmitAudio(upCtx, payload, sessionID)
	cancel()

	if err != nil && ctx.Err() != nil {
		placeholder.Remove()
		p.cancelled(ctx, "audio", time.Since(start))
		return Outcome{Kind: errclass.KindOf(err), Err: err}
	}
	if err != nil {
		// The deadline may surface as a transport error; report it as such.
		if errors.Is(upCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(err, context.DeadlineExceeded)
		}
		kind, msg := errclass.ClassifyAudio(err)
		placeholder.Remove()
		p.transcript.Append(transcript.Entry{
			Role:      transcript.RoleModel,
			Content:   msg,
			Timestamp: p.now(),
		})
		p.fail(ctx, span, "audio", kind, err, time.Since(start))
		p.narrator.Speak(msg)
		return Outcome{Kind: kind, Err: err, Reply: msg}
	}

	userText := p.labels.AudioProcessed
	userAt := p.now()
	reply := resp.Response
	replyAt := userAt
	if user, model, ok := resp.LastExchange(); ok {
		userText = user.Content
		if t, ok := user.Time(); ok {
			userAt = t
		}
		reply = model.Content
		if t, ok := model.Time(); ok {
			replyAt = t
		}
	}
	if strings.TrimSpace(reply) == "" {
		reply = p.labels.EmptyAudioReply
	}

	placeholder.Replace(transcript.Entry{
		Role:      transcript.RoleUser,
		Content:   userText,
		Timestamp: userAt,
	})
	p.transcript.Append(transcript.Entry{
		Role:      transcript.RoleModel,
		Content:   reply,
		Timestamp: replyAt,
	})
	p.metrics.RecordSubmission(ctx, "audio", "ok", time.Since(start))
	observe.Logger(ctx).Info("audio submitted", "history", len(resp.History), "latency", time.Since(start))
	p.narrator.Speak(reply)
	return Outcome{Reply: reply}
}

// SubmitText sends a typed message. The message is shown immediately as a
// permanent user entry; a temporary model entry stands in for the reply and
// is replaced in place with the reply or the classified error.
func (p *Pipeline) SubmitText(ctx context.Context, message, sessionID string) Outcome {
	ctx = observe.WithSession(ctx, sessionID)
	ctx, span := observe.StartSpan(ctx, "submit.text")
	defer span.End()

	p.transcript.Append(transcript.Entry{
		Role:      transcript.RoleUser,
		Content:   message,
		Timestamp: p.now(),
	})
	placeholder := p.transcript.AppendTemporary(transcript.Entry{
		Role:      transcript.RoleModel,
		Content:   p.labels.ProcessingText,
		Timestamp: p.now(),
	})

	start := time.Now()
	reqCtx, cancel := ctx, func() {}
	if p.textTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.textTimeout)
	}
	resp, err := p.backend.SubmitText(reqCtx, message, sessionID)
	cancel()

	if err != nil && ctx.Err() != nil {
		placeholder.Remove()
		p.cancelled(ctx, "text", time.Since(start))
		return Outcome{Kind: errclass.KindOf(err), Err: err}
	}

	var out Outcome
	if err != nil {
		kind, msg := errclass.Classify(err)
		p.fail(ctx, span, "text", kind, err, time.Since(start))
		out = Outcome{Kind: kind, Err: err, Reply: msg}
	} else {
		reply := resp.Response
		if strings.TrimSpace(reply) == "" {
			reply = p.labels.EmptyTextReply
		}
		p.metrics.RecordSubmission(ctx, "text", "ok", time.Since(start))
		observe.Logger(ctx).Info("text submitted", "latency", time.Since(start))
		out = Outcome{Reply: reply}
	}

	entry := transcript.Entry{Role: transcript.RoleModel, Content: out.Reply, Timestamp: p.now()}
	if !placeholder.Replace(entry) {
		p.transcript.Append(entry)
	}
	p.narrator.Speak(out.Reply)
	return out
}

// cancelled handles a request abandoned by the caller. The placeholder is
// dropped and nothing is narrated.
func (p *Pipeline) cancelled(ctx context.Context, kind string, latency time.Duration) {
	p.metrics.RecordSubmission(context.WithoutCancel(ctx), kind, "cancelled", latency)
	observe.Logger(ctx).Info("submission cancelled", "kind", kind)
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, kind string, k errclass.Kind, err error, latency time.Duration) {
	span.RecordError(err)
	span.SetStatus(codes.Error, k.String())
	p.metrics.RecordSubmission(ctx, kind, k.String(), latency)
	p.metrics.RecordError(ctx, "submit_"+kind, k.String())
	observe.Logger(ctx).Warn("submission failed", "kind", kind, "class", k, "err", err)
}
