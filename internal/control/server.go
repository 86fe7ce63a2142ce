// Package control exposes a recording session over a local HTTP API so that
// a UI (browser page, hotkey daemon, editor plugin) can drive it.
//
//	GET  /api/state             current session snapshot
//	GET  /api/transcript        transcript entries
//	POST /api/recording/start   open the microphone
//	POST /api/recording/stop    finish the recording and upload it
//	POST /api/messages          submit a typed message, {"message": "..."}
//	GET  /api/events            WebSocket stream of state and transcript events
//
// The health probes and the Prometheus endpoint are mounted on the same mux
// when configured.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/murmur/internal/errclass"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/submit"
	"github.com/MrWong99/murmur/internal/transcript"
)

const (
	// maxMessageBytes bounds the body of POST /api/messages.
	maxMessageBytes = 64 << 10

	shutdownTimeout = 5 * time.Second
)

// Session is the subset of [session.Session] driven by the API.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (cancel func())
	Start(ctx context.Context) error
	Stop() error
	SubmitText(ctx context.Context, message string) (submit.Outcome, error)
}

// Transcript is the subset of [transcript.Transcript] exposed by the API.
type Transcript interface {
	Entries() []transcript.Entry
	Subscribe(fn func([]transcript.Entry)) (cancel func())
}

var (
	_ Session    = (*session.Session)(nil)
	_ Transcript = (*transcript.Transcript)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMiddleware wraps the whole mux, outermost first.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// WithOriginPatterns allows WebSocket connections from the given host
// patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// Server serves the control API.
type Server struct {
	sess       Session
	transcript Transcript

	health     *health.Handler
	metrics    http.Handler
	middleware []func(http.Handler) http.Handler
	origins    []string

	handler http.Handler
}

// New returns a Server for sess and t.
func New(sess Session, t Transcript, opts ...Option) *Server {
	s := &Server{sess: sess, transcript: t}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("POST /api/recording/start", s.handleStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleStop)
	mux.HandleFunc("POST /api/messages", s.handleMessage)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	var h http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	s.handler = h
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	slog.Info("control: listening", "addr", l.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control: serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %q: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// ─── handlers ───────────────────────────────────────────────────────────────

// entryView is a transcript entry as served to clients.
type entryView struct {
	transcript.Entry
	Clock string `json:"clock"`
}

func viewEntries(entries []transcript.Entry) []entryView {
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = entryView{Entry: e, Clock: e.Clock()}
	}
	return out
}

type transcriptResponse struct {
	Entries []entryView `json:"entries"`
}

// errorResponse is the body of every non-2xx API answer. Kind is set when the
// failure was classified.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, transcriptResponse{Entries: viewEntries(s.transcript.Entries())})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.sess.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.sess.Snapshot())
	case errors.Is(err, session.ErrAlreadyRecording), errors.Is(err, session.ErrInterrupted):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		kind, msg := errclass.ClassifyAudio(err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msg, Kind: kind.String()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.sess.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotRecording) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.sess.Snapshot())
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// A client that hangs up still gets its reply in the transcript.
	out, err := s.sess.SubmitText(context.WithoutCancel(r.Context()), req.Message)
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, session.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	if !out.OK() {
		writeJSON(w, http.StatusBadGateway, messageResponse{
			Kind:  out.Kind.String(),
			Error: errclass.Message(out.Kind),
		})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{OK: true, Reply: out.Reply})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("control: write response", "err", err)
	}
}
