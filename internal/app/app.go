// Package app wires all murmur subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithScheduler,
// WithListener, etc.) and a hand-built [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/control"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/narrator"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/submit"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/backend"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// narrationFormat is the PCM format requested from every TTS provider.
var narrationFormat = audio.Format{SampleRate: 16000, Channels: 1}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or defaulted in New.
	metrics     *observe.Metrics
	sessionID   string
	scheduler   session.Scheduler
	httpClient  *http.Client
	listener    net.Listener
	promHandler http.Handler
	levelVar    *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	transcript *transcript.Transcript
	narrator   *narrator.Narrator
	pipeline   *submit.Pipeline
	session    *session.Session
	control    *control.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionID fixes the conversation session id instead of generating a
// random UUID.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// WithScheduler replaces the recording tick scheduler.
func WithScheduler(s session.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

// WithHTTPClient sets the client used to reach the backend.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithListener serves the control API on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithPrometheusHandler replaces promhttp.Handler at /metrics.
func WithPrometheusHandler(h http.Handler) Option {
	return func(a *App) { a.promHandler = h }
}

// WithLevelVar lets [App.ApplyDiff] change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Capture == nil {
		return nil, errors.New("app: a capture device is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	if a.scheduler == nil {
		a.scheduler = session.TickerScheduler{Interval: cfg.VAD.TickInterval}
	}
	if a.promHandler == nil {
		a.promHandler = promhttp.Handler()
	}

	// ── 1. Backend client ────────────────────────────────────────────────
	client, err := a.newBackend()
	if err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	// ── 2. Transcript + narrator ─────────────────────────────────────────
	a.transcript = transcript.New()
	speaker, err := a.newSpeaker()
	if err != nil {
		return nil, fmt.Errorf("app: init narrator: %w", err)
	}
	a.narrator = narrator.New(speaker,
		narrator.WithLocale(cfg.Narrator.Locale),
		narrator.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.narrator.Close)

	// ── 3. Submission pipeline ───────────────────────────────────────────
	a.pipeline = submit.New(client, a.transcript, a.narrator,
		submit.WithLabels(submit.Labels{
			ProcessingAudio: cfg.Labels.ProcessingAudio,
			AudioProcessed:  cfg.Labels.AudioProcessed,
			ProcessingText:  cfg.Labels.ProcessingText,
			EmptyAudioReply: cfg.Labels.EmptyAudioReply,
			EmptyTextReply:  cfg.Labels.EmptyTextReply,
		}),
		submit.WithUploadTimeout(cfg.Backend.UploadTimeout),
		submit.WithTextTimeout(cfg.Backend.TextTimeout),
		submit.WithMetrics(a.metrics),
	)

	// ── 4. Recording session ─────────────────────────────────────────────
	a.session, err = session.New(session.Config{
		ID:         a.sessionID,
		Device:     providers.Capture,
		Submitter:  a.pipeline,
		Transcript: a.transcript,
		Narrator:   a.narrator,
		VAD:        cfg.VAD.Params(),
		Format:     audio.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels},
	},
		session.WithScheduler(a.scheduler),
		session.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	// The session closes before the narrator so that a recording in flight
	// cannot narrate into a closed narrator.
	a.closers = append(a.closers, a.session.Close)

	// ── 5. Control API ───────────────────────────────────────────────────
	a.control = control.New(a.session, a.transcript,
		control.WithHealth(health.New(a.checkers()...)),
		control.WithMetricsHandler(a.promHandler),
		control.WithMiddleware(observe.Middleware(a.metrics)),
		control.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)

	slog.InfoContext(ctx, "app initialised",
		"session_id", a.sessionID,
		"backend", cfg.Backend.BaseURL,
		"locale", cfg.Narrator.Locale,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) newBackend() (*backend.Client, error) {
	var opts []backend.Option
	if a.httpClient != nil {
		opts = append(opts, backend.WithHTTPClient(a.httpClient))
	}
	if p := a.cfg.Backend.AudioPath; p != "" {
		opts = append(opts, backend.WithAudioPath(p))
	}
	if p := a.cfg.Backend.TextPath; p != "" {
		opts = append(opts, backend.WithTextPath(p))
	}
	return backend.New(a.cfg.Backend.BaseURL, opts...)
}

// newSpeaker returns a TTS speaker when both a provider and a player are
// configured, and a log-only speaker otherwise.
func (a *App) newSpeaker() (narrator.Speaker, error) {
	p := a.providers
	if p.TTS == nil || p.Player == nil {
		if p.TTS != nil {
			slog.Warn("tts provider configured without a player; narration goes to the log")
		}
		return narrator.LogSpeaker{}, nil
	}
	primary := a.cfg.Narrator.TTS.Primary
	voiceID := a.cfg.Narrator.VoiceID
	if primary.VoiceID != "" {
		voiceID = primary.VoiceID
	}
	voice := tts.VoiceProfile{ID: voiceID, Provider: primary.Name}
	return tts.NewSpeaker(p.TTS, p.Player, voice, narrationFormat)
}

// checkers returns the readiness checks: the backend must answer and the
// TTS chain, when present, must have at least one closed circuit.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		health.HTTPCheck("backend", a.httpClient, a.cfg.Backend.BaseURL),
	}
	if rep := a.providers.TTSHealth; rep != nil {
		checks = append(checks, health.Checker{
			Name: "tts",
			Check: func(context.Context) error {
				if !rep.Healthy() {
					return fmt.Errorf("all providers unavailable: %v", rep.States())
				}
				return nil
			},
		})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Session returns the recording session.
func (a *App) Session() *session.Session { return a.session }

// Transcript returns the conversation transcript.
func (a *App) Transcript() *transcript.Transcript { return a.transcript }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.control.Handler() }

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run serves the control API until ctx is cancelled. When ctx ends, any
// recording is discarded immediately so that the microphone is released
// before the HTTP server finishes draining.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.listener != nil {
			return a.control.Serve(gctx, a.listener)
		}
		return a.control.ListenAndServe(gctx, a.cfg.Server.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.session.Cleanup()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyDiff applies the hot-reloadable part of a config change and logs the
// sections that need a restart.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LocaleChanged {
		a.narrator.SetLocale(d.NewLocale)
		slog.Info("narration locale changed", "locale", d.NewLocale)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown tears down all subsystems in reverse init order. It honours the
// context deadline: if ctx expires before all closers finish, Shutdown
// returns ctx.Err(). Calling Shutdown more than once returns the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			var errs []error
			for i := len(a.closers) - 1; i >= 0; i-- {
				if err := a.closers[i](); err != nil {
					errs = append(errs, err)
				}
			}
			done <- errors.Join(errs...)
		}()

		select {
		case err := <-done:
			a.stopErr = err
		case <-ctx.Done():
			a.stopErr = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return a.stopErr
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
