package control_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/murmur/internal/control"
	"github.com/MrWong99/murmur/internal/errclass"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/submit"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/audio"
)

// fakeSession is a hand-written control.Session.
type fakeSession struct {
	mu       sync.Mutex
	snap     session.Snapshot
	startErr error
	stopErr  error
	outcome  submit.Outcome
	textErr  error
	messages []string
	ctxErrs  []error
	subs     map[int]func(session.Snapshot)
	nextSub  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		snap: session.Snapshot{State: session.Idle, SessionID: "s-1"},
		subs: make(map[int]func(session.Snapshot)),
	}
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Subscribe(fn func(session.Snapshot)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSession) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSession) set(snap session.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	subs := make([]func(session.Snapshot), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (f *fakeSession) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.set(session.Snapshot{State: session.Recording, SessionID: "s-1"})
	return nil
}

func (f *fakeSession) Stop() error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.set(session.Snapshot{State: session.Uploading, SessionID: "s-1"})
	return nil
}

func (f *fakeSession) SubmitText(ctx context.Context, msg string) (submit.Outcome, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	if strings.TrimSpace(msg) == "" {
		return submit.Outcome{}, session.ErrEmptyMessage
	}
	return f.outcome, f.textErr
}

func newServer(t *testing.T, sess *fakeSession, tr *transcript.Transcript, opts ...control.Option) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(control.New(sess, tr, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func TestState(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	sess.snap = session.Snapshot{State: session.Recording, AudioLevel: 2.5, Pulse: 0.5, SessionID: "abc"}
	srv := newServer(t, sess, transcript.New())

	status, body := do(t, http.MethodGet, srv.URL+"/api/state", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["state"] != "recording" || body["sessionId"] != "abc" || body["pulse"] != 0.5 {
		t.Errorf("body = %v", body)
	}
}

func TestTranscript(t *testing.T) {
	t.Parallel()
	tr := transcript.New()
	ts := time.Date(2024, 5, 1, 9, 7, 0, 0, time.Local)
	tr.Append(transcript.Entry{Role: transcript.RoleUser, Content: "hola", Timestamp: ts})
	tr.Append(transcript.Entry{Role: transcript.RoleModel, Content: "Processing…", Timestamp: ts, IsTemporary: true})
	srv := newServer(t, newFakeSession(), tr)

	status, body := do(t, http.MethodGet, srv.URL+"/api/transcript", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	entries, ok := body["entries"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("entries = %v", body["entries"])
	}
	first := entries[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "hola" || first["clock"] != "09:07" || first["isTemporary"] != false {
		t.Errorf("entries[0] = %v", first)
	}
	if second := entries[1].(map[string]any); second["isTemporary"] != true {
		t.Errorf("entries[1] = %v", second)
	}
}

func TestEmptyTranscriptIsAnArray(t *testing.T) {
	t.Parallel()
	srv := newServer(t, newFakeSession(), transcript.New())

	resp, err := http.Get(srv.URL + "/api/transcript")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if got := strings.TrimSpace(string(raw)); got != `{"entries":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestStart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"ok", nil, http.StatusAccepted, ""},
		{"already recording", session.ErrAlreadyRecording, http.StatusConflict, ""},
		{"interrupted", session.ErrInterrupted, http.StatusConflict, ""},
		{"closed", session.ErrClosed, http.StatusServiceUnavailable, ""},
		{"no microphone", fmt.Errorf("session: open device: %w", audio.ErrDeviceNotFound), http.StatusServiceUnavailable, "device_not_found"},
		{"denied", fmt.Errorf("session: open device: %w", audio.ErrPermissionDenied), http.StatusServiceUnavailable, "permission_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess := newFakeSession()
			sess.startErr = tt.err
			srv := newServer(t, sess, transcript.New())

			status, body := do(t, http.MethodPost, srv.URL+"/api/recording/start", "")
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.wantStatus, body)
			}
			if tt.err == nil {
				if body["state"] != "recording" {
					t.Errorf("state = %v, want recording", body["state"])
				}
				return
			}
			if tt.wantKind != "" {
				if body["kind"] != tt.wantKind {
					t.Errorf("kind = %v, want %s", body["kind"], tt.wantKind)
				}
				k := map[string]errclass.Kind{
					"device_not_found":  errclass.DeviceNotFound,
					"permission_denied": errclass.PermissionDenied,
				}[tt.wantKind]
				if body["error"] != errclass.Message(k) {
					t.Errorf("error = %v, want %q", body["error"], errclass.Message(k))
				}
			}
		})
	}
}

func TestStop(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	srv := newServer(t, sess, transcript.New())

	status, body := do(t, http.MethodPost, srv.URL+"/api/recording/stop", "")
	if status != http.StatusAccepted || body["state"] != "uploading" {
		t.Errorf("stop = %d %v", status, body)
	}

	sess.stopErr = session.ErrNotRecording
	if status, _ := do(t, http.MethodPost, srv.URL+"/api/recording/stop", ""); status != http.StatusConflict {
		t.Errorf("stop while idle = %d, want 409", status)
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		body       string
		outcome    submit.Outcome
		err        error
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "reply",
			body:       `{"message":"What time is it?"}`,
			outcome:    submit.Outcome{Reply: "Noon."},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["ok"] != true || body["reply"] != "Noon." {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:       "backend failure",
			body:       `{"message":"hi"}`,
			outcome:    submit.Outcome{Kind: errclass.ServerFault, Err: errors.New("500")},
			wantStatus: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				if body["ok"] != false || body["kind"] != "server_fault" || body["error"] != errclass.Message(errclass.ServerFault) {
					t.Errorf("body = %v", body)
				}
			},
		},
		{name: "empty", body: `{"message":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "busy", body: `{"message":"hi"}`, err: session.ErrBusy, wantStatus: http.StatusConflict},
		{name: "malformed", body: `{"message":`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess := newFakeSession()
			sess.outcome, sess.textErr = tt.outcome, tt.err
			srv := newServer(t, sess, transcript.New())

			status, body := do(t, http.MethodPost, srv.URL+"/api/messages", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.wantStatus, body)
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestMessages_ClientDisconnectDoesNotCancel(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	sess.outcome = submit.Outcome{Reply: "Noon."}
	h := control.New(sess, transcript.New()).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/api/messages", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.ctxErrs) != 1 {
		t.Fatalf("SubmitText calls = %d, want 1 (status %d)", len(sess.ctxErrs), rec.Code)
	}
	if err := sess.ctxErrs[0]; err != nil {
		t.Errorf("SubmitText context err = %v, want nil after the client went away", err)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := newServer(t, newFakeSession(), transcript.New())
	resp, err := http.Get(srv.URL + "/api/recording/start")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthAndMetricsMounted(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "# metrics\n")
	})
	srv := newServer(t, newFakeSession(), transcript.New(),
		control.WithHealth(health.New()),
		control.WithMetricsHandler(metrics),
	)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestMiddlewareOrder(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := control.New(newFakeSession(), transcript.New(), control.WithMiddleware(mw("outer"), mw("inner"))).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- control.New(newFakeSession(), transcript.New()).Serve(ctx, l) }()

	url := "http://" + l.Addr().String() + "/api/state"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// ─── events ─────────────────────────────────────────────────────────────────

type event struct {
	Type    string           `json:"type"`
	State   session.Snapshot `json:"state"`
	Entries []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"entries"`
}

func dialEvents(t *testing.T, srv *httptest.Server) (context.Context, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return ctx, conn
}

// readUntil reads events until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(event) bool) event {
	t.Helper()
	for {
		var ev event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func TestEvents_InitialAndUpdates(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	tr := transcript.New()
	tr.Append(transcript.Entry{Role: transcript.RoleUser, Content: "first", Timestamp: time.Now()})
	srv := newServer(t, sess, tr)
	ctx, conn := dialEvents(t, srv)

	ev := readUntil(t, ctx, conn, func(e event) bool { return e.Type == control.EventState })
	if ev.State.State != session.Idle || ev.State.SessionID != "s-1" {
		t.Errorf("initial state = %+v", ev.State)
	}
	ev = readUntil(t, ctx, conn, func(e event) bool { return e.Type == control.EventTranscript })
	if len(ev.Entries) != 1 || ev.Entries[0].Content != "first" {
		t.Errorf("initial transcript = %+v", ev.Entries)
	}

	sess.set(session.Snapshot{State: session.Recording, AudioLevel: 3, SessionID: "s-1"})
	readUntil(t, ctx, conn, func(e event) bool {
		return e.Type == control.EventState && e.State.State == session.Recording
	})

	tr.Append(transcript.Entry{Role: transcript.RoleModel, Content: "second", Timestamp: time.Now()})
	readUntil(t, ctx, conn, func(e event) bool {
		return e.Type == control.EventTranscript && len(e.Entries) == 2 && e.Entries[1].Content == "second"
	})
}

func TestEvents_UnsubscribesOnClose(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	srv := newServer(t, sess, transcript.New())
	ctx, conn := dialEvents(t, srv)

	readUntil(t, ctx, conn, func(e event) bool { return e.Type == control.EventState })
	if sess.subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", sess.subscribers())
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for sess.subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not removed after the client closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
