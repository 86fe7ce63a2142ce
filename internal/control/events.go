package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/transcript"
)

// Event types sent on /api/events.
const (
	EventState      = "state"
	EventTranscript = "transcript"
)

const writeTimeout = 5 * time.Second

type stateEvent struct {
	Type  string           `json:"type"`
	State session.Snapshot `json:"state"`
}

type transcriptEvent struct {
	Type    string      `json:"type"`
	Entries []entryView `json:"entries"`
}

// latest holds the most recent value of a stream and a wake-up signal.
// Publishers never block: a slow client skips intermediate values and only
// sees the newest one, which is all a level meter or transcript view needs.
type latest[T any] struct {
	mu    sync.Mutex
	val   T
	dirty bool
	wake  chan struct{}
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{wake: make(chan struct{}, 1)}
}

func (l *latest[T]) publish(v T) {
	l.mu.Lock()
	l.val, l.dirty = v, true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *latest[T]) take() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.val, l.dirty
	l.dirty = false
	return v, ok
}

// handleEvents upgrades to a WebSocket and streams a state event and a
// transcript event on connect and after every change. Client messages are
// ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Debug("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	states := newLatest[session.Snapshot]()
	entries := newLatest[[]transcript.Entry]()
	cancelState := s.sess.Subscribe(states.publish)
	defer cancelState()
	cancelEntries := s.transcript.Subscribe(entries.publish)
	defer cancelEntries()

	// The initial values are published after subscribing so that nothing
	// between the two can be lost.
	states.publish(s.sess.Snapshot())
	entries.publish(s.transcript.Entries())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-states.wake:
			if snap, ok := states.take(); ok {
				err = write(ctx, conn, stateEvent{Type: EventState, State: snap})
			}
		case <-entries.wake:
			if list, ok := entries.take(); ok {
				err = write(ctx, conn, transcriptEvent{Type: EventTranscript, Entries: viewEntries(list)})
			}
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("control: websocket write failed", "err", err)
			}
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
