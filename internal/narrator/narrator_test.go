package narrator

import (
	"context"
	"sync"
	"testing"
	"time"
)

type call struct {
	text   string
	locale string
}

// blockingSpeaker blocks each utterance until it is cancelled or released.
type blockingSpeaker struct {
	mu        sync.Mutex
	calls     []call
	cancelled []string
	active    int
	maxActive int
	started   chan string
	release   chan struct{}
}

func newBlockingSpeaker() *blockingSpeaker {
	return &blockingSpeaker{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (s *blockingSpeaker) Speak(ctx context.Context, text, locale string) error {
	s.mu.Lock()
	s.calls = append(s.calls, call{text, locale})
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	s.started <- text
	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled = append(s.cancelled, text)
		s.mu.Unlock()
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

func (s *blockingSpeaker) snapshot() ([]call, []string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...), append([]string(nil), s.cancelled...), s.maxActive
}

func waitStarted(t *testing.T, s *blockingSpeaker) string {
	t.Helper()
	select {
	case text := <-s.started:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("speaker was not called")
		return ""
	}
}

func TestSpeak_StripsMarkdownAndUsesLocale(t *testing.T) {
	t.Parallel()

	sp := newBlockingSpeaker()
	n := New(sp, WithLocale("es-ES"))
	defer n.Close()

	n.Speak("**Hola** mundo")
	if got := waitStarted(t, sp); got != "Hola mundo" {
		t.Errorf("spoken text = %q, want %q", got, "Hola mundo")
	}
	close(sp.release)
	n.Wait()

	calls, _, _ := sp.snapshot()
	if len(calls) != 1 || calls[0].locale != "es-ES" {
		t.Errorf("calls = %+v, want one call with locale es-ES", calls)
	}
}

func TestSpeak_NewestWins(t *testing.T) {
	t.Parallel()

	sp := newBlockingSpeaker()
	n := New(sp)
	defer n.Close()

	n.Speak("first")
	waitStarted(t, sp)
	n.Speak("second")
	if got := waitStarted(t, sp); got != "second" {
		t.Fatalf("second utterance = %q, want %q", got, "second")
	}
	if got := n.Speaking(); got != "second" {
		t.Errorf("Speaking() = %q, want %q", got, "second")
	}

	close(sp.release)
	n.Wait()

	_, cancelled, maxActive := sp.snapshot()
	if len(cancelled) != 1 || cancelled[0] != "first" {
		t.Errorf("cancelled = %v, want [first]", cancelled)
	}
	if maxActive != 1 {
		t.Errorf("max concurrent utterances = %d, want 1", maxActive)
	}
}

func TestSpeak_BurstSkipsIntermediate(t *testing.T) {
	t.Parallel()

	sp := newBlockingSpeaker()
	n := New(sp)
	defer n.Close()

	n.Speak("one")
	waitStarted(t, sp)
	n.Speak("two")
	n.Speak("three")

	if got := waitStarted(t, sp); got != "three" {
		// "two" may still start if it won the race before "three" cancelled it.
		if got != "two" {
			t.Fatalf("unexpected utterance %q", got)
		}
		if got = waitStarted(t, sp); got != "three" {
			t.Fatalf("last utterance = %q, want three", got)
		}
	}
	close(sp.release)
	n.Wait()

	calls, _, maxActive := sp.snapshot()
	if last := calls[len(calls)-1].text; last != "three" {
		t.Errorf("last spoken = %q, want three", last)
	}
	if maxActive != 1 {
		t.Errorf("max concurrent utterances = %d, want 1", maxActive)
	}
}

func TestSpeak_EmptyTextOnlyInterrupts(t *testing.T) {
	t.Parallel()

	sp := newBlockingSpeaker()
	n := New(sp)
	defer n.Close()

	n.Speak("talking")
	waitStarted(t, sp)
	n.Speak("  ** **  ")
	n.Wait()

	calls, cancelled, _ := sp.snapshot()
	if len(calls) != 1 {
		t.Errorf("speaker calls = %d, want 1", len(calls))
	}
	if len(cancelled) != 1 {
		t.Errorf("cancelled = %v, want one interruption", cancelled)
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	sp := newBlockingSpeaker()
	n := New(sp)
	defer n.Close()

	n.Speak("hello")
	waitStarted(t, sp)
	n.Stop()
	n.Wait()

	if got := n.Speaking(); got != "" {
		t.Errorf("Speaking() after Stop = %q, want empty", got)
	}
	_, cancelled, _ := sp.snapshot()
	if len(cancelled) != 1 {
		t.Errorf("cancelled = %v, want [hello]", cancelled)
	}
}

func TestClose_RejectsFurtherSpeech(t *testing.T) {
	t.Parallel()

	sp := newBlockingSpeaker()
	n := New(sp)

	n.Speak("bye")
	waitStarted(t, sp)
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	n.Speak("ignored")
	n.Wait()
	calls, _, _ := sp.snapshot()
	if len(calls) != 1 {
		t.Errorf("speaker calls = %d, want 1", len(calls))
	}
}

func TestSetLocale(t *testing.T) {
	t.Parallel()

	n := New(LogSpeaker{})
	if got := n.Locale(); got != DefaultLocale {
		t.Errorf("default locale = %q, want %q", got, DefaultLocale)
	}
	n.SetLocale("de-DE")
	n.SetLocale("")
	if got := n.Locale(); got != "de-DE" {
		t.Errorf("Locale() = %q, want de-DE", got)
	}
}

func TestLogSpeaker(t *testing.T) {
	t.Parallel()

	if err := (LogSpeaker{}).Speak(context.Background(), "hi", "en-US"); err != nil {
		t.Errorf("Speak: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (LogSpeaker{}).Speak(ctx, "hi", "en-US"); err == nil {
		t.Error("Speak with cancelled context: want error")
	}
}
