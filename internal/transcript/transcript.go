// Package transcript holds the ordered conversation log shown to the user.
//
// The log is append-only with one exception: a temporary placeholder entry
// (for example "processing audio…") may be replaced in place or removed once
// the request that created it resolves. Writers never address entries by
// position. A request that added its placeholder with
// [Transcript.AppendTemporary] resolves exactly that entry through the
// returned [Placeholder]; [Transcript.ReplaceTemporary] and
// [Transcript.RemoveTemporary] resolve the most recent temporary entry
// matching a role predicate.
package transcript

import (
	"slices"
	"sync"
	"time"
)

// Role identifies the author of an entry.
type Role string

const (
	// RoleUser is the human speaking or typing.
	RoleUser Role = "user"

	// RoleModel is the remote assistant, including error messages shown on
	// its behalf.
	RoleModel Role = "model"
)

// Entry is a single transcript line.
type Entry struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsTemporary bool      `json:"isTemporary"`
}

// Clock returns the entry time formatted as 24-hour "HH:MM" in the local zone.
func (e Entry) Clock() string {
	return e.Timestamp.Local().Format("15:04")
}

// Is returns a predicate matching role r, for use with ReplaceTemporary and
// RemoveTemporary.
func Is(r Role) func(Role) bool {
	return func(role Role) bool { return role == r }
}

// Transcript is the conversation log. The zero value is ready to use.
// All methods are safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	refs    []uint64 // placeholder ref per entry, 0 when not tracked
	nextRef uint64
	version uint64

	subMu    sync.Mutex
	subs     map[int]func([]Entry)
	nextSub  int
	notified uint64
}

// New returns an empty Transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds e at the end of the log.
func (t *Transcript) Append(e Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.refs = append(t.refs, 0)
	snap, v := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap, v)
}

// Placeholder is a temporary entry added by [Transcript.AppendTemporary].
// Resolving it touches only that entry, whatever else was added since.
// The zero value resolves nothing.
type Placeholder struct {
	t   *Transcript
	ref uint64
}

// AppendTemporary adds e at the end of the log as a temporary entry and
// returns a handle to it.
func (t *Transcript) AppendTemporary(e Entry) Placeholder {
	e.IsTemporary = true
	t.mu.Lock()
	t.nextRef++
	ref := t.nextRef
	t.entries = append(t.entries, e)
	t.refs = append(t.refs, ref)
	snap, v := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap, v)
	return Placeholder{t: t, ref: ref}
}

// Replace puts e in place of the placeholder. It reports false when the
// placeholder was already resolved.
func (p Placeholder) Replace(e Entry) bool {
	if p.t == nil {
		return false
	}
	t := p.t
	t.mu.Lock()
	i := t.placeholderLocked(p.ref)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.entries[i] = e
	t.refs[i] = 0
	snap, v := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap, v)
	return true
}

// Remove deletes the placeholder. It reports false when the placeholder was
// already resolved.
func (p Placeholder) Remove() bool {
	if p.t == nil {
		return false
	}
	t := p.t
	t.mu.Lock()
	i := t.placeholderLocked(p.ref)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.deleteLocked(i)
	snap, v := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap, v)
	return true
}

// ReplaceTemporary replaces the most recent temporary entry whose role
// satisfies match with e, keeping its position. It reports whether an entry
// was replaced; when none matches the log is left untouched.
func (t *Transcript) ReplaceTemporary(match func(Role) bool, e Entry) bool {
	t.mu.Lock()
	i := t.lastTemporaryLocked(match)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.entries[i] = e
	t.refs[i] = 0
	snap, v := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap, v)
	return true
}

// RemoveTemporary deletes the most recent temporary entry whose role
// satisfies match. It reports whether an entry was removed.
func (t *Transcript) RemoveTemporary(match func(Role) bool) bool {
	t.mu.Lock()
	i := t.lastTemporaryLocked(match)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.deleteLocked(i)
	snap, v := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap, v)
	return true
}

// Entries returns a copy of the log in display order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// TemporaryCount returns the number of temporary entries currently in the log.
func (t *Transcript) TemporaryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.IsTemporary {
			n++
		}
	}
	return n
}

// Subscribe registers fn to receive a snapshot of the log after every
// change. Snapshots are delivered in order and a stale snapshot is never
// delivered after a newer one. fn runs on the writer's goroutine and must
// not call back into the Transcript's mutating methods. The returned function
// removes the subscription.
func (t *Transcript) Subscribe(fn func([]Entry)) (cancel func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.subs == nil {
		t.subs = make(map[int]func([]Entry))
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Transcript) lastTemporaryLocked(match func(Role) bool) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].IsTemporary && match(t.entries[i].Role) {
			return i
		}
	}
	return -1
}

func (t *Transcript) placeholderLocked(ref uint64) int {
	for i := len(t.refs) - 1; i >= 0; i-- {
		if t.refs[i] == ref && t.entries[i].IsTemporary {
			return i
		}
	}
	return -1
}

func (t *Transcript) deleteLocked(i int) {
	t.entries = slices.Delete(t.entries, i, i+1)
	t.refs = slices.Delete(t.refs, i, i+1)
}

func (t *Transcript) snapshotLocked() ([]Entry, uint64) {
	t.version++
	return slices.Clone(t.entries), t.version
}

func (t *Transcript) notify(snap []Entry, version uint64) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if version <= t.notified {
		return
	}
	t.notified = version
	for _, fn := range t.subs {
		fn(snap)
	}
}
