// Package presence maintains the roster of online users and the set of
// users currently typing. Roster pushes are whole snapshots, never
// diffs. Typing entries expire client-side so a lost stop signal never
// leaves a stuck indicator.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/ksucu-mc/chatkit/pkg/models"
)

// DefaultTypingExpiry matches the sender's own typing resend interval:
// an entry not refreshed within this window is dropped locally.
const DefaultTypingExpiry = 2000 * time.Millisecond

// ChangeFunc is invoked after every observable presence change.
type ChangeFunc func()

// Tracker holds the online-user roster and the typing set.
type Tracker struct {
	mu     sync.Mutex
	online []models.OnlineUser
	typing map[string]*time.Timer
	closed bool

	expiry   time.Duration
	onChange ChangeFunc
}

// NewTracker creates a tracker. onChange may be nil. A non-positive
// expiry falls back to DefaultTypingExpiry.
func NewTracker(expiry time.Duration, onChange ChangeFunc) *Tracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Tracker{
		typing:   make(map[string]*time.Timer),
		expiry:   expiry,
		onChange: onChange,
	}
}

// ApplyRosterSnapshot replaces the entire online-user set.
func (t *Tracker) ApplyRosterSnapshot(users []models.OnlineUser) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.online = make([]models.OnlineUser, len(users))
	copy(t.online, users)
	t.mu.Unlock()

	t.notify()
}

// ApplyTyping inserts or removes a typing entry. A true signal arms
// (or re-arms) the expiry timer for that user; a false signal removes
// the entry and cancels its timer.
func (t *Tracker) ApplyTyping(username string, isTyping bool) {
	t.mu.Lock()
	if t.closed || username == "" {
		t.mu.Unlock()
		return
	}

	changed := false
	if isTyping {
		if timer, ok := t.typing[username]; ok {
			timer.Stop()
		} else {
			changed = true
		}
		t.typing[username] = time.AfterFunc(t.expiry, func() {
			t.expire(username)
		})
	} else {
		if timer, ok := t.typing[username]; ok {
			timer.Stop()
			delete(t.typing, username)
			changed = true
		}
	}
	t.mu.Unlock()

	if changed {
		t.notify()
	}
}

// expire removes username after its window lapsed without a refresh.
// Late timers racing a Close or a removal are no-ops.
func (t *Tracker) expire(username string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, ok := t.typing[username]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.typing, username)
	t.mu.Unlock()

	t.notify()
}

// Online returns a snapshot of the roster.
func (t *Tracker) Online() []models.OnlineUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.OnlineUser, len(t.online))
	copy(out, t.online)
	return out
}

// Typing returns the usernames currently typing, sorted for stable
// rendering.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.typing))
	for username := range t.typing {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}

// IsTyping reports whether username has an active typing entry.
func (t *Tracker) IsTyping(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[username]
	return ok
}

// Close cancels all expiry timers and seals the tracker. Late timer
// callbacks after Close never mutate state or notify.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for username, timer := range t.typing {
		timer.Stop()
		delete(t.typing, username)
	}
	t.online = nil
	t.mu.Unlock()
}

func (t *Tracker) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}
