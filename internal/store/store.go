// Package store holds the client-side ordered message list for the
// active room. It applies optimistic local mutations and server events
// and keeps the sequence sorted ascending by creation time. The store
// owns no timers; timeout policy belongs to the session façade.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ksucu-mc/chatkit/pkg/models"
)

// Entry is one slot in the ordered sequence: either an acknowledged
// message or a pending optimistic one. Exactly one of the two views is
// meaningful, selected by Pending.
type Entry struct {
	Message models.Message
	LocalID string
	State   models.PendingState
	Pending bool
}

// Store is the ordered message collection. All operations are
// synchronous; callers observe state via Messages snapshots.
type Store struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Len returns the number of entries, tombstones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Messages returns a snapshot of the current sequence.
func (s *Store) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the acknowledged message with the given id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if !entry.Pending && entry.Message.ID == id {
			return entry.Message, true
		}
	}
	return models.Message{}, false
}

// Append adds a server message at its timestamp position. Messages for
// the active room arrive roughly in send order, so this is usually a
// tail append; out-of-order arrivals are placed by timestamp. A
// message whose id is already present is ignored.
func (s *Store) Append(message models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexByID(message.ID) >= 0 {
		return
	}
	s.insertLocked(Entry{Message: message})
}

// ApplyEdit replaces an existing message's body and edit markers,
// matched by id. Unknown ids and repeated deliveries are safe no-ops
// with respect to observable state.
func (s *Store) ApplyEdit(message models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(message.ID)
	if i < 0 {
		return
	}
	entry := &s.entries[i]
	entry.Message.Body = message.Body
	entry.Message.Edited = true
	if !message.EditedAt.IsZero() {
		entry.Message.EditedAt = message.EditedAt
	}
}

// ApplyDelete tombstones the message with the given id, preserving its
// slot so reply previews pointing at it stay valid. Idempotent.
func (s *Store) ApplyDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(id)
	if i < 0 {
		return
	}
	s.entries[i].Message.Deleted = true
}

// PrependHistory merges a page of older messages at the head,
// preserving ascending order and skipping ids already present.
func (s *Store) PrependHistory(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]Entry, 0, len(messages))
	for _, message := range messages {
		if s.indexByID(message.ID) >= 0 {
			continue
		}
		fresh = append(fresh, Entry{Message: message})
	}
	if len(fresh) == 0 {
		return
	}

	s.entries = append(fresh, s.entries...)
	s.sortLocked()
}

// AddOptimistic inserts a locally-created pending message.
func (s *Store) AddOptimistic(pending models.PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(Entry{
		Message: pending.Message,
		LocalID: pending.LocalID,
		State:   pending.State,
		Pending: true,
	})
}

// Reconcile replaces the pending entry identified by tempID with its
// server-acknowledged counterpart, in place. If the server timestamp
// moved the message, the sequence is re-sorted; either way the store
// ends up with exactly one entry for the logical send. Returns false
// if no pending entry matches.
func (s *Store) Reconcile(tempID string, serverMessage models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByLocalID(tempID)
	if i < 0 {
		return false
	}

	// Duplicate delivery of the echo: the server id may already be in
	// the sequence. Drop the pending slot instead of duplicating.
	if j := s.indexByID(serverMessage.ID); j >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		return true
	}

	s.entries[i] = Entry{Message: serverMessage}
	s.sortLocked()
	return true
}

// MarkFailed flags the pending entry identified by tempID as failed so
// the UI can offer a manual retry. Returns false if no pending entry
// matches.
func (s *Store) MarkFailed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByLocalID(tempID)
	if i < 0 {
		return false
	}
	s.entries[i].State = models.PendingFailed
	return true
}

// RemovePending drops a pending entry without reconciling it, e.g.
// when a failed send is discarded by the user.
func (s *Store) RemovePending(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByLocalID(tempID)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// Restore overwrites the acknowledged message with the given id with a
// prior snapshot, used to roll back a rejected optimistic edit or
// delete.
func (s *Store) Restore(snapshot models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(snapshot.ID)
	if i < 0 {
		return false
	}
	s.entries[i].Message = snapshot
	return true
}

// Reset clears the sequence, used on room change.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// insertLocked places entry at its timestamp position. Entries with
// equal timestamps keep insertion order.
func (s *Store) insertLocked(entry Entry) {
	at := entry.Message.CreatedAt
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Message.CreatedAt.After(at)
	})
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = entry
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Message.CreatedAt.Before(s.entries[j].Message.CreatedAt)
	})
}

func (s *Store) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i, entry := range s.entries {
		if !entry.Pending && entry.Message.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexByLocalID(localID string) int {
	for i, entry := range s.entries {
		if entry.Pending && entry.LocalID == localID {
			return i
		}
	}
	return -1
}

// Timestamps returns the CreatedAt sequence, a convenience for
// ordering assertions.
func (s *Store) Timestamps() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.entries))
	for i, entry := range s.entries {
		out[i] = entry.Message.CreatedAt
	}
	return out
}
