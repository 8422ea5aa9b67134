package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ksucu-mc/chatkit/internal/auth"
	"github.com/ksucu-mc/chatkit/internal/backoff"
	"github.com/ksucu-mc/chatkit/internal/chaterr"
	"github.com/ksucu-mc/chatkit/internal/history"
	"github.com/ksucu-mc/chatkit/internal/media"
	"github.com/ksucu-mc/chatkit/internal/store"
	"github.com/ksucu-mc/chatkit/internal/transport"
	"github.com/ksucu-mc/chatkit/pkg/models"
)

// stubChannel is an always-connectable EventChannel that records
// outbound commands and lets tests push inbound events.
type stubChannel struct {
	mu        sync.Mutex
	connected bool
	sent      []models.Envelope

	events chan models.Envelope
	closed chan transport.CloseInfo
}

func newStubChannel() *stubChannel {
	return &stubChannel{
		events: make(chan models.Envelope, 32),
		closed: make(chan transport.CloseInfo, 4),
	}
}

func (c *stubChannel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) Send(event models.EventName, payload any) error {
	envelope, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.ErrNotConnected
	}
	c.sent = append(c.sent, envelope)
	return nil
}

func (c *stubChannel) Events() <-chan models.Envelope {
	return c.events
}

func (c *stubChannel) Closed() <-chan transport.CloseInfo {
	return c.closed
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// push delivers an inbound event as the server would.
func (c *stubChannel) push(t *testing.T, event models.EventName, payload any) {
	t.Helper()
	envelope, err := models.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("push %s: %v", event, err)
	}
	c.events <- envelope
}

// sentByName returns recorded outbound commands matching event.
func (c *stubChannel) sentByName(event models.EventName) []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Envelope
	for _, envelope := range c.sent {
		if envelope.Event == event {
			out = append(out, envelope)
		}
	}
	return out
}

func testSession(t *testing.T, channel transport.EventChannel, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Channel:               channel,
		Credentials:           auth.StaticProvider("tok-1"),
		Self:                  Identity{UserID: "u1", Username: "wanjiru"},
		Room:                  "community",
		HistoryURL:            "http://127.0.0.1:0/messages",
		UploadURL:             "http://127.0.0.1:0/upload",
		ReconnectPolicy:       backoff.Policy{Interval: time.Millisecond, MaxAttempts: 5},
		ReconciliationTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSession(cfg)
	t.Cleanup(s.Close)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSession_SendAndReconcile(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, nil)

	localID := s.SendMessage("hello", models.KindText, nil)

	entries := s.Messages()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1 pending message", len(entries))
	}
	if !entries[0].Pending || entries[0].State != models.PendingSending {
		t.Errorf("entry = %+v, want pending sending", entries[0])
	}

	// Server echoes with the permanent id.
	channel.push(t, models.EventNewMessage, models.NewMessagePayload{
		Message: models.Message{
			ID:        "m1",
			AuthorID:  "u1",
			Kind:      models.KindText,
			Body:      "hello",
			CreatedAt: time.Now(),
		},
		LocalID: localID,
	})

	waitFor(t, "reconciliation", func() bool {
		entries := s.Messages()
		return len(entries) == 1 && !entries[0].Pending
	})
	entries = s.Messages()
	if entries[0].Message.ID != "m1" {
		t.Errorf("id = %s, want m1", entries[0].Message.ID)
	}
}

func TestSession_ReconciliationTimeout(t *testing.T) {
	channel := newStubChannel()
	var mu sync.Mutex
	var errs []error
	s := testSession(t, channel, func(cfg *Config) {
		cfg.ReconciliationTimeout = 30 * time.Millisecond
	})
	s.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	s.SendMessage("into the void", models.KindText, nil)

	waitFor(t, "mark failed", func() bool {
		entries := s.Messages()
		return len(entries) == 1 && entries[0].State == models.PendingFailed
	})
	waitFor(t, "timeout error", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, err := range errs {
			if chaterr.CodeOf(err) == chaterr.CodeReconciliationTimeout {
				return true
			}
		}
		return false
	})
}

func TestSession_EditRollbackOnRejection(t *testing.T) {
	channel := newStubChannel()
	var mu sync.Mutex
	var errs []error
	s := testSession(t, channel, nil)
	s.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	channel.push(t, models.EventNewMessage, models.NewMessagePayload{
		Message: models.Message{ID: "m1", Body: "original", Kind: models.KindText, CreatedAt: time.Now()},
	})
	waitFor(t, "message arrival", func() bool { return len(s.Messages()) == 1 })

	s.EditMessage("m1", "edited")
	entries := s.Messages()
	if entries[0].Message.Body != "edited" {
		t.Fatalf("optimistic edit not applied: %q", entries[0].Message.Body)
	}

	channel.push(t, models.EventError, models.ErrorEvent{
		Op:       models.EventEditMessage,
		TargetID: "m1",
		Message:  "not the author",
	})

	waitFor(t, "rollback", func() bool {
		return s.Messages()[0].Message.Body == "original"
	})
	if got := s.Messages()[0].Message; got.Edited {
		t.Errorf("edited flag survived rollback: %+v", got)
	}
	waitFor(t, "rejection error", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, err := range errs {
			if chaterr.CodeOf(err) == chaterr.CodeServerRejection {
				return true
			}
		}
		return false
	})
}

func TestSession_EditConfirmedKeepsNewBody(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, nil)

	channel.push(t, models.EventNewMessage, models.NewMessagePayload{
		Message: models.Message{ID: "m1", Body: "original", Kind: models.KindText, CreatedAt: time.Now()},
	})
	waitFor(t, "message arrival", func() bool { return len(s.Messages()) == 1 })

	s.EditMessage("m1", "edited")
	channel.push(t, models.EventMessageEdited, models.Message{
		ID: "m1", Body: "edited", Edited: true, EditedAt: time.Now(),
	})

	waitFor(t, "confirmation", func() bool {
		entry := s.Messages()[0]
		return entry.Message.Body == "edited" && entry.Message.Edited
	})
}

func TestSession_DeleteTombstones(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, nil)

	channel.push(t, models.EventNewMessage, models.NewMessagePayload{
		Message: models.Message{ID: "m1", Body: "remove me", Kind: models.KindText, CreatedAt: time.Now()},
	})
	waitFor(t, "message arrival", func() bool { return len(s.Messages()) == 1 })

	s.DeleteMessage("m1")

	entries := s.Messages()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want tombstone to keep the slot", len(entries))
	}
	if !entries[0].Message.Deleted {
		t.Error("message not tombstoned")
	}
}

func TestSession_TypingDebounce(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, func(cfg *Config) {
		cfg.TypingWindow = 50 * time.Millisecond
	})

	// A burst of keystrokes coalesces into one outbound start.
	for i := 0; i < 10; i++ {
		s.SetTyping(true)
	}

	starts := 0
	for _, envelope := range channel.sentByName(models.EventTyping) {
		var payload models.TypingPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.IsTyping {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("outbound typing starts = %d, want 1", starts)
	}

	// The automatic stop fires after one idle window.
	waitFor(t, "auto stop", func() bool {
		for _, envelope := range channel.sentByName(models.EventTyping) {
			var payload models.TypingPayload
			if err := json.Unmarshal(envelope.Data, &payload); err != nil {
				return false
			}
			if !payload.IsTyping {
				return true
			}
		}
		return false
	})
}

func TestSession_InboundTypingTracked(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, func(cfg *Config) {
		cfg.TypingWindow = 40 * time.Millisecond
	})

	channel.push(t, models.EventUserTyping, models.TypingSignal{Username: "grace", IsTyping: true})
	waitFor(t, "typing entry", func() bool {
		typing := s.TypingUsers()
		return len(typing) == 1 && typing[0] == "grace"
	})

	// Without refresh the entry self-expires.
	waitFor(t, "typing expiry", func() bool {
		return len(s.TypingUsers()) == 0
	})
}

func TestSession_RosterSnapshot(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, nil)

	presenceChanges := make(chan struct{}, 8)
	s.OnPresenceChanged(func(online []models.OnlineUser, typing []string) {
		presenceChanges <- struct{}{}
	})

	channel.push(t, models.EventOnlineUsersUpdate, models.RosterPayload{
		Users: []models.OnlineUser{
			{ID: "u1", Name: "Wanjiru", Status: models.StatusOnline},
			{ID: "u2", Name: "Otieno", Status: models.StatusBusy},
		},
	})

	select {
	case <-presenceChanges:
	case <-time.After(2 * time.Second):
		t.Fatal("presence change never notified")
	}
	if got := len(s.OnlineUsers()); got != 2 {
		t.Errorf("online = %d, want 2", got)
	}
}

func TestSession_LoadOlder(t *testing.T) {
	channel := newStubChannel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		page := history.Page{
			Messages: []models.Message{
				{ID: "m0", Body: "older", Kind: models.KindText, CreatedAt: time.Now().Add(-time.Hour)},
			},
			HasMore: false,
		}
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer server.Close()

	s := testSession(t, channel, func(cfg *Config) {
		cfg.HistoryURL = server.URL
		cfg.HTTPClient = server.Client()
	})

	result, err := s.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if result.Count != 1 || result.HasMore {
		t.Errorf("result = %+v, want count 1 hasMore false", result)
	}
	if got := len(s.Messages()); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestSession_UploadFailureSurfaced(t *testing.T) {
	channel := newStubChannel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadRequest)
	}))
	defer server.Close()

	errs := make(chan error, 1)
	s := testSession(t, channel, func(cfg *Config) {
		cfg.UploadURL = server.URL
		cfg.HTTPClient = server.Client()
	})
	s.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	s.UploadMedia(context.Background(), media.Upload{
		Filename: "choir.jpg",
		Content:  strings.NewReader("jpeg"),
	})

	select {
	case err := <-errs:
		if chaterr.CodeOf(err) != chaterr.CodeNetwork {
			t.Errorf("err = %v, want network error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upload failure never surfaced")
	}
}

func TestSession_CloseDropsLateEvents(t *testing.T) {
	channel := newStubChannel()
	s := testSession(t, channel, nil)

	var mu sync.Mutex
	notified := false
	s.OnMessagesChanged(func(entries []store.Entry) {
		mu.Lock()
		notified = true
		mu.Unlock()
	})

	s.Close()
	s.Close() // idempotent

	channel.push(t, models.EventNewMessage, models.NewMessagePayload{
		Message: models.Message{ID: "late", Body: "too late", CreatedAt: time.Now()},
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if notified {
		t.Error("subscriber notified after Close")
	}
}
