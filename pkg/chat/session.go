// Package chat is the public surface of the chat client: a Session
// ties the connection manager, message store, presence tracker,
// history paginator, and media uploader together behind the commands
// and subscriptions the UI consumes.
//
// Commands fail open: SendMessage, EditMessage, DeleteMessage,
// SetTyping, and UploadMedia never return errors. Failures — send
// rejections, reconciliation timeouts, reconnect exhaustion — surface
// through the OnError subscription, matching the optimistic
// fire-and-forget model the UI is built around. A chat failure never
// blocks the surrounding page.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ksucu-mc/chatkit/internal/auth"
	"github.com/ksucu-mc/chatkit/internal/backoff"
	"github.com/ksucu-mc/chatkit/internal/chaterr"
	"github.com/ksucu-mc/chatkit/internal/connection"
	"github.com/ksucu-mc/chatkit/internal/history"
	"github.com/ksucu-mc/chatkit/internal/media"
	"github.com/ksucu-mc/chatkit/internal/observability"
	"github.com/ksucu-mc/chatkit/internal/presence"
	"github.com/ksucu-mc/chatkit/internal/store"
	"github.com/ksucu-mc/chatkit/internal/transport"
	"github.com/ksucu-mc/chatkit/pkg/models"
)

// DefaultReconciliationTimeout bounds the wait for a send's server
// echo. The backend promises best-effort echo with no failure path, so
// the client imposes its own finite bound.
const DefaultReconciliationTimeout = 10 * time.Second

// Identity is the local user, stamped onto optimistic messages so the
// UI renders them correctly before the server echo.
type Identity struct {
	UserID   string
	Username string
}

// Config wires a Session.
type Config struct {
	// Channel is the event channel. Most callers construct one with
	// transport.NewWebSocket; tests inject fakes.
	Channel transport.EventChannel

	// Credentials supplies the connect-time token.
	Credentials auth.CredentialProvider

	// Self identifies the local user.
	Self Identity

	// Room is the channel to join.
	Room string

	// HistoryURL and UploadURL are the REST collaborator endpoints.
	HistoryURL string
	UploadURL  string

	// PageSize is the history backfill page size.
	PageSize int

	// HTTPClient is shared by the REST collaborators. Defaults to a
	// client with sane timeouts.
	HTTPClient *http.Client

	// ReconnectPolicy controls reconnection backoff.
	ReconnectPolicy backoff.Policy

	// ReconciliationTimeout bounds the wait for send echoes. Zero
	// takes DefaultReconciliationTimeout.
	ReconciliationTimeout time.Duration

	// TypingWindow is the outbound typing refresh interval and the
	// inbound typing expiry window. Zero takes the 2s default.
	TypingWindow time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// MessagesFunc receives the full message snapshot after every change.
type MessagesFunc func(entries []store.Entry)

// PresenceFunc receives the roster and typing set after every change.
type PresenceFunc func(online []models.OnlineUser, typing []string)

// ErrorFunc receives every error the session surfaces.
type ErrorFunc func(err error)

// Session is the single object the UI consumes. One session per open
// chat widget; create on open, Close on teardown.
type Session struct {
	manager   *connection.Manager
	store     *store.Store
	presence  *presence.Tracker
	paginator *history.Paginator
	uploader  *media.Uploader
	creds     auth.CredentialProvider
	self      Identity
	logger    *slog.Logger
	metrics   *observability.Metrics

	reconTimeout time.Duration
	typingWindow time.Duration

	mu          sync.Mutex
	mounted     bool
	reconTimers map[string]*time.Timer
	editSnaps   map[string]models.Message
	typingOn    bool
	typingStop  *time.Timer
	typingTick  *time.Ticker
	typingDone  chan struct{}

	subMu        sync.Mutex
	nextSubID    int
	messageSubs  map[int]MessagesFunc
	presenceSubs map[int]PresenceFunc
	errorSubs    map[int]ErrorFunc

	unsubscribe []func()
}

// NewSession creates a session. Call Connect to open the channel and
// Close to tear everything down.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	reconTimeout := cfg.ReconciliationTimeout
	if reconTimeout <= 0 {
		reconTimeout = DefaultReconciliationTimeout
	}
	typingWindow := cfg.TypingWindow
	if typingWindow <= 0 {
		typingWindow = presence.DefaultTypingExpiry
	}

	s := &Session{
		store:        store.New(),
		creds:        cfg.Credentials,
		self:         cfg.Self,
		logger:       logger,
		metrics:      cfg.Metrics,
		reconTimeout: reconTimeout,
		typingWindow: typingWindow,
		mounted:      true,
		reconTimers:  make(map[string]*time.Timer),
		editSnaps:    make(map[string]models.Message),
		messageSubs:  make(map[int]MessagesFunc),
		presenceSubs: make(map[int]PresenceFunc),
		errorSubs:    make(map[int]ErrorFunc),
	}

	s.presence = presence.NewTracker(typingWindow, s.notifyPresence)
	s.paginator = history.New(cfg.HistoryURL, cfg.Room, cfg.PageSize, cfg.HTTPClient, s.store)
	s.uploader = media.NewUploader(cfg.UploadURL, cfg.HTTPClient)
	s.manager = connection.NewManager(connection.Config{
		Channel:     cfg.Channel,
		Credentials: cfg.Credentials,
		Policy:      cfg.ReconnectPolicy,
		Logger:      logger,
		Metrics:     cfg.Metrics,
	})

	s.unsubscribe = append(s.unsubscribe,
		s.manager.OnEvent(s.handleEvent),
		s.manager.OnError(s.surfaceError),
	)
	return s
}

// Connect opens the event channel. Errors carry the chaterr taxonomy:
// authentication failures are not retried, the UI should redirect to
// re-login.
func (s *Session) Connect(ctx context.Context) error {
	return s.manager.Connect(ctx)
}

// ConnectionState exposes the manager's lifecycle state for UI badges.
func (s *Session) ConnectionState() connection.State {
	return s.manager.State()
}

// Close tears the session down: disconnects, cancels every pending
// timer, and drops all subscriptions. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	for id, timer := range s.reconTimers {
		timer.Stop()
		delete(s.reconTimers, id)
	}
	s.stopTypingLocked()
	s.mu.Unlock()

	s.presence.Close()
	s.paginator.Close()
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.manager.Close()

	s.subMu.Lock()
	s.messageSubs = map[int]MessagesFunc{}
	s.presenceSubs = map[int]PresenceFunc{}
	s.errorSubs = map[int]ErrorFunc{}
	s.subMu.Unlock()
}

// SendMessage creates an optimistic pending message, emits the command,
// and starts the reconciliation timeout. Returns the temporary local
// id so callers can correlate retries; failures surface on OnError.
func (s *Session) SendMessage(text string, kind models.MessageKind, replyTo *models.ReplyRef) string {
	if kind == "" {
		kind = models.KindText
	}
	localID := uuid.NewString()

	pending := models.PendingMessage{
		Message: models.Message{
			AuthorID:   s.self.UserID,
			AuthorName: s.self.Username,
			Kind:       kind,
			Body:       text,
			CreatedAt:  time.Now(),
			ReplyTo:    replyTo,
		},
		LocalID: localID,
		State:   models.PendingSending,
	}

	s.store.AddOptimistic(pending)
	s.notifyMessages()

	if err := s.manager.Emit(models.EventSendMessage, models.SendMessagePayload{
		LocalID: localID,
		Kind:    kind,
		Body:    text,
		ReplyTo: replyTo,
	}); err != nil {
		s.failPending(localID, err)
		return localID
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
	}
	s.armReconciliationTimer(localID)
	return localID
}

// EditMessage optimistically rewrites the message body and emits the
// command. A server rejection rolls the message back to its prior
// state and surfaces the rejection on OnError.
func (s *Session) EditMessage(id, text string) {
	prior, ok := s.store.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, tracked := s.editSnaps[id]; !tracked {
		s.editSnaps[id] = prior
	}
	s.mu.Unlock()

	s.store.ApplyEdit(models.Message{ID: id, Body: text, EditedAt: time.Now()})
	s.notifyMessages()

	if err := s.manager.Emit(models.EventEditMessage, models.EditMessagePayload{ID: id, Body: text}); err != nil {
		s.rollback(id)
		s.surfaceError(err)
	}
}

// DeleteMessage optimistically tombstones the message and emits the
// command, with the same rollback contract as EditMessage.
func (s *Session) DeleteMessage(id string) {
	prior, ok := s.store.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, tracked := s.editSnaps[id]; !tracked {
		s.editSnaps[id] = prior
	}
	s.mu.Unlock()

	s.store.ApplyDelete(id)
	s.notifyMessages()

	if err := s.manager.Emit(models.EventDeleteMessage, models.DeleteMessagePayload{ID: id}); err != nil {
		s.rollback(id)
		s.surfaceError(err)
	}
}

// SetTyping debounces the outbound typing indicator. Rapid repeated
// true calls coalesce into one outbound toggle plus a periodic refresh
// every typing window; an automatic false fires after one window of
// inactivity.
func (s *Session) SetTyping(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted {
		return
	}

	if !active {
		wasOn := s.typingOn
		s.stopTypingLocked()
		if wasOn {
			_ = s.manager.Emit(models.EventTyping, models.TypingPayload{IsTyping: false})
		}
		return
	}

	// Every keystroke pushes the auto-stop out by one window.
	if s.typingStop != nil {
		s.typingStop.Stop()
	}
	s.typingStop = time.AfterFunc(s.typingWindow, func() {
		s.SetTyping(false)
	})

	if s.typingOn {
		return
	}
	s.typingOn = true
	_ = s.manager.Emit(models.EventTyping, models.TypingPayload{IsTyping: true})

	s.typingTick = time.NewTicker(s.typingWindow)
	s.typingDone = make(chan struct{})
	go s.typingRefreshLoop(s.typingTick, s.typingDone)
}

// typingRefreshLoop re-emits typing=true while the indicator is
// active, so receivers' expiry windows keep getting refreshed.
func (s *Session) typingRefreshLoop(tick *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			_ = s.manager.Emit(models.EventTyping, models.TypingPayload{IsTyping: true})
		}
	}
}

// stopTypingLocked cancels the refresh loop and auto-stop timer. The
// caller holds s.mu.
func (s *Session) stopTypingLocked() {
	if s.typingStop != nil {
		s.typingStop.Stop()
		s.typingStop = nil
	}
	if s.typingTick != nil {
		s.typingTick.Stop()
		s.typingTick = nil
	}
	if s.typingDone != nil {
		close(s.typingDone)
		s.typingDone = nil
	}
	s.typingOn = false
}

// UploadMedia sends the file to the upload endpoint in the background.
// The resulting chat message arrives through the event channel once
// the server has processed it, never as a direct return value.
func (s *Session) UploadMedia(ctx context.Context, upload media.Upload) {
	go func() {
		credential := ""
		if s.creds != nil {
			if token, err := s.creds.Credential(ctx); err == nil {
				credential = token
			}
		}
		if err := s.uploader.Send(ctx, credential, upload); err != nil {
			if s.metrics != nil {
				s.metrics.MessagesFailed.Inc()
			}
			s.surfaceError(chaterr.Network("media upload failed", err))
		}
	}()
}

// LoadOlder backfills one page of history. Concurrent calls coalesce
// onto a single request. Late resolutions after Close are dropped
// without mutating anything observable.
func (s *Session) LoadOlder(ctx context.Context) (history.Result, error) {
	start := time.Now()
	result, err := s.paginator.LoadOlder(ctx)
	if err != nil {
		return history.Result{}, err
	}
	if s.metrics != nil {
		s.metrics.HistoryPageDuration.Observe(time.Since(start).Seconds())
	}

	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if mounted && result.Count > 0 {
		s.notifyMessages()
	}
	return result, nil
}

// Messages returns the current ordered snapshot.
func (s *Session) Messages() []store.Entry {
	return s.store.Messages()
}

// OnlineUsers returns the current roster snapshot.
func (s *Session) OnlineUsers() []models.OnlineUser {
	return s.presence.Online()
}

// TypingUsers returns the usernames currently typing.
func (s *Session) TypingUsers() []string {
	return s.presence.Typing()
}

// OnMessagesChanged subscribes to message-list changes; the returned
// func unsubscribes. All subscriptions are dropped on Close.
func (s *Session) OnMessagesChanged(fn MessagesFunc) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.messageSubs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.messageSubs, id)
		s.subMu.Unlock()
	}
}

// OnPresenceChanged subscribes to roster and typing-set changes.
func (s *Session) OnPresenceChanged(fn PresenceFunc) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.presenceSubs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.presenceSubs, id)
		s.subMu.Unlock()
	}
}

// OnError subscribes to the session's error stream.
func (s *Session) OnError(fn ErrorFunc) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.errorSubs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.errorSubs, id)
		s.subMu.Unlock()
	}
}

// handleEvent reconciles one inbound envelope into local state.
func (s *Session) handleEvent(envelope models.Envelope) {
	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if !mounted {
		return
	}

	switch envelope.Event {
	case models.EventNewMessage:
		var payload models.NewMessagePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			s.logger.Warn("bad newMessage payload", "error", err)
			return
		}
		s.applyNewMessage(payload)

	case models.EventMessageEdited:
		var message models.Message
		if err := json.Unmarshal(envelope.Data, &message); err != nil {
			s.logger.Warn("bad messageEdited payload", "error", err)
			return
		}
		s.store.ApplyEdit(message)
		s.clearSnapshot(message.ID)
		s.notifyMessages()

	case models.EventMessageDeleted:
		var payload models.MessageDeletedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			s.logger.Warn("bad messageDeleted payload", "error", err)
			return
		}
		s.store.ApplyDelete(payload.ID)
		s.clearSnapshot(payload.ID)
		s.notifyMessages()

	case models.EventOnlineUsersUpdate:
		var payload models.RosterPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			s.logger.Warn("bad roster payload", "error", err)
			return
		}
		s.presence.ApplyRosterSnapshot(payload.Users)

	case models.EventUserTyping:
		var signal models.TypingSignal
		if err := json.Unmarshal(envelope.Data, &signal); err != nil {
			s.logger.Warn("bad typing payload", "error", err)
			return
		}
		s.presence.ApplyTyping(signal.Username, signal.IsTyping)

	case models.EventError:
		var event models.ErrorEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			s.logger.Warn("bad error payload", "error", err)
			return
		}
		s.applyServerError(event)

	default:
		s.logger.Debug("ignoring unknown event", "event", envelope.Event)
	}
}

// applyNewMessage appends a broadcast message or reconciles the echo
// of this client's own optimistic send.
func (s *Session) applyNewMessage(payload models.NewMessagePayload) {
	if s.metrics != nil {
		s.metrics.MessagesReceived.Inc()
	}

	if payload.LocalID != "" && s.store.Reconcile(payload.LocalID, payload.Message) {
		s.cancelReconciliationTimer(payload.LocalID)
	} else {
		s.store.Append(payload.Message)
	}
	s.notifyMessages()
}

// applyServerError maps an inbound error event to a rollback of the
// matching optimistic apply, then surfaces it.
func (s *Session) applyServerError(event models.ErrorEvent) {
	switch event.Op {
	case models.EventSendMessage:
		if event.TargetID != "" {
			s.cancelReconciliationTimer(event.TargetID)
			if s.store.MarkFailed(event.TargetID) {
				if s.metrics != nil {
					s.metrics.MessagesFailed.Inc()
				}
				s.notifyMessages()
			}
		}
	case models.EventEditMessage, models.EventDeleteMessage:
		if event.TargetID != "" {
			s.rollback(event.TargetID)
		}
	}
	s.surfaceError(chaterr.ServerRejection(event.Message))
}

// rollback restores the pre-apply snapshot for a rejected edit/delete.
func (s *Session) rollback(id string) {
	s.mu.Lock()
	snapshot, ok := s.editSnaps[id]
	if ok {
		delete(s.editSnaps, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.store.Restore(snapshot) {
		s.notifyMessages()
	}
}

// clearSnapshot forgets the rollback snapshot once the server has
// confirmed the mutation.
func (s *Session) clearSnapshot(id string) {
	s.mu.Lock()
	delete(s.editSnaps, id)
	s.mu.Unlock()
}

// armReconciliationTimer bounds the wait for a send's echo. The store
// holds no timers; the timeout policy lives here.
func (s *Session) armReconciliationTimer(localID string) {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.reconTimers[localID] = time.AfterFunc(s.reconTimeout, func() {
		s.mu.Lock()
		_, live := s.reconTimers[localID]
		delete(s.reconTimers, localID)
		mounted := s.mounted
		s.mu.Unlock()
		if !live || !mounted {
			return
		}
		if s.store.MarkFailed(localID) {
			if s.metrics != nil {
				s.metrics.MessagesFailed.Inc()
			}
			s.notifyMessages()
			s.surfaceError(chaterr.ReconciliationTimeout("no server echo for sent message"))
		}
	})
	s.mu.Unlock()
}

func (s *Session) cancelReconciliationTimer(localID string) {
	s.mu.Lock()
	if timer, ok := s.reconTimers[localID]; ok {
		timer.Stop()
		delete(s.reconTimers, localID)
	}
	s.mu.Unlock()
}

// failPending marks an optimistic send failed immediately, used when
// the emit itself errored.
func (s *Session) failPending(localID string, err error) {
	if s.store.MarkFailed(localID) {
		if s.metrics != nil {
			s.metrics.MessagesFailed.Inc()
		}
		s.notifyMessages()
	}
	s.surfaceError(err)
}

func (s *Session) notifyMessages() {
	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if !mounted {
		return
	}

	entries := s.store.Messages()
	s.subMu.Lock()
	subs := make([]MessagesFunc, 0, len(s.messageSubs))
	for _, fn := range s.messageSubs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(entries)
	}
}

func (s *Session) notifyPresence() {
	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if !mounted {
		return
	}

	online := s.presence.Online()
	typing := s.presence.Typing()
	s.subMu.Lock()
	subs := make([]PresenceFunc, 0, len(s.presenceSubs))
	for _, fn := range s.presenceSubs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(online, typing)
	}
}

func (s *Session) surfaceError(err error) {
	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if !mounted {
		return
	}

	s.logger.Warn("chat error", "error", err)
	s.subMu.Lock()
	subs := make([]ErrorFunc, 0, len(s.errorSubs))
	for _, fn := range s.errorSubs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}
