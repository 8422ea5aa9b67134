package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ksucu-mc/chatkit/pkg/models"
)

const (
	wsWriteWait       = 10 * time.Second
	wsMaxPayloadBytes = 1 << 20
)

// WebSocket implements EventChannel over a gorilla websocket
// connection. One WebSocket value can be connected repeatedly; each
// Connect opens a fresh underlying connection.
type WebSocket struct {
	url    string
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	localClose bool
	events     chan models.Envelope
	closed     chan CloseInfo
	readerDone chan struct{}
	stop       chan struct{}
}

// NewWebSocket creates a websocket event channel for the given URL.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		url:    url,
		dialer: websocket.DefaultDialer,
		events: make(chan models.Envelope, 64),
		closed: make(chan CloseInfo, 4),
	}
}

// Connect dials the server, presenting the credential as a bearer
// token. A successful upgrade is the handshake acknowledgement; an
// HTTP 401/403 response maps to ErrUnauthorized.
func (w *WebSocket) Connect(ctx context.Context, credential string) error {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	if w.conn != nil {
		w.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("transport: already connected")
	}
	conn.SetReadLimit(wsMaxPayloadBytes)
	w.conn = conn
	w.localClose = false
	w.readerDone = make(chan struct{})
	w.stop = make(chan struct{})
	done := w.readerDone
	stop := w.stop
	w.mu.Unlock()

	go w.readLoop(conn, done, stop)
	return nil
}

// Send writes one envelope to the open connection.
func (w *WebSocket) Send(event models.EventName, payload any) error {
	envelope, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrNotConnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(envelope)
}

// Events implements EventChannel.
func (w *WebSocket) Events() <-chan models.Envelope {
	return w.events
}

// Closed implements EventChannel.
func (w *WebSocket) Closed() <-chan CloseInfo {
	return w.closed
}

// Close tears down the current connection, if any. Safe to call from
// any state and repeatedly.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return nil
	}
	w.localClose = true
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()

	// Unblock a reader stuck handing an envelope to a consumer that has
	// gone away.
	if stop != nil {
		close(stop)
	}

	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func (w *WebSocket) readLoop(conn *websocket.Conn, done, stop chan struct{}) {
	defer close(done)

	var info CloseInfo
loop:
	for {
		var envelope models.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			info = w.classifyClose(err)
			break
		}
		select {
		case w.events <- envelope:
		case <-stop:
			info = CloseInfo{Reason: CloseLocal}
			break loop
		}
	}

	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.mu.Unlock()
	_ = conn.Close()

	w.closed <- info
}

func (w *WebSocket) classifyClose(err error) CloseInfo {
	w.mu.Lock()
	local := w.localClose
	w.mu.Unlock()

	if local {
		return CloseInfo{Reason: CloseLocal}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return CloseInfo{Reason: CloseServer, Err: err}
	}
	return CloseInfo{Reason: CloseDropped, Err: err}
}
