// Package transport provides the event channel the chat client speaks
// over: an abstract reliable bidirectional stream of named events, and
// its websocket implementation. Framing and handshake bytes live here;
// everything above sees only envelopes.
package transport

import (
	"context"
	"errors"

	"github.com/ksucu-mc/chatkit/pkg/models"
)

// CloseReason classifies how a connection ended. The connection
// manager uses this to decide between reconnecting and going idle.
type CloseReason int

const (
	// CloseLocal means Close was called on this side.
	CloseLocal CloseReason = iota
	// CloseServer means the server sent an explicit close instruction.
	CloseServer
	// CloseDropped means the transport failed without a close frame.
	CloseDropped
)

// CloseInfo describes the end of one connection.
type CloseInfo struct {
	Reason CloseReason
	Err    error
}

// ErrNotConnected is returned by Send when no connection is open.
var ErrNotConnected = errors.New("transport: not connected")

// ErrUnauthorized is returned by Connect when the server rejects the
// credential during the handshake.
var ErrUnauthorized = errors.New("transport: handshake rejected credential")

// EventChannel is the reliable bidirectional channel the chat session
// runs over. Implementations guarantee per-connection ordering within
// one event type but nothing across types.
type EventChannel interface {
	// Connect performs the handshake with the given credential. It
	// returns once the server has acknowledged the connection.
	Connect(ctx context.Context, credential string) error

	// Send emits one outbound command. Returns ErrNotConnected when
	// no connection is open.
	Send(event models.EventName, payload any) error

	// Events yields inbound envelopes across all connections of this
	// channel's lifetime.
	Events() <-chan models.Envelope

	// Closed yields one CloseInfo each time an open connection ends.
	Closed() <-chan CloseInfo

	// Close tears down the current connection. Idempotent and safe to
	// call in any state, including before the first Connect.
	Close() error
}
