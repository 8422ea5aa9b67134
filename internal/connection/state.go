// Package connection owns the single network channel the chat session
// runs over: handshake and authentication, reconnect with backoff,
// lifecycle state, and typed fan-out of inbound events.
package connection

// State is the connection lifecycle state.
type State string

const (
	// StateIdle means no connection exists and none is being made.
	StateIdle State = "idle"
	// StateAuthenticating means a connect is resolving the credential
	// and performing the handshake.
	StateAuthenticating State = "authenticating"
	// StateConnected means the channel is open and commands flow.
	StateConnected State = "connected"
	// StateDisconnected means an open connection just dropped.
	StateDisconnected State = "disconnected"
	// StateReconnecting means the manager is retrying with backoff.
	StateReconnecting State = "reconnecting"
	// StateFailed means the backoff cap was reached; only an explicit
	// Connect recovers.
	StateFailed State = "failed"
)
