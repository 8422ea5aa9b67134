// Package chaterr defines the typed errors surfaced by the chat client.
// Errors carry a code for classification; the session façade forwards
// them to the UI through its error subscription rather than throwing
// them across the command API.
package chaterr

import (
	"errors"
	"fmt"
)

// Code classifies an error condition for handling and display.
type Code string

const (
	// CodeAuthentication indicates a missing or expired credential.
	// Never retried automatically; the UI should redirect to re-login.
	CodeAuthentication Code = "AUTHENTICATION"

	// CodeNetwork indicates a transport-level failure during connect
	// or send.
	CodeNetwork Code = "NETWORK"

	// CodeReconciliationTimeout indicates an optimistic send that was
	// never echoed back by the server within the bounded wait.
	CodeReconciliationTimeout Code = "RECONCILIATION_TIMEOUT"

	// CodeServerRejection indicates an explicit error event from the
	// server for a command this client emitted.
	CodeServerRejection Code = "SERVER_REJECTION"

	// CodeReconnectExhausted indicates the reconnect backoff cap was
	// reached; recovery requires an explicit Connect.
	CodeReconnectExhausted Code = "RECONNECT_EXHAUSTED"
)

// Error is a classified chat error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Authentication creates a CodeAuthentication error.
func Authentication(message string, err error) *Error {
	return New(CodeAuthentication, message, err)
}

// Network creates a CodeNetwork error.
func Network(message string, err error) *Error {
	return New(CodeNetwork, message, err)
}

// ReconciliationTimeout creates a CodeReconciliationTimeout error.
func ReconciliationTimeout(message string) *Error {
	return New(CodeReconciliationTimeout, message, nil)
}

// ServerRejection creates a CodeServerRejection error.
func ServerRejection(message string) *Error {
	return New(CodeServerRejection, message, nil)
}

// ReconnectExhausted creates a CodeReconnectExhausted error.
func ReconnectExhausted(message string, err error) *Error {
	return New(CodeReconnectExhausted, message, err)
}

// CodeOf extracts the Code from err, or "" if err is not a chat error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
