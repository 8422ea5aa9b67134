// Package models defines the data model shared by the chat client:
// messages, pending (unacknowledged) messages, the online-user roster,
// typing signals, and the wire envelope exchanged with the portal's
// real-time event channel.
package models

import "time"

// MessageKind identifies the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindAudio MessageKind = "audio"
	KindFile  MessageKind = "file"
)

// ReplyRef points at the message a reply targets, with a denormalized
// preview so the UI can render the quote without a lookup.
type ReplyRef struct {
	MessageID  string `json:"messageId"`
	AuthorName string `json:"authorName,omitempty"`
	Preview    string `json:"preview,omitempty"`
}

// Message is a chat message as acknowledged by the server. Once
// acknowledged it is immutable except through edit and delete events.
type Message struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"authorId"`
	AuthorName string      `json:"authorName"`
	Kind       MessageKind `json:"kind"`
	Body       string      `json:"body,omitempty"`
	MediaURL   string      `json:"mediaUrl,omitempty"`
	MediaName  string      `json:"mediaName,omitempty"`
	MediaSize  int64       `json:"mediaSize,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	Edited     bool        `json:"edited,omitempty"`
	EditedAt   time.Time   `json:"editedAt,omitempty"`
	Deleted    bool        `json:"deleted,omitempty"`
	ReplyTo    *ReplyRef   `json:"replyTo,omitempty"`
}

// Tombstone reports whether the message should render as a deletion
// marker rather than its body or media.
func (m Message) Tombstone() bool {
	return m.Deleted
}

// PendingState describes the lifecycle of a locally-created message
// that has not yet been acknowledged by the server.
type PendingState string

const (
	PendingSending PendingState = "sending"
	PendingFailed  PendingState = "failed"
)

// PendingMessage is a client-only optimistic message. LocalID is a
// temporary identifier used to match the eventual server echo; it never
// survives reconciliation.
type PendingMessage struct {
	Message
	LocalID string       `json:"localId"`
	State   PendingState `json:"state"`
}

// PresenceStatus is a user's advertised availability.
type PresenceStatus string

const (
	StatusOnline PresenceStatus = "online"
	StatusAway   PresenceStatus = "away"
	StatusBusy   PresenceStatus = "busy"
)

// OnlineUser is one entry in the roster snapshot pushed by the server.
type OnlineUser struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen,omitempty"`
}

// TypingSignal reports that a user started or stopped typing. The
// typing set holds at most one entry per username.
type TypingSignal struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}
