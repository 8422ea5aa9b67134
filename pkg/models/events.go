package models

import "encoding/json"

// EventName identifies a frame on the event channel. Outbound names are
// commands the client emits; inbound names are events the server pushes.
type EventName string

// Outbound commands.
const (
	EventSendMessage   EventName = "sendMessage"
	EventEditMessage   EventName = "editMessage"
	EventDeleteMessage EventName = "deleteMessage"
	EventTyping        EventName = "typing"
)

// Inbound events.
const (
	EventNewMessage        EventName = "newMessage"
	EventMessageEdited     EventName = "messageEdited"
	EventMessageDeleted    EventName = "messageDeleted"
	EventOnlineUsersUpdate EventName = "onlineUsersUpdate"
	EventUserTyping        EventName = "userTyping"
	EventError             EventName = "error"
)

// Envelope is the JSON frame exchanged on the event channel: an event
// name plus the event-specific payload.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for event.
func NewEnvelope(event EventName, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// SendMessagePayload is the body of a sendMessage command. LocalID lets
// the server echo identify which optimistic message it acknowledges.
type SendMessagePayload struct {
	LocalID string      `json:"localId"`
	Kind    MessageKind `json:"kind"`
	Body    string      `json:"body,omitempty"`
	ReplyTo *ReplyRef   `json:"replyTo,omitempty"`
}

// EditMessagePayload is the body of an editMessage command.
type EditMessagePayload struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// DeleteMessagePayload is the body of a deleteMessage command.
type DeleteMessagePayload struct {
	ID string `json:"id"`
}

// TypingPayload is the body of an outbound typing command.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// NewMessagePayload is the body of a newMessage event. LocalID is set
// when the message is the echo of this client's own send.
type NewMessagePayload struct {
	Message
	LocalID string `json:"localId,omitempty"`
}

// MessageDeletedPayload is the body of a messageDeleted event.
type MessageDeletedPayload struct {
	ID string `json:"id"`
}

// RosterPayload is the body of an onlineUsersUpdate event. The server
// pushes the full roster each time; the client replaces, never diffs.
type RosterPayload struct {
	Users []OnlineUser `json:"users"`
}

// ErrorEvent is the body of an inbound error event. Op and TargetID
// identify the rejected command so the client can roll back the
// matching optimistic apply.
type ErrorEvent struct {
	Op       EventName `json:"op,omitempty"`
	TargetID string    `json:"id,omitempty"`
	Message  string    `json:"message"`
}
