// Package protocol defines the JSON envelopes exchanged over the websocket.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/johndosdos/huddle/internal/model"
)

// EventType identifies the payload carried by an Envelope.
type EventType string

const (
	// Client -> Server
	TypeJoinRoom      EventType = "join-room"
	TypeLeaveRoom     EventType = "leave-room"
	TypeSendMessage   EventType = "send-message"
	TypeTyping        EventType = "typing"
	TypeStopTyping    EventType = "stop-typing"
	TypeDeleteMessage EventType = "delete-message"

	// Server -> Client
	TypeJoined         EventType = "joined"
	TypeLeft           EventType = "left"
	TypeReceiveMessage EventType = "receive-message"
	TypeMessageDeleted EventType = "message-deleted"
	TypeUserTyping     EventType = "user-typing"
	TypeUserStopTyping EventType = "user-stop-typing"
	TypeError          EventType = "error"
)

// Envelope wraps every websocket frame with its type.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RoomRef names a room in join/leave requests and replies.
type RoomRef struct {
	Room uuid.UUID `json:"room"`
}

// Joined confirms a join and counts the room's live connections,
// including the joining one.
type Joined struct {
	Room        uuid.UUID `json:"room"`
	Connections int       `json:"connections"`
}

// SendMessage is the inbound message event.
type SendMessage struct {
	Room                   uuid.UUID         `json:"room"`
	SenderID               *uuid.UUID        `json:"senderId,omitempty"`
	Content                string            `json:"content"`
	MessageType            model.MessageType `json:"messageType,omitempty"`
	ReplyToMessageID       *uuid.UUID        `json:"replyToMessageId,omitempty"`
	ForwardedFromMessageID *uuid.UUID        `json:"forwardedFromMessageId,omitempty"`
	FileName               string            `json:"fileName,omitempty"`
	FileSize               int64             `json:"fileSize,omitempty"`
	// ClientRef is echoed back in errors so the sender can match a failure
	// to its pending message.
	ClientRef string `json:"clientRef,omitempty"`
}

// Typing is both the inbound typing request and the outbound typing event.
type Typing struct {
	Room     uuid.UUID `json:"room"`
	UserID   uuid.UUID `json:"userId,omitempty"`
	Username string    `json:"username,omitempty"`
}

// DeleteMessage asks for the soft-delete of one of the sender's messages.
type DeleteMessage struct {
	MessageID uuid.UUID `json:"messageId"`
}

// ErrorMessage is sent to a single connection when one of its requests fails.
type ErrorMessage struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Event     EventType `json:"event,omitempty"`
	ClientRef string    `json:"clientRef,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidMsg  = "invalid_message"
	ErrCodeForbidden   = "forbidden"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(t EventType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: raw}, nil
}

// Encode marshals an envelope of type t around data, ready for the wire.
func Encode(t EventType, data any) ([]byte, error) {
	env, err := NewEnvelope(t, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope parses a JSON frame into an envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
