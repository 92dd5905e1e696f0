// Package model holds the chat records shared across layers: a Message
// ordered within its room by (CreatedAt, ID), and a private or group Room
// with its participants and newest-message pointer.
package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

// Tombstone replaces the content of a soft-deleted message for every reader.
const Tombstone = "This message was deleted"

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile:
		return true
	}
	return false
}

// IsMedia reports whether content holds a reference to an uploaded file.
func (t MessageType) IsMedia() bool {
	return t == MessageImage || t == MessageVideo || t == MessageFile
}

// Message holds information about a single message.
type Message struct {
	ID                     uuid.UUID   `json:"id"`
	RoomID                 uuid.UUID   `json:"roomId"`
	SenderID               uuid.UUID   `json:"senderId"`
	Content                string      `json:"content"`
	Type                   MessageType `json:"type"`
	ReplyToMessageID       *uuid.UUID  `json:"replyToMessageId,omitempty"`
	ForwardedFromMessageID *uuid.UUID  `json:"forwardedFromMessageId,omitempty"`
	FileName               string      `json:"fileName,omitempty"`
	FileSize               int64       `json:"fileSize,omitempty"`
	IsDeleted              bool        `json:"isDeleted"`
	DeletedAt              *time.Time  `json:"deletedAt,omitempty"`
	CreatedAt              time.Time   `json:"createdAt"`
}

// Redacted returns the form of m every reader sees. Deleted messages keep
// their stored content but are presented with the tombstone.
func (m Message) Redacted() Message {
	if !m.IsDeleted {
		return m
	}
	m.Content = Tombstone
	m.FileName = ""
	m.FileSize = 0
	return m
}

// Before reports whether m sorts before o in a room's history.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID.String() < o.ID.String()
}
