package model

import (
	"time"

	"github.com/google/uuid"
)

// RoomType distinguishes one-to-one rooms from group rooms.
type RoomType string

const (
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
)

// Room is the durable metadata of a chat room.
type Room struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Type            RoomType    `json:"type"`
	CreatedByUserID uuid.UUID   `json:"createdByUserId"`
	AdminUserID     uuid.UUID   `json:"adminUserId"`
	Participants    []uuid.UUID `json:"participants"`
	LastMessageID   *uuid.UUID  `json:"lastMessageId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the room.
func (r Room) HasParticipant(userID uuid.UUID) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// PairKey is the canonical lookup key of the private room between a and b.
// It does not depend on argument order.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}
