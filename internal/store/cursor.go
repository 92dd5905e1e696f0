package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/huddle/internal/model"
)

type messageCursor struct {
	RoomID    uuid.UUID `json:"r"`
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"i"`
}

// EncodeCursor returns the opaque position just after m in its room.
func EncodeCursor(m model.Message) string {
	b, err := json.Marshal(messageCursor{RoomID: m.RoomID, CreatedAt: m.CreatedAt, ID: m.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(roomID uuid.UUID, cursor string) (messageCursor, error) {
	var mc messageCursor
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return mc, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(data, &mc); err != nil {
		return mc, fmt.Errorf("%w: decode cursor JSON: %v", ErrInvalidCursor, err)
	}
	if mc.RoomID != roomID {
		return mc, fmt.Errorf("%w: cursor room mismatch", ErrInvalidCursor)
	}
	if mc.ID == uuid.Nil || mc.CreatedAt.IsZero() {
		return mc, fmt.Errorf("%w: incomplete cursor", ErrInvalidCursor)
	}
	return mc, nil
}
