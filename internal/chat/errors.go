package chat

import (
	"errors"
	"fmt"

	"github.com/johndosdos/huddle/internal/protocol"
	"github.com/johndosdos/huddle/internal/store"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), store.ErrValidation)
}

// ErrorCode maps an operation error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInvalidCursor):
		return protocol.ErrCodeInvalidMsg
	case errors.Is(err, store.ErrForbidden):
		return protocol.ErrCodeForbidden
	case errors.Is(err, store.ErrNotFound):
		return protocol.ErrCodeNotFound
	case errors.Is(err, store.ErrConflict):
		return protocol.ErrCodeConflict
	default:
		return protocol.ErrCodeInternal
	}
}

// PublicMessage returns the text of err that is safe to show a client.
func PublicMessage(err error) string {
	if ErrorCode(err) == protocol.ErrCodeInternal {
		return "internal error, try again later"
	}
	return err.Error()
}
