package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/johndosdos/huddle/internal/database"
	"github.com/johndosdos/huddle/internal/model"
)

const (
	// DefaultLimit is the page size used when none is requested.
	DefaultLimit = 50

	// MaxLimit caps a single history page.
	MaxLimit = 200
)

// Order selects the direction of a history page.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ListOptions selects a page of room history. The page holds the newest
// Limit messages strictly older than Cursor (or the newest overall when
// Cursor is empty).
type ListOptions struct {
	Limit  int
	Cursor string
	Order  Order
}

// Page is one slice of a room's history.
type Page struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor,omitempty"`
	HasMore    bool            `json:"hasMore"`
}

// Messages is the append-only message log.
type Messages struct {
	q     *database.Queries
	retry RetryPolicy
	clock *monotonicClock
}

// NewMessages returns a message store on db.
func NewMessages(db database.DBTX, retry RetryPolicy) *Messages {
	return &Messages{
		q:     database.New(db),
		retry: retry,
		clock: newMonotonicClock(nil),
	}
}

// Append assigns an id and createdAt when absent and durably writes msg.
// Appending the same id twice returns the stored record.
func (s *Messages) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return model.Message{}, fmt.Errorf("store: generate message id: %w", err)
		}
		msg.ID = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.clock.Now()
	}
	if msg.Type == "" {
		msg.Type = model.MessageText
	}

	params := database.CreateMessageParams{
		ID:                     pgUUID(msg.ID),
		RoomID:                 pgUUID(msg.RoomID),
		SenderID:               pgUUID(msg.SenderID),
		Content:                msg.Content,
		Type:                   string(msg.Type),
		ReplyToMessageID:       pgUUIDPtr(msg.ReplyToMessageID),
		ForwardedFromMessageID: pgUUIDPtr(msg.ForwardedFromMessageID),
		FileName:               msg.FileName,
		FileSize:               msg.FileSize,
		CreatedAt:              pgTime(msg.CreatedAt.UTC().Truncate(time.Microsecond)),
	}

	var row database.Message
	err := s.retry.do(ctx, "append", func(ctx context.Context) error {
		var err error
		row, err = s.q.CreateMessage(ctx, params)
		if errors.Is(err, pgx.ErrNoRows) {
			// An earlier attempt committed before its reply was lost.
			row, err = s.q.GetMessage(ctx, params.ID)
		}
		return err
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("store: append message: %w: %w", ErrStorage, err)
	}

	return messageFromRow(row), nil
}

// Get returns a message as readers see it.
func (s *Messages) Get(ctx context.Context, id uuid.UUID) (model.Message, error) {
	row, err := s.get(ctx, id)
	if err != nil {
		return model.Message{}, err
	}
	return messageFromRow(row).Redacted(), nil
}

func (s *Messages) get(ctx context.Context, id uuid.UUID) (database.Message, error) {
	var row database.Message
	err := s.retry.do(ctx, "get", func(ctx context.Context) error {
		var err error
		row, err = s.q.GetMessage(ctx, pgUUID(id))
		return err
	})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return row, fmt.Errorf("store: message %s: %w", id, ErrNotFound)
	case err != nil:
		return row, fmt.Errorf("store: get message: %w: %w", ErrStorage, err)
	}
	return row, nil
}

// ListByRoom returns a page of a room's history ordered by (createdAt, id),
// oldest first unless opts.Order is OrderDesc.
func (s *Messages) ListByRoom(ctx context.Context, roomID uuid.UUID, opts ListOptions) (Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var before *messageCursor
	if opts.Cursor != "" {
		mc, err := decodeCursor(roomID, opts.Cursor)
		if err != nil {
			return Page{}, fmt.Errorf("store: list messages: %w", err)
		}
		before = &mc
	}

	// One extra row tells us whether an older page exists.
	fetch := int32(limit + 1)
	var rows []database.Message
	err := s.retry.do(ctx, "list", func(ctx context.Context) error {
		var err error
		if before == nil {
			rows, err = s.q.ListRoomMessages(ctx, pgUUID(roomID), fetch)
			return err
		}
		rows, err = s.q.ListRoomMessagesBefore(ctx, database.ListRoomMessagesBeforeParams{
			RoomID:          pgUUID(roomID),
			BeforeCreatedAt: pgTime(before.CreatedAt),
			BeforeID:        pgUUID(before.ID),
			Limit:           fetch,
		})
		return err
	})
	if err != nil {
		return Page{}, fmt.Errorf("store: list messages: %w: %w", ErrStorage, err)
	}

	page := Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}

	page.Messages = make([]model.Message, 0, len(rows))
	for _, row := range rows {
		page.Messages = append(page.Messages, messageFromRow(row).Redacted())
	}
	if page.HasMore {
		page.NextCursor = EncodeCursor(page.Messages[len(page.Messages)-1])
	}
	if opts.Order != OrderDesc {
		slices.Reverse(page.Messages)
	}

	return page, nil
}

// SoftDelete marks a message deleted on behalf of its sender. Deleting an
// already deleted message succeeds without changing it.
func (s *Messages) SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (model.Message, error) {
	row, err := s.get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if uuid.UUID(row.SenderID.Bytes) != requesterID {
		return model.Message{}, fmt.Errorf("store: delete message %s: %w", messageID, ErrForbidden)
	}
	if row.IsDeleted {
		return messageFromRow(row).Redacted(), nil
	}

	err = s.retry.do(ctx, "soft_delete", func(ctx context.Context) error {
		deleted, err := s.q.SoftDeleteMessage(ctx, row.ID, pgTime(time.Now().UTC()))
		if errors.Is(err, pgx.ErrNoRows) {
			// Deleted concurrently; report the winner's state.
			deleted, err = s.q.GetMessage(ctx, row.ID)
		}
		if err == nil {
			row = deleted
		}
		return err
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("store: delete message: %w: %w", ErrStorage, err)
	}

	return messageFromRow(row).Redacted(), nil
}
