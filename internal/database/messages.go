package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const messageColumns = `id, room_id, sender_id, content, type, reply_to_message_id,
	forwarded_from_message_id, file_name, file_size, is_deleted, deleted_at, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.SenderID,
		&m.Content,
		&m.Type,
		&m.ReplyToMessageID,
		&m.ForwardedFromMessageID,
		&m.FileName,
		&m.FileSize,
		&m.IsDeleted,
		&m.DeletedAt,
		&m.CreatedAt,
	)
	return m, err
}

func collectMessages(rows pgx.Rows, err error) ([]Message, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const createMessage = `INSERT INTO messages (
	id, room_id, sender_id, content, type, reply_to_message_id,
	forwarded_from_message_id, file_name, file_size, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING
RETURNING ` + messageColumns

type CreateMessageParams struct {
	ID                     pgtype.UUID
	RoomID                 pgtype.UUID
	SenderID               pgtype.UUID
	Content                string
	Type                   string
	ReplyToMessageID       pgtype.UUID
	ForwardedFromMessageID pgtype.UUID
	FileName               string
	FileSize               int64
	CreatedAt              pgtype.Timestamptz
}

// CreateMessage inserts a message. It returns pgx.ErrNoRows when a message
// with the same id already exists, which happens when a retried insert had
// in fact committed.
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	row := q.db.QueryRow(ctx, createMessage,
		arg.ID,
		arg.RoomID,
		arg.SenderID,
		arg.Content,
		arg.Type,
		arg.ReplyToMessageID,
		arg.ForwardedFromMessageID,
		arg.FileName,
		arg.FileSize,
		arg.CreatedAt,
	)
	return scanMessage(row)
}

const getMessage = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

func (q *Queries) GetMessage(ctx context.Context, id pgtype.UUID) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, getMessage, id))
}

const listRoomMessages = `SELECT ` + messageColumns + `
FROM messages
WHERE room_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

// ListRoomMessages returns the newest messages of a room, newest first.
func (q *Queries) ListRoomMessages(ctx context.Context, roomID pgtype.UUID, limit int32) ([]Message, error) {
	return collectMessages(q.db.Query(ctx, listRoomMessages, roomID, limit))
}

const listRoomMessagesBefore = `SELECT ` + messageColumns + `
FROM messages
WHERE room_id = $1 AND (created_at, id) < ($2, $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`

type ListRoomMessagesBeforeParams struct {
	RoomID          pgtype.UUID
	BeforeCreatedAt pgtype.Timestamptz
	BeforeID        pgtype.UUID
	Limit           int32
}

// ListRoomMessagesBefore returns messages strictly older than the
// (created_at, id) position, newest first.
func (q *Queries) ListRoomMessagesBefore(ctx context.Context, arg ListRoomMessagesBeforeParams) ([]Message, error) {
	return collectMessages(q.db.Query(ctx, listRoomMessagesBefore,
		arg.RoomID,
		arg.BeforeCreatedAt,
		arg.BeforeID,
		arg.Limit,
	))
}

const softDeleteMessage = `UPDATE messages
SET is_deleted = TRUE, deleted_at = $2
WHERE id = $1 AND NOT is_deleted
RETURNING ` + messageColumns

// SoftDeleteMessage flags a live message as deleted. It returns pgx.ErrNoRows
// when the message is missing or already deleted.
func (q *Queries) SoftDeleteMessage(ctx context.Context, id pgtype.UUID, deletedAt pgtype.Timestamptz) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, softDeleteMessage, id, deletedAt))
}
