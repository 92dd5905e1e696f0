package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const roomSelect = `SELECT r.id, r.name, r.description, r.type, r.created_by_user_id,
	r.admin_user_id, r.last_message_id, r.created_at, r.updated_at,
	ARRAY(SELECT p.user_id FROM room_participants p WHERE p.room_id = r.id ORDER BY p.user_id)::uuid[]
FROM rooms r`

func scanRoom(row pgx.Row) (Room, error) {
	var r Room
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.Type,
		&r.CreatedByUserID,
		&r.AdminUserID,
		&r.LastMessageID,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.Participants,
	)
	return r, err
}

const insertRoom = `INSERT INTO rooms (
	id, name, description, type, pair_key, created_by_user_id, admin_user_id, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT DO NOTHING
RETURNING id`

type InsertRoomParams struct {
	ID              pgtype.UUID
	Name            string
	Description     string
	Type            string
	PairKey         pgtype.Text
	CreatedByUserID pgtype.UUID
	AdminUserID     pgtype.UUID
	CreatedAt       pgtype.Timestamptz
}

// InsertRoom creates a room unless its name or pair key is taken, in which
// case it returns pgx.ErrNoRows.
func (q *Queries) InsertRoom(ctx context.Context, arg InsertRoomParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := q.db.QueryRow(ctx, insertRoom,
		arg.ID,
		arg.Name,
		arg.Description,
		arg.Type,
		arg.PairKey,
		arg.CreatedByUserID,
		arg.AdminUserID,
		arg.CreatedAt,
	).Scan(&id)
	return id, err
}

const addRoomParticipant = `INSERT INTO room_participants (room_id, user_id, joined_at)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`

func (q *Queries) AddRoomParticipant(ctx context.Context, roomID, userID pgtype.UUID, joinedAt pgtype.Timestamptz) error {
	_, err := q.db.Exec(ctx, addRoomParticipant, roomID, userID, joinedAt)
	return err
}

const getRoomByID = roomSelect + ` WHERE r.id = $1`

func (q *Queries) GetRoomByID(ctx context.Context, id pgtype.UUID) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, getRoomByID, id))
}

const getRoomByName = roomSelect + ` WHERE r.name = $1`

func (q *Queries) GetRoomByName(ctx context.Context, name string) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, getRoomByName, name))
}

const getRoomByPairKey = roomSelect + ` WHERE r.pair_key = $1`

func (q *Queries) GetRoomByPairKey(ctx context.Context, pairKey string) (Room, error) {
	return scanRoom(q.db.QueryRow(ctx, getRoomByPairKey, pairKey))
}

const listRoomsForUser = roomSelect + `
JOIN room_participants me ON me.room_id = r.id AND me.user_id = $1
ORDER BY r.updated_at DESC, r.id`

func (q *Queries) ListRoomsForUser(ctx context.Context, userID pgtype.UUID) ([]Room, error) {
	rows, err := q.db.Query(ctx, listRoomsForUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const isRoomParticipant = `SELECT EXISTS (
	SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2
)`

func (q *Queries) IsRoomParticipant(ctx context.Context, roomID, userID pgtype.UUID) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, isRoomParticipant, roomID, userID).Scan(&ok)
	return ok, err
}

// The pointer only moves forward in (created_at, id) order, so a late update
// for an older message cannot overwrite a newer one.
const updateRoomLastMessage = `UPDATE rooms r
SET last_message_id = m.id, updated_at = $3
FROM messages m
WHERE r.id = $1 AND m.id = $2 AND m.room_id = r.id
  AND NOT EXISTS (
	SELECT 1 FROM messages cur
	WHERE cur.id = r.last_message_id AND (cur.created_at, cur.id) > (m.created_at, m.id)
  )`

func (q *Queries) UpdateRoomLastMessage(ctx context.Context, roomID, messageID pgtype.UUID, updatedAt pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, updateRoomLastMessage, roomID, messageID, updatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const repointRoomLastMessage = `UPDATE rooms
SET last_message_id = (
	SELECT m.id FROM messages m
	WHERE m.room_id = $1 AND NOT m.is_deleted
	ORDER BY m.created_at DESC, m.id DESC
	LIMIT 1
)
WHERE id = $1 AND last_message_id = $2`

// RepointRoomLastMessage moves the pointer off a deleted message onto the
// newest live one, if the room currently points at deletedID.
func (q *Queries) RepointRoomLastMessage(ctx context.Context, roomID, deletedID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, repointRoomLastMessage, roomID, deletedID)
	return err
}
