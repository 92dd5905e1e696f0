package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/johndosdos/huddle/internal/database"
	"github.com/johndosdos/huddle/internal/model"
)

// DB is a pool or connection able to open transactions.
type DB interface {
	database.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// privatePrefix starts every private room name. Group rooms cannot use it.
const privatePrefix = "private:"

// Rooms is the durable room registry.
type Rooms struct {
	db    DB
	q     *database.Queries
	retry RetryPolicy
}

// NewRooms returns a room registry on db.
func NewRooms(db DB, retry RetryPolicy) *Rooms {
	return &Rooms{db: db, q: database.New(db), retry: retry}
}

// CreatePrivate returns the private room between a and b, creating it on
// first use. Argument order does not matter.
func (r *Rooms) CreatePrivate(ctx context.Context, a, b uuid.UUID) (model.Room, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return model.Room{}, fmt.Errorf("store: private room needs two users: %w", ErrValidation)
	}
	if a == b {
		return model.Room{}, fmt.Errorf("store: cannot open a private room with yourself: %w", ErrValidation)
	}

	key := model.PairKey(a, b)
	var room database.Room
	err := r.retry.do(ctx, "create_private_room", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			q := r.q.WithTx(tx)

			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			now := pgTime(time.Now().UTC())
			roomID, err := q.InsertRoom(ctx, database.InsertRoomParams{
				ID:              pgUUID(id),
				Name:            privatePrefix + key,
				Type:            string(model.RoomPrivate),
				PairKey:         pgtype.Text{String: key, Valid: true},
				CreatedByUserID: pgUUID(a),
				AdminUserID:     pgUUID(a),
				CreatedAt:       now,
			})
			switch {
			case err == nil:
				for _, u := range []uuid.UUID{a, b} {
					if err := q.AddRoomParticipant(ctx, roomID, pgUUID(u), now); err != nil {
						return err
					}
				}
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}

			room, err = q.GetRoomByPairKey(ctx, key)
			return err
		})
	})
	if err != nil {
		return model.Room{}, fmt.Errorf("store: create private room: %w: %w", ErrStorage, err)
	}

	return roomFromRow(room), nil
}

// CreateGroup creates a named group room administered by its creator.
func (r *Rooms) CreateGroup(ctx context.Context, name string, creatorID uuid.UUID, participantIDs []uuid.UUID, description string) (model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Room{}, fmt.Errorf("store: group name is required: %w", ErrValidation)
	}
	if strings.HasPrefix(strings.ToLower(name), privatePrefix) {
		return model.Room{}, fmt.Errorf("store: group name %q is reserved: %w", name, ErrValidation)
	}
	if creatorID == uuid.Nil {
		return model.Room{}, fmt.Errorf("store: group creator is required: %w", ErrValidation)
	}

	members := []uuid.UUID{creatorID}
	seen := map[uuid.UUID]bool{creatorID: true}
	for _, p := range participantIDs {
		if p == uuid.Nil || seen[p] {
			continue
		}
		seen[p] = true
		members = append(members, p)
	}

	var room database.Room
	err := r.retry.do(ctx, "create_group_room", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			q := r.q.WithTx(tx)

			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			now := pgTime(time.Now().UTC())
			roomID, err := q.InsertRoom(ctx, database.InsertRoomParams{
				ID:              pgUUID(id),
				Name:            name,
				Description:     description,
				Type:            string(model.RoomGroup),
				CreatedByUserID: pgUUID(creatorID),
				AdminUserID:     pgUUID(creatorID),
				CreatedAt:       now,
			})
			if err != nil {
				return err
			}
			for _, u := range members {
				if err := q.AddRoomParticipant(ctx, roomID, pgUUID(u), now); err != nil {
					return err
				}
			}

			room, err = q.GetRoomByID(ctx, roomID)
			return err
		})
	})
	switch {
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return model.Room{}, fmt.Errorf("store: room name %q: %w", name, ErrConflict)
	case err != nil:
		return model.Room{}, fmt.Errorf("store: create group room: %w: %w", ErrStorage, err)
	}

	return roomFromRow(room), nil
}

// GetByName looks a room up by its unique name.
func (r *Rooms) GetByName(ctx context.Context, name string) (model.Room, error) {
	return r.getOne(ctx, "get_room_by_name", name, func(ctx context.Context) (database.Room, error) {
		return r.q.GetRoomByName(ctx, name)
	})
}

// GetByID looks a room up by id.
func (r *Rooms) GetByID(ctx context.Context, id uuid.UUID) (model.Room, error) {
	return r.getOne(ctx, "get_room", id.String(), func(ctx context.Context) (database.Room, error) {
		return r.q.GetRoomByID(ctx, pgUUID(id))
	})
}

func (r *Rooms) getOne(ctx context.Context, op, key string, fetch func(context.Context) (database.Room, error)) (model.Room, error) {
	var row database.Room
	err := r.retry.do(ctx, op, func(ctx context.Context) error {
		var err error
		row, err = fetch(ctx)
		return err
	})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.Room{}, fmt.Errorf("store: room %q: %w", key, ErrNotFound)
	case err != nil:
		return model.Room{}, fmt.Errorf("store: get room: %w: %w", ErrStorage, err)
	}
	return roomFromRow(row), nil
}

// IsParticipant reports whether userID belongs to roomID.
func (r *Rooms) IsParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.retry.do(ctx, "is_participant", func(ctx context.Context) error {
		var err error
		ok, err = r.q.IsRoomParticipant(ctx, pgUUID(roomID), pgUUID(userID))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: check participant: %w: %w", ErrStorage, err)
	}
	return ok, nil
}

// ListForUser returns the rooms userID belongs to, most recently updated first.
func (r *Rooms) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Room, error) {
	var rows []database.Room
	err := r.retry.do(ctx, "list_rooms", func(ctx context.Context) error {
		var err error
		rows, err = r.q.ListRoomsForUser(ctx, pgUUID(userID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list rooms: %w: %w", ErrStorage, err)
	}

	rooms := make([]model.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, roomFromRow(row))
	}
	return rooms, nil
}

// UpdateLastMessage points the room at messageID unless it already points at
// a newer message. It is a single attempt; callers treat failure as non-fatal.
func (r *Rooms) UpdateLastMessage(ctx context.Context, roomID, messageID uuid.UUID) error {
	_, err := r.q.UpdateRoomLastMessage(ctx, pgUUID(roomID), pgUUID(messageID), pgTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("store: update last message: %w: %w", ErrStorage, err)
	}
	return nil
}

// RepointLastMessage moves the room pointer off deletedID, if it points there.
func (r *Rooms) RepointLastMessage(ctx context.Context, roomID, deletedID uuid.UUID) error {
	if err := r.q.RepointRoomLastMessage(ctx, pgUUID(roomID), pgUUID(deletedID)); err != nil {
		return fmt.Errorf("store: repoint last message: %w: %w", ErrStorage, err)
	}
	return nil
}
