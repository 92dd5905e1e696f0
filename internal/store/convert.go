package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/johndosdos/huddle/internal/database"
	"github.com/johndosdos/huddle/internal/model"
)

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}

func pgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgUUID(*id)
}

func uuidPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func messageFromRow(row database.Message) model.Message {
	return model.Message{
		ID:                     uuid.UUID(row.ID.Bytes),
		RoomID:                 uuid.UUID(row.RoomID.Bytes),
		SenderID:               uuid.UUID(row.SenderID.Bytes),
		Content:                row.Content,
		Type:                   model.MessageType(row.Type),
		ReplyToMessageID:       uuidPtr(row.ReplyToMessageID),
		ForwardedFromMessageID: uuidPtr(row.ForwardedFromMessageID),
		FileName:               row.FileName,
		FileSize:               row.FileSize,
		IsDeleted:              row.IsDeleted,
		DeletedAt:              timePtr(row.DeletedAt),
		CreatedAt:              row.CreatedAt.Time.UTC(),
	}
}

func roomFromRow(row database.Room) model.Room {
	participants := make([]uuid.UUID, 0, len(row.Participants))
	for _, p := range row.Participants {
		if p.Valid {
			participants = append(participants, uuid.UUID(p.Bytes))
		}
	}
	return model.Room{
		ID:              uuid.UUID(row.ID.Bytes),
		Name:            row.Name,
		Description:     row.Description,
		Type:            model.RoomType(row.Type),
		CreatedByUserID: uuid.UUID(row.CreatedByUserID.Bytes),
		AdminUserID:     uuid.UUID(row.AdminUserID.Bytes),
		Participants:    participants,
		LastMessageID:   uuidPtr(row.LastMessageID),
		CreatedAt:       row.CreatedAt.Time.UTC(),
		UpdatedAt:       row.UpdatedAt.Time.UTC(),
	}
}
