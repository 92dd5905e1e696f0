package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Message struct {
	ID                     pgtype.UUID
	RoomID                 pgtype.UUID
	SenderID               pgtype.UUID
	Content                string
	Type                   string
	ReplyToMessageID       pgtype.UUID
	ForwardedFromMessageID pgtype.UUID
	FileName               string
	FileSize               int64
	IsDeleted              bool
	DeletedAt              pgtype.Timestamptz
	CreatedAt              pgtype.Timestamptz
}

type Room struct {
	ID              pgtype.UUID
	Name            string
	Description     string
	Type            string
	CreatedByUserID pgtype.UUID
	AdminUserID     pgtype.UUID
	LastMessageID   pgtype.UUID
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
	Participants    []pgtype.UUID
}
