package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/huddle/internal/auth"
	"github.com/johndosdos/huddle/internal/model"
	"github.com/johndosdos/huddle/internal/protocol"
)

type RoomService interface {
	CreatePrivate(ctx context.Context, a, b uuid.UUID) (model.Room, error)
	CreateGroup(ctx context.Context, name string, creatorID uuid.UUID, participantIDs []uuid.UUID, description string) (model.Room, error)
	GetByName(ctx context.Context, name string) (model.Room, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Room, error)
}

// ListRooms returns the caller's rooms, most recently active first.
func ListRooms(rooms RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetIdentity(r.Context())

		list, err := rooms.ListForUser(r.Context(), id.UserID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

type createPrivateRequest struct {
	ParticipantID uuid.UUID `json:"participantId"`
}

// CreatePrivateRoom opens (or returns) the private room between the caller
// and another user.
func CreatePrivateRoom(rooms RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetIdentity(r.Context())

		var req createPrivateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		room, err := rooms.CreatePrivate(r.Context(), id.UserID, req.ParticipantID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, room)
	}
}

type createGroupRequest struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Participants []uuid.UUID `json:"participants"`
}

// CreateGroupRoom creates a named group administered by the caller.
func CreateGroupRoom(rooms RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetIdentity(r.Context())

		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		room, err := rooms.CreateGroup(r.Context(), req.Name, id.UserID, req.Participants, req.Description)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, room)
	}
}

// GetRoomByName looks up a room the caller belongs to.
func GetRoomByName(rooms RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetIdentity(r.Context())

		room, err := rooms.GetByName(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !room.HasParticipant(id.UserID) {
			respondJSON(w, http.StatusForbidden, errorBody{Code: protocol.ErrCodeForbidden, Message: "not a participant of this room"})
			return
		}
		respondJSON(w, http.StatusOK, room)
	}
}
