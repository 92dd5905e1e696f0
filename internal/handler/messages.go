package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/huddle/internal/auth"
	"github.com/johndosdos/huddle/internal/model"
	"github.com/johndosdos/huddle/internal/store"
)

type ChatService interface {
	History(ctx context.Context, userID, roomID uuid.UUID, opts store.ListOptions) (store.Page, error)
	Delete(ctx context.Context, userID, messageID uuid.UUID) (model.Message, error)
}

// HistoryLimits bounds the page size a client may ask for.
type HistoryLimits struct {
	Default int
	Max     int
}

// ServeMessages returns a page of room history:
// ?limit=N&cursor=<opaque>&order=asc|desc.
func ServeMessages(svc ChatService, limits HistoryLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetIdentity(r.Context())

		roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
		if err != nil {
			badRequest(w, "invalid room id")
			return
		}

		q := r.URL.Query()
		opts := store.ListOptions{
			Limit:  limits.Default,
			Cursor: q.Get("cursor"),
			Order:  store.OrderAsc,
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				badRequest(w, "limit must be a positive integer")
				return
			}
			opts.Limit = n
		}
		if limits.Max > 0 && opts.Limit > limits.Max {
			opts.Limit = limits.Max
		}
		switch store.Order(q.Get("order")) {
		case "", store.OrderAsc:
		case store.OrderDesc:
			opts.Order = store.OrderDesc
		default:
			badRequest(w, "order must be asc or desc")
			return
		}

		page, err := svc.History(r.Context(), id.UserID, roomID, opts)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if page.Messages == nil {
			page.Messages = []model.Message{}
		}
		respondJSON(w, http.StatusOK, page)
	}
}

// DeleteMessage soft-deletes one of the caller's messages.
func DeleteMessage(svc ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetIdentity(r.Context())

		messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
		if err != nil {
			badRequest(w, "invalid message id")
			return
		}

		msg, err := svc.Delete(r.Context(), id.UserID, messageID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, msg)
	}
}
