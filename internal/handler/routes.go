// Package handler exposes the HTTP and websocket surface.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/huddle/internal/auth"
	"github.com/johndosdos/huddle/internal/metrics"
	ws "github.com/johndosdos/huddle/internal/websocket"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Hub        Registry
	Dispatcher *ws.Dispatcher
	Rooms      RoomService
	Chat       ChatService
	DB         Pinger

	JWTSecret string
	JWTIssuer string
	Ws        WsOptions
	History   HistoryLimits

	// RateLimit, when set, runs after authentication on every route but
	// /metrics, so callers are charged per user and otherwise per IP.
	RateLimit func(http.Handler) http.Handler
}

// Routes wires every endpoint onto a chi router.
func Routes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())

	limited := func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
	}

	r.Group(func(r chi.Router) {
		limited(r)
		r.Get("/healthz", Healthz(d.DB))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.JWTSecret, d.JWTIssuer))
		limited(r)

		r.Get("/ws", ServeWs(d.Hub, d.Dispatcher, d.Ws))

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", ListRooms(d.Rooms))
			r.Post("/private", CreatePrivateRoom(d.Rooms))
			r.Post("/group", CreateGroupRoom(d.Rooms))
			r.Get("/by-name/{name}", GetRoomByName(d.Rooms))
			r.Get("/{roomID}/messages", ServeMessages(d.Chat, d.History))
		})
		r.Delete("/messages/{messageID}", DeleteMessage(d.Chat))
	})

	return r
}

// Healthz reports 200 while the database answers pings.
func Healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
