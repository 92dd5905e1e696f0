package handler

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/johndosdos/huddle/internal/auth"
	"github.com/johndosdos/huddle/internal/config"
	ws "github.com/johndosdos/huddle/internal/websocket"
)

// Registry accepts new websocket connections.
type Registry interface {
	Register(c *ws.Client) error
}

// WsOptions configures accepted websocket connections.
type WsOptions struct {
	Client         ws.ClientOptions
	OriginPatterns []string
	MessageRate    config.Rate
	TypingRate     config.Rate
}

// ServeWs handles the client's websocket connection upgrade.
func ServeWs(hub Registry, d *ws.Dispatcher, opts WsOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := auth.GetIdentity(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to upgrade connection",
				"error", err,
				"user_id", id.UserID)
			return
		}

		c := ws.NewClient(conn, id.UserID, id.Username, opts.Client)
		c.SetMessageLimiter(opts.MessageRate.Requests, opts.MessageRate.Window)
		c.SetTypingLimiter(opts.TypingRate.Requests, opts.TypingRate.Window)

		if err := hub.Register(c); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}
		slog.InfoContext(ctx, "websocket connected",
			"client_id", c.ID,
			"user_id", id.UserID,
			"username", id.Username)

		// Block on ReadMessage: the request context is canceled as soon as
		// ServeWs returns.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx, d)
	}
}
