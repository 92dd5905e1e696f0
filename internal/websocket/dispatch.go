package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/johndosdos/huddle/internal/protocol"
)

// HandlerFunc handles one inbound event for a connection.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage)

// Dispatcher maps inbound event types to handlers.
type Dispatcher struct {
	handlers map[protocol.EventType]HandlerFunc

	// OnDisconnect runs once after a connection's read loop ends.
	OnDisconnect func(ctx context.Context, c *Client)
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[protocol.EventType]HandlerFunc)}
}

// Handle registers fn for event type t, replacing any previous handler.
func (d *Dispatcher) Handle(t protocol.EventType, fn HandlerFunc) {
	d.handlers[t] = fn
}

// Dispatch decodes frame and runs the matching handler synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, frame []byte) {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		slog.DebugContext(ctx, "malformed frame",
			"error", err,
			"user_id", c.UserID)
		c.SendError("", protocol.ErrCodeInvalidMsg, "malformed JSON frame", "")
		return
	}

	fn, ok := d.handlers[env.Type]
	if !ok {
		c.SendError(env.Type, protocol.ErrCodeInvalidMsg, "unknown event type", "")
		return
	}
	fn(ctx, c, env.Data)
}

func (d *Dispatcher) disconnect(ctx context.Context, c *Client) {
	if d != nil && d.OnDisconnect != nil {
		// The request context is usually done by now.
		d.OnDisconnect(context.WithoutCancel(ctx), c)
	}
}
