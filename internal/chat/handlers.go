package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/johndosdos/huddle/internal/protocol"
	ws "github.com/johndosdos/huddle/internal/websocket"
)

// Dispatcher returns the websocket handler table backed by r.
func (r *Router) Dispatcher() *ws.Dispatcher {
	d := ws.NewDispatcher()
	d.Handle(protocol.TypeJoinRoom, r.HandleJoin)
	d.Handle(protocol.TypeLeaveRoom, r.HandleLeave)
	d.Handle(protocol.TypeSendMessage, r.HandleInbound)
	d.Handle(protocol.TypeTyping, r.HandleTyping)
	d.Handle(protocol.TypeStopTyping, r.HandleStopTyping)
	d.Handle(protocol.TypeDeleteMessage, r.HandleDelete)
	d.OnDisconnect = r.HandleDisconnect
	return d
}

func decode(c *ws.Client, event protocol.EventType, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.SendError(event, protocol.ErrCodeInvalidMsg, "malformed event data", "")
		return false
	}
	return true
}

func reply(ctx context.Context, c *ws.Client, event protocol.EventType, err error, clientRef string) {
	code := ErrorCode(err)
	if code == protocol.ErrCodeInternal {
		slog.ErrorContext(ctx, "chat event failed",
			"error", err,
			"event", event,
			"user_id", c.UserID)
	}
	c.SendError(event, code, PublicMessage(err), clientRef)
}

// HandleInbound handles a send-message event.
func (r *Router) HandleInbound(ctx context.Context, c *ws.Client, data json.RawMessage) {
	var req protocol.SendMessage
	if !decode(c, protocol.TypeSendMessage, data, &req) {
		return
	}
	if !c.AllowMessage() {
		c.SendError(protocol.TypeSendMessage, protocol.ErrCodeRateLimited, "too many messages, slow down", req.ClientRef)
		return
	}

	if _, err := r.Send(ctx, c.UserID, req); err != nil {
		reply(ctx, c, protocol.TypeSendMessage, err, req.ClientRef)
	}
}

func (r *Router) HandleJoin(ctx context.Context, c *ws.Client, data json.RawMessage) {
	var ref protocol.RoomRef
	if !decode(c, protocol.TypeJoinRoom, data, &ref) {
		return
	}
	if err := r.Join(ctx, c, ref.Room); err != nil {
		reply(ctx, c, protocol.TypeJoinRoom, err, "")
		return
	}
	_ = c.SendEvent(protocol.TypeJoined, protocol.Joined{
		Room:        ref.Room,
		Connections: r.hub.Subscribers(ref.Room),
	})
}

func (r *Router) HandleLeave(ctx context.Context, c *ws.Client, data json.RawMessage) {
	var ref protocol.RoomRef
	if !decode(c, protocol.TypeLeaveRoom, data, &ref) {
		return
	}
	r.Leave(c, ref.Room)
	_ = c.SendEvent(protocol.TypeLeft, ref)
}

// HandleTyping handles a typing event. Rate limited events are dropped.
func (r *Router) HandleTyping(ctx context.Context, c *ws.Client, data json.RawMessage) {
	r.handleTyping(ctx, c, protocol.TypeTyping, data, true)
}

func (r *Router) HandleStopTyping(ctx context.Context, c *ws.Client, data json.RawMessage) {
	r.handleTyping(ctx, c, protocol.TypeStopTyping, data, false)
}

func (r *Router) handleTyping(ctx context.Context, c *ws.Client, event protocol.EventType, data json.RawMessage, typing bool) {
	var req protocol.Typing
	if !decode(c, event, data, &req) {
		return
	}
	if typing && !c.AllowTyping() {
		return
	}
	if err := r.Typing(c, req.Room, typing); err != nil {
		reply(ctx, c, event, err, "")
	}
}

func (r *Router) HandleDelete(ctx context.Context, c *ws.Client, data json.RawMessage) {
	var req protocol.DeleteMessage
	if !decode(c, protocol.TypeDeleteMessage, data, &req) {
		return
	}
	if _, err := r.Delete(ctx, c.UserID, req.MessageID); err != nil {
		reply(ctx, c, protocol.TypeDeleteMessage, err, "")
	}
}

// HandleDisconnect runs once a connection's read loop has ended.
func (r *Router) HandleDisconnect(ctx context.Context, c *ws.Client) {
	r.Disconnect(ctx, c)
}
