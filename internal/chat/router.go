// Package chat routes inbound chat events: it validates them, persists
// messages in per-room order and fans the results out to room members.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/huddle/internal/metrics"
	"github.com/johndosdos/huddle/internal/model"
	"github.com/johndosdos/huddle/internal/protocol"
	"github.com/johndosdos/huddle/internal/store"
	ws "github.com/johndosdos/huddle/internal/websocket"
)

type MessageStore interface {
	Append(ctx context.Context, msg model.Message) (model.Message, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID, opts store.ListOptions) (store.Page, error)
	SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (model.Message, error)
}

type RoomStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Room, error)
	UpdateLastMessage(ctx context.Context, roomID, messageID uuid.UUID) error
	RepointLastMessage(ctx context.Context, roomID, deletedID uuid.UUID) error
}

// Hub is the connection registry the router fans out through.
type Hub interface {
	Subscribe(c *ws.Client, room uuid.UUID) error
	Unsubscribe(c *ws.Client, room uuid.UUID)
	UnsubscribeAll(c *ws.Client) []uuid.UUID
	IsSubscribed(c *ws.Client, room uuid.UUID) bool
	Subscribers(room uuid.UUID) int
	Online(userID uuid.UUID) bool
	Broadcast(room uuid.UUID, payload []byte) int
}

type Presence interface {
	StartTyping(room, userID uuid.UUID, username string)
	StopTyping(room, userID uuid.UUID)
	ClearUser(userID uuid.UUID)
}

type Options struct {
	// PointerTimeout bounds the best-effort room pointer updates.
	PointerTimeout time.Duration
}

// Router owns the lifecycle of every inbound chat event.
type Router struct {
	messages MessageStore
	rooms    RoomStore
	hub      Hub
	presence Presence

	locks          *roomLocks
	sanitizer      *bluemonday.Policy
	pointerTimeout time.Duration
}

func NewRouter(messages MessageStore, rooms RoomStore, hub Hub, presence Presence, opts Options) *Router {
	if opts.PointerTimeout <= 0 {
		opts.PointerTimeout = 2 * time.Second
	}
	return &Router{
		messages:       messages,
		rooms:          rooms,
		hub:            hub,
		presence:       presence,
		locks:          newRoomLocks(),
		sanitizer:      bluemonday.StrictPolicy(),
		pointerTimeout: opts.PointerTimeout,
	}
}

// Send validates req on behalf of senderID, persists it and broadcasts the
// stored message to the room. Nothing is broadcast unless the append
// succeeded. Messages to one room are handled one at a time.
func (r *Router) Send(ctx context.Context, senderID uuid.UUID, req protocol.SendMessage) (model.Message, error) {
	msg, err := r.validate(senderID, req)
	if err != nil {
		metrics.Messages.WithLabelValues("rejected").Inc()
		return model.Message{}, err
	}
	if _, err := r.memberRoom(ctx, req.Room, senderID); err != nil {
		metrics.Messages.WithLabelValues("rejected").Inc()
		switch {
		case errors.Is(err, store.ErrNotFound):
			return model.Message{}, invalid("unknown room %s", req.Room)
		case errors.Is(err, store.ErrForbidden):
			return model.Message{}, invalid("sender is not a participant of room %s", req.Room)
		}
		return model.Message{}, err
	}

	unlock := r.locks.lock(req.Room)
	defer unlock()

	stored, err := r.messages.Append(ctx, msg)
	if err != nil {
		metrics.Messages.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "failed to persist message",
			"error", err,
			"room_id", req.Room,
			"sender_id", senderID)
		return model.Message{}, fmt.Errorf("chat: send message: %w", err)
	}
	metrics.Messages.WithLabelValues("persisted").Inc()

	r.touchRoom(ctx, stored.RoomID, func(ctx context.Context) error {
		return r.rooms.UpdateLastMessage(ctx, stored.RoomID, stored.ID)
	})

	r.broadcast(ctx, stored.RoomID, protocol.TypeReceiveMessage, stored)
	return stored, nil
}

func (r *Router) validate(senderID uuid.UUID, req protocol.SendMessage) (model.Message, error) {
	if req.Room == uuid.Nil {
		return model.Message{}, invalid("room is required")
	}
	if req.SenderID != nil && *req.SenderID != senderID {
		return model.Message{}, invalid("sender does not match the authenticated user")
	}

	typ := req.MessageType
	if typ == "" {
		typ = model.MessageText
	}
	if !typ.Valid() {
		return model.Message{}, invalid("unknown message type %q", typ)
	}

	content := req.Content
	if typ.IsMedia() {
		if req.FileSize < 0 {
			return model.Message{}, invalid("file size cannot be negative")
		}
	} else {
		if req.FileName != "" || req.FileSize != 0 {
			return model.Message{}, invalid("file details are only allowed on media messages")
		}
		// Strip markup but keep the text itself; content goes out as JSON.
		content = strings.TrimSpace(html.UnescapeString(r.sanitizer.Sanitize(content)))
		if content == "" {
			return model.Message{}, invalid("message content is required")
		}
	}

	return model.Message{
		RoomID:                 req.Room,
		SenderID:               senderID,
		Content:                content,
		Type:                   typ,
		ReplyToMessageID:       req.ReplyToMessageID,
		ForwardedFromMessageID: req.ForwardedFromMessageID,
		FileName:               req.FileName,
		FileSize:               req.FileSize,
	}, nil
}

// memberRoom loads room and checks that userID belongs to it.
func (r *Router) memberRoom(ctx context.Context, roomID, userID uuid.UUID) (model.Room, error) {
	room, err := r.rooms.GetByID(ctx, roomID)
	if err != nil {
		return model.Room{}, fmt.Errorf("chat: load room: %w", err)
	}
	if !room.HasParticipant(userID) {
		return model.Room{}, fmt.Errorf("chat: not a participant of room %s: %w", roomID, store.ErrForbidden)
	}
	return room, nil
}

// Delete soft-deletes one of userID's messages and tells the room.
func (r *Router) Delete(ctx context.Context, userID, messageID uuid.UUID) (model.Message, error) {
	deleted, err := r.messages.SoftDelete(ctx, messageID, userID)
	if err != nil {
		return model.Message{}, fmt.Errorf("chat: delete message: %w", err)
	}

	unlock := r.locks.lock(deleted.RoomID)
	defer unlock()

	r.touchRoom(ctx, deleted.RoomID, func(ctx context.Context) error {
		return r.rooms.RepointLastMessage(ctx, deleted.RoomID, deleted.ID)
	})
	r.broadcast(ctx, deleted.RoomID, protocol.TypeMessageDeleted, deleted)
	return deleted, nil
}

// History returns a page of room history to one of its participants.
func (r *Router) History(ctx context.Context, userID, roomID uuid.UUID, opts store.ListOptions) (store.Page, error) {
	if _, err := r.memberRoom(ctx, roomID, userID); err != nil {
		return store.Page{}, err
	}
	page, err := r.messages.ListByRoom(ctx, roomID, opts)
	if err != nil {
		return store.Page{}, fmt.Errorf("chat: history: %w", err)
	}
	return page, nil
}

// Join subscribes c to a room its user belongs to.
func (r *Router) Join(ctx context.Context, c *ws.Client, roomID uuid.UUID) error {
	if _, err := r.memberRoom(ctx, roomID, c.UserID); err != nil {
		return err
	}
	if err := r.hub.Subscribe(c, roomID); err != nil {
		return fmt.Errorf("chat: join room: %w", err)
	}
	return nil
}

// Leave unsubscribes c from a room.
func (r *Router) Leave(c *ws.Client, roomID uuid.UUID) {
	r.hub.Unsubscribe(c, roomID)
}

// Typing relays a typing indicator from c to the rest of the room.
func (r *Router) Typing(c *ws.Client, roomID uuid.UUID, typing bool) error {
	if !r.hub.IsSubscribed(c, roomID) {
		return fmt.Errorf("chat: typing in a room that was not joined: %w", store.ErrForbidden)
	}
	if typing {
		r.presence.StartTyping(roomID, c.UserID, c.Username)
	} else {
		r.presence.StopTyping(roomID, c.UserID)
	}
	return nil
}

// Disconnect drops a closed connection from every room and clears its
// user's typing state once no connection of theirs is left.
func (r *Router) Disconnect(ctx context.Context, c *ws.Client) {
	left := r.hub.UnsubscribeAll(c)
	if !r.hub.Online(c.UserID) {
		r.presence.ClearUser(c.UserID)
	}
	slog.DebugContext(ctx, "client disconnected",
		"client_id", c.ID,
		"user_id", c.UserID,
		"rooms_left", len(left))
}

// touchRoom runs a best-effort room pointer update. Failure is logged and
// never reaches the caller.
func (r *Router) touchRoom(ctx context.Context, roomID uuid.UUID, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pointerTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		slog.WarnContext(ctx, "failed to update room pointer",
			"error", err,
			"room_id", roomID)
	}
}

func (r *Router) broadcast(ctx context.Context, roomID uuid.UUID, t protocol.EventType, msg model.Message) {
	frame, err := protocol.Encode(t, msg.Redacted())
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode broadcast",
			"error", err,
			"room_id", roomID,
			"event", t)
		return
	}
	n := r.hub.Broadcast(roomID, frame)
	slog.DebugContext(ctx, "broadcast",
		"room_id", roomID,
		"event", t,
		"delivered", n)
}
