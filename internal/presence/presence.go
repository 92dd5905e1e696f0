// Package presence tracks who is typing in which room. Typing state lives
// in memory only and expires on its own when a client stops refreshing it.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/huddle/internal/protocol"
)

// Broadcaster fans an event out to a room, skipping one user's connections.
type Broadcaster interface {
	BroadcastExcept(room uuid.UUID, payload []byte, userID uuid.UUID) int
}

type typist struct {
	username string
	expires  time.Time
}

// Coordinator relays typing indicators and remembers them for TTL.
type Coordinator struct {
	hub Broadcaster
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	typing map[uuid.UUID]map[uuid.UUID]typist
}

// New returns a Coordinator that forgets a typist after ttl without a refresh.
func New(hub Broadcaster, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Coordinator{
		hub:    hub,
		ttl:    ttl,
		now:    time.Now,
		typing: make(map[uuid.UUID]map[uuid.UUID]typist),
	}
}

// StartTyping marks userID as typing in room and tells everyone else there.
// Repeated calls refresh the expiry.
func (c *Coordinator) StartTyping(room, userID uuid.UUID, username string) {
	c.mu.Lock()
	users := c.typing[room]
	if users == nil {
		users = make(map[uuid.UUID]typist)
		c.typing[room] = users
	}
	users[userID] = typist{username: username, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	c.emit(protocol.TypeUserTyping, room, userID, username)
}

// StopTyping clears userID's indicator in room and tells everyone else.
func (c *Coordinator) StopTyping(room, userID uuid.UUID) {
	username := c.forget(room, userID)
	c.emit(protocol.TypeUserStopTyping, room, userID, username)
}

// ClearUser stops every indicator userID still has, e.g. after their last
// connection closed.
func (c *Coordinator) ClearUser(userID uuid.UUID) {
	c.mu.Lock()
	var rooms []uuid.UUID
	var username string
	for room, users := range c.typing {
		if t, ok := users[userID]; ok {
			rooms = append(rooms, room)
			username = t.username
			c.deleteLocked(room, userID)
		}
	}
	c.mu.Unlock()

	for _, room := range rooms {
		c.emit(protocol.TypeUserStopTyping, room, userID, username)
	}
}

// Typing returns the users currently typing in room.
func (c *Coordinator) Typing(room uuid.UUID) []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]uuid.UUID, 0, len(c.typing[room]))
	for userID := range c.typing[room] {
		out = append(out, userID)
	}
	return out
}

// Run expires stale indicators until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.expire()
		}
	}
}

func (c *Coordinator) expire() {
	type stale struct {
		room, user uuid.UUID
		username   string
	}

	now := c.now()
	var expired []stale

	c.mu.Lock()
	for room, users := range c.typing {
		for userID, t := range users {
			if now.After(t.expires) {
				expired = append(expired, stale{room, userID, t.username})
				c.deleteLocked(room, userID)
			}
		}
	}
	c.mu.Unlock()

	for _, s := range expired {
		c.emit(protocol.TypeUserStopTyping, s.room, s.user, s.username)
	}
}

func (c *Coordinator) forget(room, userID uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.typing[room][userID]
	c.deleteLocked(room, userID)
	return t.username
}

func (c *Coordinator) deleteLocked(room, userID uuid.UUID) {
	users := c.typing[room]
	delete(users, userID)
	if len(users) == 0 {
		delete(c.typing, room)
	}
}

func (c *Coordinator) emit(t protocol.EventType, room, userID uuid.UUID, username string) {
	frame, err := protocol.Encode(t, protocol.Typing{Room: room, UserID: userID, Username: username})
	if err != nil {
		slog.Error("failed to encode typing event",
			"error", err,
			"room_id", room)
		return
	}
	c.hub.BroadcastExcept(room, frame, userID)
}
