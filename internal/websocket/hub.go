package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/johndosdos/huddle/internal/metrics"
)

// ErrHubClosed is returned by Register after Shutdown.
var ErrHubClosed = errors.New("websocket: hub shut down")

// Hub is the process-local registry of live connections and the rooms each
// one is subscribed to. It is empty on start and never persisted.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[uuid.UUID]map[*Client]struct{}
	subs     map[*Client]map[uuid.UUID]struct{}
	users    map[uuid.UUID]int
	shutdown bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uuid.UUID]map[*Client]struct{}),
		subs:  make(map[*Client]map[uuid.UUID]struct{}),
		users: make(map[uuid.UUID]int),
	}
}

// Register adds a connection with no subscriptions.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return ErrHubClosed
	}
	if _, ok := h.subs[c]; ok {
		return nil
	}
	c.hub = h
	h.subs[c] = make(map[uuid.UUID]struct{})
	h.users[c.UserID]++
	metrics.Connections.Inc()
	return nil
}

// Unregister removes c and all its subscriptions. It reports whether c was
// the user's last live connection.
func (h *Hub) Unregister(c *Client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[c]; !ok {
		return false
	}
	h.unsubscribeAllLocked(c)
	delete(h.subs, c)
	metrics.Connections.Dec()

	h.users[c.UserID]--
	if h.users[c.UserID] <= 0 {
		delete(h.users, c.UserID)
		return true
	}
	return false
}

// Subscribe adds c to room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(c *Client, room uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.subs[c]
	if !ok || c.isClosed() {
		return ErrClientClosed
	}
	if _, ok := rooms[room]; ok {
		return nil
	}

	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	rooms[room] = struct{}{}
	metrics.Subscriptions.Inc()
	return nil
}

// Unsubscribe removes c from room.
func (h *Hub) Unsubscribe(c *Client, room uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, room)
}

// UnsubscribeAll removes c from every room and returns the rooms it left.
func (h *Hub) UnsubscribeAll(c *Client) []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unsubscribeAllLocked(c)
}

func (h *Hub) unsubscribeAllLocked(c *Client) []uuid.UUID {
	var left []uuid.UUID
	for room := range h.subs[c] {
		left = append(left, room)
	}
	for _, room := range left {
		h.unsubscribeLocked(c, room)
	}
	return left
}

func (h *Hub) unsubscribeLocked(c *Client, room uuid.UUID) {
	rooms, ok := h.subs[c]
	if !ok {
		return
	}
	if _, ok := rooms[room]; !ok {
		return
	}
	delete(rooms, room)

	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	metrics.Subscriptions.Dec()
}

// IsSubscribed reports whether c is subscribed to room.
func (h *Hub) IsSubscribed(c *Client, room uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[c][room]
	return ok
}

// Subscribers returns the number of connections subscribed to room.
func (h *Hub) Subscribers(room uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID] > 0
}

// Broadcast queues payload to every connection subscribed to room and
// returns how many accepted it.
func (h *Hub) Broadcast(room uuid.UUID, payload []byte) int {
	return h.deliver(room, payload, uuid.Nil)
}

// BroadcastExcept is Broadcast skipping every connection owned by userID.
func (h *Hub) BroadcastExcept(room uuid.UUID, payload []byte, userID uuid.UUID) int {
	return h.deliver(room, payload, userID)
}

func (h *Hub) deliver(room uuid.UUID, payload []byte, skip uuid.UUID) int {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if skip != uuid.Nil && c.UserID == skip {
			continue
		}
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	// Delivery happens outside the lock; a recipient that disconnected in
	// between is simply skipped.
	delivered := 0
	for _, c := range recipients {
		ok, full := c.enqueue(payload)
		if full {
			h.evict(c)
		}
		if ok {
			delivered++
		}
	}
	metrics.Deliveries.Add(float64(delivered))
	return delivered
}

// evict closes a connection whose buffer is full and drops its
// subscriptions so later broadcasts skip it.
func (h *Hub) evict(c *Client) {
	if c.isClosed() {
		return
	}
	slog.Warn("evicting slow consumer",
		"client_id", c.ID,
		"user_id", c.UserID)
	c.Close(websocket.StatusPolicyViolation, "send buffer full")
	metrics.Evictions.Inc()

	h.mu.Lock()
	h.unsubscribeAllLocked(c)
	h.mu.Unlock()
}

// Shutdown closes every connection, drops all subscriptions and refuses
// new registrations.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.shutdown = true
	clients := make([]*Client, 0, len(h.subs))
	for c := range h.subs {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	slog.InfoContext(ctx, "closing websocket connections", "count", len(clients))
	for _, c := range clients {
		c.Close(websocket.StatusGoingAway, "server shutting down")
		h.Unregister(c)
	}
}
