package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/huddle/internal/protocol"
)

// ErrClientClosed is returned when a closed connection is used.
var ErrClientClosed = errors.New("websocket: client closed")

// ClientOptions tunes a single connection.
type ClientOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadLimit    int64
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	return o
}

// Client is one authenticated websocket connection. A user may own many.
type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Username string

	conn *websocket.Conn
	hub  *Hub
	opts ClientOptions

	// send is never closed; closed signals the writer instead, so a
	// concurrent broadcast can never panic on a closed channel.
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	closeStatus websocket.StatusCode
	closeReason string

	messageLim *rate.Limiter
	typingLim  *rate.Limiter
}

// NewClient wraps conn for userID. conn may be nil, in which case outbound
// frames are only queued; see Queue.
func NewClient(conn *websocket.Conn, userID uuid.UUID, username string, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	if conn != nil {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
		closed:   make(chan struct{}),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	c.messageLim = newLimiter(requests, window)
}

func (c *Client) SetTypingLimiter(requests int, window time.Duration) {
	c.typingLim = newLimiter(requests, window)
}

func newLimiter(requests int, window time.Duration) *rate.Limiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// AllowMessage reports whether the connection may send another message now.
func (c *Client) AllowMessage() bool {
	return c.messageLim == nil || c.messageLim.Allow()
}

// AllowTyping reports whether the connection may send another typing event now.
func (c *Client) AllowTyping() bool {
	return c.typingLim == nil || c.typingLim.Allow()
}

// Done is closed once the connection is closed or evicted.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Queue exposes the outbound frames waiting for the writer.
func (c *Client) Queue() <-chan []byte {
	return c.send
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// enqueue never blocks. It reports false when the frame was not queued
// because the client is closed or its buffer is full.
func (c *Client) enqueue(payload []byte) (ok, full bool) {
	if c.isClosed() {
		return false, false
	}
	select {
	case c.send <- payload:
		return true, false
	default:
		return false, true
	}
}

// Send queues payload for this connection only. A full buffer evicts it.
func (c *Client) Send(payload []byte) error {
	ok, full := c.enqueue(payload)
	if full {
		c.evict()
	}
	if !ok {
		return ErrClientClosed
	}
	return nil
}

// SendEvent encodes and queues a single event for this connection.
func (c *Client) SendEvent(t protocol.EventType, data any) error {
	frame, err := protocol.Encode(t, data)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// SendError reports a failed request back to this connection.
func (c *Client) SendError(event protocol.EventType, code, message, clientRef string) {
	err := c.SendEvent(protocol.TypeError, protocol.ErrorMessage{
		Code:      code,
		Message:   message,
		Event:     event,
		ClientRef: clientRef,
	})
	if err != nil {
		slog.Debug("dropped error event",
			"client_id", c.ID,
			"user_id", c.UserID,
			"error", err)
	}
}

// Close stops the connection with the given status. Only the first call
// has an effect; the writer performs the close handshake.
func (c *Client) Close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeStatus = status
		c.closeReason = reason
		close(c.closed)
	})
}

func (c *Client) evict() {
	if c.hub != nil {
		c.hub.evict(c)
		return
	}
	c.Close(websocket.StatusPolicyViolation, "send buffer full")
}

// WriteMessage drains the send buffer to the websocket and keeps the
// connection alive with pings until ctx ends or the client is closed.
func (c *Client) WriteMessage(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write to websocket",
					"error", err,
					"client_id", c.ID,
					"user_id", c.UserID)
				c.Close(websocket.StatusInternalError, "write failed")
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.InfoContext(ctx, "keepalive ping failed",
					"error", err,
					"client_id", c.ID,
					"user_id", c.UserID)
				c.Close(websocket.StatusGoingAway, "ping timeout")
				c.conn.CloseNow()
				return
			}

		case <-c.closed:
			c.conn.Close(c.closeStatus, c.closeReason)
			return

		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "server shutting down")
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// ReadMessage reads frames until the connection fails and hands each one
// to d. On return the client is closed and unregistered.
func (c *Client) ReadMessage(ctx context.Context, d *Dispatcher) {
	defer func() {
		c.Close(websocket.StatusNormalClosure, "")
		if c.hub != nil {
			c.hub.Unregister(c)
		}
		d.disconnect(ctx, c)
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "websocket read failed",
					"error", err,
					"client_id", c.ID,
					"user_id", c.UserID)
			}
			return
		}

		if msgType != websocket.MessageText {
			c.SendError("", protocol.ErrCodeInvalidMsg, "only text frames are supported", "")
			continue
		}

		d.Dispatch(ctx, c, p)
	}
}
