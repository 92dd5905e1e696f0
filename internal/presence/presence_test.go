package presence

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/huddle/internal/protocol"
)

type sent struct {
	room   uuid.UUID
	except uuid.UUID
	typ    protocol.EventType
	data   protocol.Typing
}

type fakeHub struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeHub) BroadcastExcept(room uuid.UUID, payload []byte, userID uuid.UUID) int {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		panic(err)
	}
	var data protocol.Typing
	if err := json.Unmarshal(env.Data, &data); err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: room, except: userID, typ: env.Type, data: data})
	return 1
}

func (f *fakeHub) events() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func TestStartAndStopTyping(t *testing.T) {
	hub := &fakeHub{}
	c := New(hub, time.Minute)
	room, user := uuid.New(), uuid.New()

	c.StartTyping(room, user, "alice")
	assert.Equal(t, []uuid.UUID{user}, c.Typing(room))

	c.StopTyping(room, user)
	assert.Empty(t, c.Typing(room))

	events := hub.events()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.TypeUserTyping, events[0].typ)
	assert.Equal(t, protocol.TypeUserStopTyping, events[1].typ)
	for _, e := range events {
		assert.Equal(t, room, e.room)
		assert.Equal(t, user, e.except, "typist must not receive their own indicator")
		assert.Equal(t, "alice", e.data.Username)
		assert.Equal(t, user, e.data.UserID)
	}
}

func TestTypingExpires(t *testing.T) {
	hub := &fakeHub{}
	c := New(hub, 5*time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	room := uuid.New()
	quiet, busy := uuid.New(), uuid.New()
	c.StartTyping(room, quiet, "quiet")
	c.StartTyping(room, busy, "busy")

	now = now.Add(4 * time.Second)
	c.StartTyping(room, busy, "busy")

	now = now.Add(2 * time.Second)
	c.expire()

	assert.Equal(t, []uuid.UUID{busy}, c.Typing(room))
	events := hub.events()
	last := events[len(events)-1]
	assert.Equal(t, protocol.TypeUserStopTyping, last.typ)
	assert.Equal(t, quiet, last.data.UserID)
}

func TestClearUser(t *testing.T) {
	hub := &fakeHub{}
	c := New(hub, time.Minute)
	user, other := uuid.New(), uuid.New()
	r1, r2 := uuid.New(), uuid.New()

	c.StartTyping(r1, user, "alice")
	c.StartTyping(r2, user, "alice")
	c.StartTyping(r2, other, "bob")

	c.ClearUser(user)

	assert.Empty(t, c.Typing(r1))
	assert.Equal(t, []uuid.UUID{other}, c.Typing(r2))

	var stopped []uuid.UUID
	for _, e := range hub.events()[3:] {
		assert.Equal(t, protocol.TypeUserStopTyping, e.typ)
		stopped = append(stopped, e.room)
	}
	assert.ElementsMatch(t, []uuid.UUID{r1, r2}, stopped)
}
