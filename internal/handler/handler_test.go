package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/huddle/internal/auth"
	"github.com/johndosdos/huddle/internal/chat"
	"github.com/johndosdos/huddle/internal/model"
	"github.com/johndosdos/huddle/internal/presence"
	"github.com/johndosdos/huddle/internal/protocol"
	ratelimiter "github.com/johndosdos/huddle/internal/rate_limiter"
	"github.com/johndosdos/huddle/internal/store"
	ws "github.com/johndosdos/huddle/internal/websocket"
)

const secret = "handler-test-secret"

// memStore is a minimal in-memory room registry and message log.
type memStore struct {
	mu       sync.Mutex
	rooms    map[uuid.UUID]model.Room
	messages []model.Message
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[uuid.UUID]model.Room)}
}

func (m *memStore) CreatePrivate(ctx context.Context, a, b uuid.UUID) (model.Room, error) {
	if a == b || b == uuid.Nil {
		return model.Room{}, fmt.Errorf("bad pair: %w", store.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.PairKey(a, b)
	for _, r := range m.rooms {
		if r.Name == "private:"+key {
			return r, nil
		}
	}
	r := model.Room{ID: uuid.New(), Name: "private:" + key, Type: model.RoomPrivate, Participants: []uuid.UUID{a, b}}
	m.rooms[r.ID] = r
	return r, nil
}

func (m *memStore) CreateGroup(ctx context.Context, name string, creatorID uuid.UUID, participantIDs []uuid.UUID, description string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rooms {
		if r.Name == name {
			return model.Room{}, fmt.Errorf("room %q: %w", name, store.ErrConflict)
		}
	}
	r := model.Room{
		ID:           uuid.New(),
		Name:         name,
		Description:  description,
		Type:         model.RoomGroup,
		AdminUserID:  creatorID,
		Participants: append([]uuid.UUID{creatorID}, participantIDs...),
	}
	m.rooms[r.ID] = r
	return r, nil
}

func (m *memStore) GetByName(ctx context.Context, name string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.Name == name {
			return r, nil
		}
	}
	return model.Room{}, store.ErrNotFound
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return model.Room{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Room
	for _, r := range m.rooms {
		if r.HasParticipant(userID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateLastMessage(ctx context.Context, roomID, messageID uuid.UUID) error {
	return nil
}

func (m *memStore) RepointLastMessage(ctx context.Context, roomID, deletedID uuid.UUID) error {
	return nil
}

func (m *memStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.Must(uuid.NewV7())
	msg.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) ListByRoom(ctx context.Context, roomID uuid.UUID, opts store.ListOptions) (store.Page, error) {
	if opts.Cursor == "bogus" {
		return store.Page{}, fmt.Errorf("store: list messages: %w", store.ErrInvalidCursor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var page store.Page
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			page.Messages = append(page.Messages, msg.Redacted())
		}
	}
	if len(page.Messages) > opts.Limit {
		page.Messages = page.Messages[len(page.Messages)-opts.Limit:]
		page.HasMore = true
	}
	return page, nil
}

func (m *memStore) SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if msg.ID != messageID {
			continue
		}
		if msg.SenderID != requesterID {
			return model.Message{}, store.ErrForbidden
		}
		m.messages[i].IsDeleted = true
		return m.messages[i].Redacted(), nil
	}
	return model.Message{}, store.ErrNotFound
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type env struct {
	srv    *httptest.Server
	store  *memStore
	hub    *ws.Hub
	router *chat.Router
}

func newEnv(t *testing.T, opts ...func(*Deps)) *env {
	t.Helper()
	st := newMemStore()
	hub := ws.NewHub()
	router := chat.NewRouter(st, st, hub, presence.New(hub, time.Minute), chat.Options{})

	deps := Deps{
		Hub:        hub,
		Dispatcher: router.Dispatcher(),
		Rooms:      st,
		Chat:       router,
		DB:         fakePinger{},
		JWTSecret:  secret,
		History:    HistoryLimits{Default: 50, Max: 200},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(Routes(deps))
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: st, hub: hub, router: router}
}

func token(t *testing.T, userID uuid.UUID, name string) string {
	t.Helper()
	tok, err := auth.MakeJWT(auth.Identity{UserID: userID, Username: name}, secret, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, tok, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(fakePinger{})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Healthz(fakePinger{err: errors.New("down")})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitIsPerUser(t *testing.T) {
	limiter := ratelimiter.New(2, time.Hour, ratelimiter.CleanupOpts{})
	t.Cleanup(limiter.Cancel)
	e := newEnv(t, func(d *Deps) { d.RateLimit = limiter.Middleware })

	alice := token(t, uuid.New(), "alice")
	bob := token(t, uuid.New(), "bob")

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/rooms", alice, "").StatusCode)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/rooms", alice, "").StatusCode)
	res := e.do(t, http.MethodGet, "/rooms", alice, "")
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))

	// Same address, different user.
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/rooms", bob, "").StatusCode)

	// Anonymous health checks use the IP bucket.
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", "").StatusCode)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", "").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, e.do(t, http.MethodGet, "/healthz", "", "").StatusCode)
}

func TestRoutesRequireAuth(t *testing.T) {
	e := newEnv(t)

	res := e.do(t, http.MethodGet, "/rooms", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = e.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRoomEndpoints(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	aliceTok := token(t, alice, "alice")

	res := e.do(t, http.MethodPost, "/rooms/private", aliceTok, fmt.Sprintf(`{"participantId":%q}`, bob))
	require.Equal(t, http.StatusOK, res.StatusCode)
	private := decodeBody[model.Room](t, res)

	res = e.do(t, http.MethodPost, "/rooms/private", token(t, bob, "bob"), fmt.Sprintf(`{"participantId":%q}`, alice))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, private.ID, decodeBody[model.Room](t, res).ID)

	res = e.do(t, http.MethodPost, "/rooms/private", aliceTok, fmt.Sprintf(`{"participantId":%q}`, alice))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = e.do(t, http.MethodPost, "/rooms/group", aliceTok, `{"name":"general","participants":[]}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = e.do(t, http.MethodPost, "/rooms/group", aliceTok, `{"name":"general"}`)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, protocol.ErrCodeConflict, decodeBody[errorBody](t, res).Code)

	res = e.do(t, http.MethodPost, "/rooms/group", aliceTok, `{not json`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = e.do(t, http.MethodGet, "/rooms", aliceTok, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeBody[[]model.Room](t, res), 2)

	res = e.do(t, http.MethodGet, "/rooms/by-name/general", aliceTok, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = e.do(t, http.MethodGet, "/rooms/by-name/general", token(t, bob, "bob"), "")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = e.do(t, http.MethodGet, "/rooms/by-name/nope", aliceTok, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestMessageEndpoints(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	aliceTok := token(t, alice, "alice")
	room, err := e.store.CreatePrivate(context.Background(), alice, bob)
	require.NoError(t, err)

	var sent []model.Message
	for i := 0; i < 3; i++ {
		msg, err := e.router.Send(context.Background(), alice, protocol.SendMessage{Room: room.ID, Content: "m"})
		require.NoError(t, err)
		sent = append(sent, msg)
	}

	path := "/rooms/" + room.ID.String() + "/messages"
	res := e.do(t, http.MethodGet, path+"?limit=2", aliceTok, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := decodeBody[store.Page](t, res)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Messages, 2)

	for _, bad := range []string{"?limit=zero", "?order=sideways", "?cursor=bogus"} {
		res = e.do(t, http.MethodGet, path+bad, aliceTok, "")
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, bad)
	}

	res = e.do(t, http.MethodGet, "/rooms/not-a-uuid/messages", aliceTok, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = e.do(t, http.MethodGet, path, token(t, uuid.New(), "mallory"), "")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = e.do(t, http.MethodDelete, "/messages/"+sent[0].ID.String(), token(t, bob, "bob"), "")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = e.do(t, http.MethodDelete, "/messages/"+sent[0].ID.String(), aliceTok, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	deleted := decodeBody[model.Message](t, res)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, model.Tombstone, deleted.Content)
}

func TestWebsocketChat(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room, err := e.store.CreatePrivate(context.Background(), alice, bob)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial := func(userID uuid.UUID, name string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token(t, userID, name)
		conn, _, err := websocket.Dial(ctx, url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.CloseNow() })
		return conn
	}
	send := func(conn *websocket.Conn, typ protocol.EventType, data any) {
		frame, err := protocol.Encode(typ, data)
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
	}
	read := func(conn *websocket.Conn) protocol.Envelope {
		_, p, err := conn.Read(ctx)
		require.NoError(t, err)
		env, err := protocol.ParseEnvelope(p)
		require.NoError(t, err)
		return env
	}

	aliceConn := dial(alice, "alice")
	bobConn := dial(bob, "bob")
	for _, c := range []*websocket.Conn{aliceConn, bobConn} {
		send(c, protocol.TypeJoinRoom, protocol.RoomRef{Room: room.ID})
		require.Equal(t, protocol.TypeJoined, read(c).Type)
	}

	send(aliceConn, protocol.TypeTyping, protocol.Typing{Room: room.ID})
	typing := read(bobConn)
	require.Equal(t, protocol.TypeUserTyping, typing.Type)

	send(aliceConn, protocol.TypeSendMessage, protocol.SendMessage{Room: room.ID, Content: "hi"})
	for _, c := range []*websocket.Conn{aliceConn, bobConn} {
		got := read(c)
		require.Equal(t, protocol.TypeReceiveMessage, got.Type)

		var msg model.Message
		require.NoError(t, json.Unmarshal(got.Data, &msg))
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, alice, msg.SenderID)
	}

	send(bobConn, protocol.TypeSendMessage, protocol.SendMessage{Room: room.ID, Content: ""})
	got := read(bobConn)
	require.Equal(t, protocol.TypeError, got.Type)

	require.NoError(t, aliceConn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return !e.hub.Online(alice) }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWsRejectsAnonymous(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, res, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
