package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/huddle/internal/model"
	"github.com/johndosdos/huddle/internal/store"
	"github.com/johndosdos/huddle/internal/testutil"
)

func newStores(t *testing.T) (*store.Messages, *store.Rooms) {
	t.Helper()
	pool := testutil.DbInit(t)
	return store.NewMessages(pool, store.DefaultRetryPolicy), store.NewRooms(pool, store.DefaultRetryPolicy)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreatePrivateIsIdempotent(t *testing.T) {
	_, rooms := newStores(t)
	ctx := testCtx(t)
	a, b := uuid.New(), uuid.New()

	first, err := rooms.CreatePrivate(ctx, a, b)
	require.NoError(t, err)
	second, err := rooms.CreatePrivate(ctx, b, a)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.RoomPrivate, first.Type)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, first.Participants)

	listed, err := rooms.ListForUser(ctx, a)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCreatePrivateConcurrentRace(t *testing.T) {
	_, rooms := newStores(t)
	ctx := testCtx(t)
	a, b := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			room, err := rooms.CreatePrivate(ctx, x, y)
			ids[i], errs[i] = room.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestCreatePrivateWithYourself(t *testing.T) {
	_, rooms := newStores(t)
	a := uuid.New()

	_, err := rooms.CreatePrivate(testCtx(t), a, a)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestGroupCannotTakePrivateRoomName(t *testing.T) {
	_, rooms := newStores(t)
	ctx := testCtx(t)
	a, b, squatter := uuid.New(), uuid.New(), uuid.New()

	for _, name := range []string{"private:" + model.PairKey(a, b), "Private:" + model.PairKey(a, b)} {
		_, err := rooms.CreateGroup(ctx, name, squatter, []uuid.UUID{a, b}, "")
		assert.ErrorIs(t, err, store.ErrValidation, name)
	}

	room, err := rooms.CreatePrivate(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, model.RoomPrivate, room.Type)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, room.Participants)
}

func TestCreateGroupConflict(t *testing.T) {
	_, rooms := newStores(t)
	ctx := testCtx(t)
	creator, member := uuid.New(), uuid.New()

	room, err := rooms.CreateGroup(ctx, "general", creator, []uuid.UUID{member, member}, "everyone")
	require.NoError(t, err)
	assert.Equal(t, creator, room.AdminUserID)
	assert.Equal(t, model.RoomGroup, room.Type)
	assert.ElementsMatch(t, []uuid.UUID{creator, member}, room.Participants)

	_, err = rooms.CreateGroup(ctx, "general", member, nil, "")
	assert.ErrorIs(t, err, store.ErrConflict)

	byName, err := rooms.GetByName(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, room.ID, byName.ID)

	_, err = rooms.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentAppendsKeepRoomOrder(t *testing.T) {
	messages, rooms := newStores(t)
	ctx := testCtx(t)

	senders := make([]uuid.UUID, 5)
	for i := range senders {
		senders[i] = uuid.New()
	}
	room, err := rooms.CreateGroup(ctx, "busy", senders[0], senders[1:], "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for _, sender := range senders {
		wg.Add(1)
		go func(sender uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := messages.Append(ctx, model.Message{
					RoomID:   room.ID,
					SenderID: sender,
					Content:  "hello",
				})
				if err != nil {
					errCh <- err
				}
			}
		}(sender)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	page, err := messages.ListByRoom(ctx, room.ID, store.ListOptions{Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Messages, 50)
	assert.False(t, page.HasMore)

	seen := make(map[uuid.UUID]bool)
	for i, m := range page.Messages {
		assert.False(t, seen[m.ID], "duplicate message %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.True(t, page.Messages[i-1].Before(m), "messages %d and %d out of order", i-1, i)
		}
	}
}

func TestListByRoomCursorPagination(t *testing.T) {
	messages, rooms := newStores(t)
	ctx := testCtx(t)
	a, b := uuid.New(), uuid.New()
	room, err := rooms.CreatePrivate(ctx, a, b)
	require.NoError(t, err)

	var appended []model.Message
	for i := 0; i < 7; i++ {
		m, err := messages.Append(ctx, model.Message{RoomID: room.ID, SenderID: a, Content: "m"})
		require.NoError(t, err)
		appended = append(appended, m)
	}

	first, err := messages.ListByRoom(ctx, room.ID, store.ListOptions{Limit: 3})
	require.NoError(t, err)
	require.True(t, first.HasMore)
	assert.Equal(t, []uuid.UUID{appended[4].ID, appended[5].ID, appended[6].ID}, ids(first.Messages))

	second, err := messages.ListByRoom(ctx, room.ID, store.ListOptions{Limit: 3, Cursor: first.NextCursor, Order: store.OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{appended[3].ID, appended[2].ID, appended[1].ID}, ids(second.Messages))

	last, err := messages.ListByRoom(ctx, room.ID, store.ListOptions{Limit: 3, Cursor: second.NextCursor})
	require.NoError(t, err)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)
	assert.Equal(t, []uuid.UUID{appended[0].ID}, ids(last.Messages))

	_, err = messages.ListByRoom(ctx, uuid.New(), store.ListOptions{Cursor: first.NextCursor})
	assert.ErrorIs(t, err, store.ErrInvalidCursor)
}

func TestSoftDelete(t *testing.T) {
	messages, rooms := newStores(t)
	ctx := testCtx(t)
	a, b := uuid.New(), uuid.New()
	room, err := rooms.CreatePrivate(ctx, a, b)
	require.NoError(t, err)

	msg, err := messages.Append(ctx, model.Message{RoomID: room.ID, SenderID: a, Content: "secret"})
	require.NoError(t, err)

	_, err = messages.SoftDelete(ctx, msg.ID, b)
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = messages.SoftDelete(ctx, uuid.New(), a)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := messages.SoftDelete(ctx, msg.ID, a)
	require.NoError(t, err)
	second, err := messages.SoftDelete(ctx, msg.ID, a)
	require.NoError(t, err)

	assert.True(t, first.IsDeleted)
	assert.Equal(t, model.Tombstone, first.Content)
	require.NotNil(t, first.DeletedAt)
	assert.Equal(t, first, second)

	page, err := messages.ListByRoom(ctx, room.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsDeleted)
	assert.Equal(t, model.Tombstone, page.Messages[0].Content)
}

func TestAppendWithExistingIDReturnsStoredRecord(t *testing.T) {
	messages, rooms := newStores(t)
	ctx := testCtx(t)
	a, b := uuid.New(), uuid.New()
	room, err := rooms.CreatePrivate(ctx, a, b)
	require.NoError(t, err)

	msg := model.Message{ID: uuid.New(), RoomID: room.ID, SenderID: a, Content: "once"}
	first, err := messages.Append(ctx, msg)
	require.NoError(t, err)
	second, err := messages.Append(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLastMessagePointer(t *testing.T) {
	messages, rooms := newStores(t)
	ctx := testCtx(t)
	a, b := uuid.New(), uuid.New()
	room, err := rooms.CreatePrivate(ctx, a, b)
	require.NoError(t, err)

	older, err := messages.Append(ctx, model.Message{RoomID: room.ID, SenderID: a, Content: "1"})
	require.NoError(t, err)
	newer, err := messages.Append(ctx, model.Message{RoomID: room.ID, SenderID: b, Content: "2"})
	require.NoError(t, err)

	require.NoError(t, rooms.UpdateLastMessage(ctx, room.ID, newer.ID))
	// A late update for the older message must not move the pointer back.
	require.NoError(t, rooms.UpdateLastMessage(ctx, room.ID, older.ID))

	got, err := rooms.GetByID(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, newer.ID, *got.LastMessageID)

	_, err = messages.SoftDelete(ctx, newer.ID, b)
	require.NoError(t, err)
	require.NoError(t, rooms.RepointLastMessage(ctx, room.ID, newer.ID))

	got, err = rooms.GetByID(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, older.ID, *got.LastMessageID)
}

func TestListForUserOrder(t *testing.T) {
	messages, rooms := newStores(t)
	ctx := testCtx(t)
	me := uuid.New()

	first, err := rooms.CreatePrivate(ctx, me, uuid.New())
	require.NoError(t, err)
	second, err := rooms.CreateGroup(ctx, "later", me, nil, "")
	require.NoError(t, err)

	// Activity in the first room moves it to the top.
	msg, err := messages.Append(ctx, model.Message{RoomID: first.ID, SenderID: me, Content: "bump"})
	require.NoError(t, err)
	require.NoError(t, rooms.UpdateLastMessage(ctx, first.ID, msg.ID))

	listed, err := rooms.ListForUser(ctx, me)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
	assert.Equal(t, second.ID, listed[1].ID)

	ok, err := rooms.IsParticipant(ctx, second.ID, me)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rooms.IsParticipant(ctx, second.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func ids(msgs []model.Message) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
