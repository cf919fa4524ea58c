package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/store"
)

type fakeConn struct {
	mu      sync.Mutex
	replies []any
	session *chat.Session
	logger  zerolog.Logger
}

func newFakeConn() *fakeConn {
	return &fakeConn{logger: logging.Nop()}
}

func (f *fakeConn) Addr() string { return "127.0.0.1:1" }

func (f *fakeConn) Reply(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, v)
}

func (f *fakeConn) Bind(s chat.Session) { f.session = &s }

func (f *fakeConn) Logger() *zerolog.Logger { return &f.logger }

func (f *fakeConn) lastReply(t *testing.T) any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.replies, "expected a reply")
	return f.replies[len(f.replies)-1]
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []any
}

func (b *fakeBroadcaster) Broadcast(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, v)
	return nil
}

func (b *fakeBroadcaster) all() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.sent...)
}

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("hash unavailable") }
func (failingHasher) Compare(string, string) bool { return false }

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestRouter(t *testing.T, hasher chat.PasswordHasher) (*router, *fakeBroadcaster, *chat.Stores) {
	t.Helper()

	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	stores, err := chat.OpenStores(context.Background(), backend, chat.StoresConfig{
		Hasher:  hasher,
		Options: []store.Option{store.WithFlushDelay(time.Hour), store.WithLogger(logging.Nop())},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close(context.Background()) })

	out := &fakeBroadcaster{}
	rt := &router{
		stores: stores,
		out:    out,
		logger: logging.Nop(),
		ctx:    context.Background(),
		now:    func() time.Time { return fixedNow },
	}
	return rt, out, stores
}

func bcryptForTests() chat.PasswordHasher {
	return chat.BcryptHasher{Cost: bcrypt.MinCost}
}

func TestRouterPingRepliesWithPong(t *testing.T) {
	rt, out, _ := newTestRouter(t, bcryptForTests())
	c := newFakeConn()

	rt.dispatch(c, protocol.Ping{TS: 1})

	assert.Equal(t, protocol.Pong{Type: protocol.TypePong, TS: fixedNow.UnixMilli()}, c.lastReply(t))
	assert.Empty(t, out.all())
}

func TestRouterHelloAndUnknownProduceNothing(t *testing.T) {
	rt, out, _ := newTestRouter(t, bcryptForTests())
	c := newFakeConn()

	rt.dispatch(c, protocol.Hello{Client: "web", User: "guest"})
	rt.dispatch(c, protocol.Unknown{Type: "TYPING"})

	assert.Empty(t, c.replies)
	assert.Empty(t, out.all())
}

func TestRouterNewMessageAppendsAndBroadcasts(t *testing.T) {
	rt, out, stores := newTestRouter(t, bcryptForTests())

	rt.dispatch(newFakeConn(), protocol.NewMessage{
		RoomID: "r1", SenderID: "u1", UserName: "Alice", Content: "hi",
	})

	recent := stores.Messages.Recent("r1")
	require.Len(t, recent, 1)
	assert.Equal(t, "hi", recent[0].Content)
	assert.Equal(t, chat.MessageTypeUser, recent[0].Type)
	assert.Equal(t, []any{protocol.NewMessageEvent(recent[0])}, out.all())
}

func TestRouterJoinRoomAnnounces(t *testing.T) {
	rt, out, stores := newTestRouter(t, bcryptForTests())

	rt.dispatch(newFakeConn(), protocol.JoinRoom{RoomID: "r1", UserName: "Bob"})

	recent := stores.Messages.Recent("r1")
	require.Len(t, recent, 1)
	assert.Equal(t, "Bob has joined the room!", recent[0].Content)
	assert.Equal(t, "system", recent[0].SenderID)
	assert.Equal(t, "System", recent[0].UserName)
	assert.Equal(t, chat.MessageTypeSystem, recent[0].Type)
	assert.Len(t, out.all(), 1)
}

func TestRouterLogin(t *testing.T) {
	rt, _, stores := newTestRouter(t, bcryptForTests())

	first := newFakeConn()
	rt.dispatch(first, protocol.Login{Name: "alice", Password: "pw"})
	created, ok := first.lastReply(t).(protocol.AuthResult)
	require.True(t, ok, "expected AUTH_RESULT, got %#v", first.lastReply(t))
	assert.Equal(t, "alice", created.UserData.Name)
	assert.NotEmpty(t, created.UserData.Token)
	require.NotNil(t, first.session)
	assert.Equal(t, created.UserData, *first.session)

	again := newFakeConn()
	rt.dispatch(again, protocol.Login{Name: "alice", Password: "pw"})
	second, ok := again.lastReply(t).(protocol.AuthResult)
	require.True(t, ok)
	assert.Equal(t, created.UserData.ID, second.UserData.ID)
	assert.NotEqual(t, created.UserData.Token, second.UserData.Token)

	wrong := newFakeConn()
	rt.dispatch(wrong, protocol.Login{Name: "alice", Password: "nope"})
	assert.Equal(t, protocol.NewError(protocol.ErrTextInvalidCredentials), wrong.lastReply(t))
	assert.Nil(t, wrong.session)

	assert.Len(t, stores.Users.List(), 1)
}

func TestRouterConcurrentFirstLoginsShareOneAccount(t *testing.T) {
	rt, _, stores := newTestRouter(t, bcryptForTests())

	const n = 8
	conns := make([]*fakeConn, n)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = newFakeConn()
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			rt.dispatch(c, protocol.Login{Name: "carol", Password: "pw"})
		}(conns[i])
	}
	wg.Wait()

	users := stores.Users.List()
	require.Len(t, users, 1)
	for _, c := range conns {
		res, ok := c.lastReply(t).(protocol.AuthResult)
		require.True(t, ok, "expected AUTH_RESULT, got %#v", c.lastReply(t))
		assert.Equal(t, users[0].ID, res.UserData.ID)
	}
}

func TestRouterLoginCreateFailure(t *testing.T) {
	rt, _, _ := newTestRouter(t, failingHasher{})
	c := newFakeConn()

	rt.dispatch(c, protocol.Login{Name: "dave", Password: "pw"})

	assert.Equal(t, protocol.NewError(protocol.ErrTextCreateUserFailed), c.lastReply(t))
}

func TestRouterRooms(t *testing.T) {
	rt, out, stores := newTestRouter(t, bcryptForTests())
	c := newFakeConn()

	rt.dispatch(c, protocol.CreateRoom{Name: "general", Description: "talk"})
	rooms := stores.Rooms.List()
	require.Len(t, rooms, 1)
	assert.Equal(t, []any{protocol.NewRoomCreated(rooms[0])}, out.all())

	rt.dispatch(c, protocol.GetRooms{})
	assert.Equal(t, protocol.NewRoomsList(rooms), c.lastReply(t))

	rt.dispatch(c, protocol.GetRoomData{RoomID: rooms[0].ID})
	data, ok := c.lastReply(t).(protocol.RoomData)
	require.True(t, ok)
	assert.Equal(t, "general", data.Name)
	assert.Equal(t, "talk", data.Description)
	assert.Empty(t, data.Messages)

	rt.dispatch(c, protocol.DeleteRooms{RoomID: rooms[0].ID})
	assert.Empty(t, stores.Rooms.List())
	assert.Equal(t, protocol.NewRoomDeleted(rooms[0].ID), out.all()[1])

	rt.dispatch(c, protocol.DeleteRooms{RoomID: rooms[0].ID})
	assert.Equal(t, protocol.NewError(protocol.ErrTextRoomNotFound), c.lastReply(t))
	assert.Len(t, out.all(), 2)
}

func TestRouterCreateRoomRejectsEmptyName(t *testing.T) {
	rt, out, _ := newTestRouter(t, bcryptForTests())
	c := newFakeConn()

	rt.dispatch(c, protocol.CreateRoom{Name: ""})

	assert.Equal(t, protocol.NewError(protocol.ErrTextCreateRoomFailed), c.lastReply(t))
	assert.Empty(t, out.all())
}

func TestRouterRoomDataForMissingRoom(t *testing.T) {
	rt, _, _ := newTestRouter(t, bcryptForTests())
	c := newFakeConn()

	rt.dispatch(c, protocol.GetRoomData{RoomID: "ghost"})

	data, ok := c.lastReply(t).(protocol.RoomData)
	require.True(t, ok)
	assert.Equal(t, "ghost", data.RoomID)
	assert.Equal(t, "Unknown Room", data.Name)
	assert.Equal(t, "", data.Description)
	assert.NotNil(t, data.Messages)
}

func TestRouterGetUsersIsSanitized(t *testing.T) {
	rt, _, _ := newTestRouter(t, bcryptForTests())
	c := newFakeConn()

	rt.dispatch(c, protocol.Login{Name: "erin", Password: "pw"})
	rt.dispatch(c, protocol.GetUsers{})

	list, ok := c.lastReply(t).(protocol.UsersList)
	require.True(t, ok)
	require.Len(t, list.Users, 1)
	assert.Equal(t, "erin", list.Users[0].Name)
}
