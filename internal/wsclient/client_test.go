package wsclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

const waitFor = 2 * time.Second

// fakeServer accepts WebSocket connections and records every frame.
type fakeServer struct {
	srv    *httptest.Server
	hits   atomic.Int32
	reject atomic.Bool
	frames chan map[string]any
	conns  chan *websocket.Conn

	mu   sync.Mutex
	live []*websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		frames: make(chan map[string]any, 64),
		conns:  make(chan *websocket.Conn, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if fs.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.live = append(fs.live, conn)
		fs.mu.Unlock()
		fs.conns <- conn

		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var msg map[string]any
				if json.Unmarshal(data, &msg) == nil {
					fs.frames <- msg
				}
			}
		}()
	}))

	t.Cleanup(func() {
		fs.mu.Lock()
		for _, c := range fs.live {
			_ = c.Close()
		}
		fs.mu.Unlock()
		fs.srv.Close()
	})
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(waitFor):
		require.FailNow(t, "no connection arrived")
		return nil
	}
}

func (fs *fakeServer) nextFrame(t *testing.T, msgType string) map[string]any {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case f := <-fs.frames:
			if f["type"] == msgType {
				return f
			}
		case <-deadline:
			require.FailNow(t, "no frame arrived", "type %s", msgType)
			return nil
		}
	}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	c := New(url, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBackoff(t *testing.T) {
	tests := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		2:  4 * time.Second,
		3:  8 * time.Second,
		4:  15 * time.Second,
		9:  15 * time.Second,
		60: 15 * time.Second,
	}
	for attempts, want := range tests {
		assert.Equal(t, want, Backoff(attempts), "attempts=%d", attempts)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestHelloOnOpen(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url(), WithHello("cli", "bob"))

	hello := fs.nextFrame(t, "HELLO")
	assert.Equal(t, map[string]any{"type": "HELLO", "client": "cli", "user": "bob"}, hello)
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
}

func TestDispatchAndOff(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url())
	server := fs.nextConn(t)
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)

	first := make(chan protocol.Envelope, 4)
	second := make(chan protocol.Envelope, 4)
	id := c.On("ROOM_CREATED", func(env protocol.Envelope) { first <- env })
	c.On("ROOM_CREATED", func(env protocol.Envelope) { second <- env })

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"ROOM_CREATED","room":{"id":"r1"}}`)))

	for _, ch := range []chan protocol.Envelope{first, second} {
		select {
		case env := <-ch:
			var body protocol.RoomCreated
			require.NoError(t, env.Decode(&body))
			assert.Equal(t, "r1", body.Room.ID)
		case <-time.After(waitFor):
			require.FailNow(t, "handler not called")
		}
	}

	c.Off("ROOM_CREATED", id)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"ROOM_CREATED","room":{"id":"r2"}}`)))

	select {
	case env := <-second:
		assert.Contains(t, string(env.Raw), "r2")
	case <-time.After(waitFor):
		require.FailNow(t, "remaining handler not called")
	}
	assert.Empty(t, first)
}

func TestWithListenerSeesFirstFrame(t *testing.T) {
	fs := newFakeServer(t)
	got := make(chan string, 1)
	newTestClient(t, fs.url(), WithListener("WELCOME", func(env protocol.Envelope) { got <- env.Type }))

	server := fs.nextConn(t)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"WELCOME","msg":"hi"}`)))

	select {
	case typ := <-got:
		assert.Equal(t, "WELCOME", typ)
	case <-time.After(waitFor):
		require.FailNow(t, "WELCOME not dispatched")
	}
}

func TestSendMergesPayloadIntoEnvelope(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url())
	fs.nextFrame(t, "HELLO")

	require.NoError(t, c.Send("GET_ROOM_DATA", map[string]string{"roomId": "r1"}))

	assert.Equal(t, map[string]any{"type": "GET_ROOM_DATA", "roomId": "r1"}, fs.nextFrame(t, "GET_ROOM_DATA"))
}

func TestSendWhileNotConnected(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject.Store(true)
	c := newTestClient(t, fs.url(), WithBackoff(time.Hour, time.Hour))

	require.Eventually(t, func() bool { return c.State() == StateClosed }, waitFor, 10*time.Millisecond)
	assert.ErrorIs(t, c.Send("PING", nil), ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestHeartbeatSendsPing(t *testing.T) {
	fs := newFakeServer(t)
	newTestClient(t, fs.url(), WithHeartbeat(30*time.Millisecond))

	ping := fs.nextFrame(t, "PING")
	ts, ok := ping["ts"].(float64)
	require.True(t, ok, "ping without ts: %v", ping)
	assert.InDelta(t, float64(time.Now().UnixMilli()), ts, float64(5*time.Second/time.Millisecond))
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url(), WithBackoff(10*time.Millisecond, 50*time.Millisecond))

	first := fs.nextConn(t)
	fs.nextFrame(t, "HELLO")
	require.NoError(t, first.Close())

	fs.nextConn(t)
	fs.nextFrame(t, "HELLO")
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	assert.Equal(t, int32(2), fs.hits.Load())
}

func TestGivesUpAfterMaxReconnects(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject.Store(true)
	c := newTestClient(t, fs.url(),
		WithMaxReconnects(3),
		WithBackoff(5*time.Millisecond, 20*time.Millisecond))

	require.Eventually(t, func() bool { return c.State() == StateExhausted }, waitFor, 10*time.Millisecond)
	assert.Equal(t, int32(4), fs.hits.Load())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(4), fs.hits.Load())
}

func TestGivesUpAfterDefaultReconnects(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject.Store(true)
	c := newTestClient(t, fs.url(), WithBackoff(2*time.Millisecond, 5*time.Millisecond))

	require.Eventually(t, func() bool { return c.State() == StateExhausted }, waitFor, 10*time.Millisecond)
	assert.Equal(t, int32(DefaultMaxReconnects+1), fs.hits.Load())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(DefaultMaxReconnects+1), fs.hits.Load())
	assert.Equal(t, StateExhausted, c.State())
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	fs := newFakeServer(t)
	got := make(chan protocol.Envelope, 2)
	c := newTestClient(t, fs.url(),
		WithListener("NOTICE", func(protocol.Envelope) { panic("boom") }),
		WithListener("NOTICE", func(env protocol.Envelope) { got <- env }))

	conn := fs.nextConn(t)
	fs.nextFrame(t, "HELLO")

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"NOTICE"}`)))
		select {
		case env := <-got:
			assert.Equal(t, "NOTICE", env.Type)
		case <-time.After(waitFor):
			t.Fatal("second handler did not run")
		}
	}
	assert.True(t, c.IsConnected())
}

func TestCloseStopsReconnecting(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject.Store(true)
	c := newTestClient(t, fs.url(), WithBackoff(50*time.Millisecond, 50*time.Millisecond))

	require.Eventually(t, func() bool { return c.State() == StateClosed }, waitFor, 5*time.Millisecond)
	require.NoError(t, c.Close())
	hits := fs.hits.Load()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, hits, fs.hits.Load())
	assert.Equal(t, StateStopped, c.State())
	assert.ErrorIs(t, c.Send("PING", nil), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestCloseWhileOpen(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url(), WithBackoff(10*time.Millisecond, 10*time.Millisecond))
	fs.nextFrame(t, "HELLO")
	require.True(t, c.IsConnected())

	require.NoError(t, c.Close())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fs.hits.Load())
	assert.Equal(t, StateStopped, c.State())
}
