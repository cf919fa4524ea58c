// Package wsclient is a reconnecting client for the chat WebSocket
// protocol. It greets the server on every connect, keeps the connection
// alive with PINGs, fans incoming envelopes out to per-type handlers, and
// reconnects with exponential backoff until it runs out of attempts.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ErrNotConnected is returned by Send while the connection is not open.
var ErrNotConnected = errors.New("wsclient: not connected")

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	// StateExhausted means reconnect attempts ran out. It is terminal.
	StateExhausted
	// StateStopped means Close was called. It is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateExhausted:
		return "exhausted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backoff is the delay before reconnect number attempts+1 with the default
// settings: 1s doubling per attempt, capped at 15s.
func Backoff(attempts int) time.Duration {
	return backoff(attempts, DefaultBaseDelay, DefaultMaxDelay)
}

func backoff(attempts int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		if d >= limit {
			break
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Client maintains one logical connection to url across reconnects.
type Client struct {
	url  string
	opts options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped for every connect attempt and on Close
	conn      *websocket.Conn
	attempts  int
	reconnect *time.Timer
	stopBeat  chan struct{}

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	listeners listeners
}

// New creates a client and starts connecting right away.
func New(url string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:    url,
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
	for _, l := range o.listeners {
		c.listeners.add(l.msgType, l.handler)
	}

	c.mu.Lock()
	c.startConnectLocked()
	c.mu.Unlock()
	return c
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// On registers h for envelopes of msgType. Several handlers may share a
// type; they run in registration order on the read goroutine.
func (c *Client) On(msgType string, h Handler) ListenerID {
	return c.listeners.add(msgType, h)
}

// Off removes a handler registered with On.
func (c *Client) Off(msgType string, id ListenerID) {
	c.listeners.remove(msgType, id)
}

// Send writes {"type": msgType, ...payload}. It returns ErrNotConnected
// unless the connection is open. A failed write closes the connection,
// which triggers a reconnect.
func (c *Client) Send(msgType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen && conn != nil
	c.mu.Unlock()
	if !open {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, frame)
	}
	if err == nil {
		return nil
	}

	c.opts.logger.Warn().Err(err).Str("type", msgType).Msg("Write failed; closing connection")
	_ = conn.Close()
	return fmt.Errorf("wsclient: send %s: %w", msgType, err)
}

// Close stops heartbeats and reconnects and closes the connection for good.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopped
	c.gen++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}

func (c *Client) startConnectLocked() {
	c.state = StateConnecting
	c.gen++
	go c.run(c.gen)
}

func (c *Client) run(gen uint64) {
	log := c.opts.logger
	log.Info().Str("url", c.url).Msg("Connecting")

	conn, resp, err := c.opts.dialer.DialContext(c.ctx, c.url, c.opts.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Warn().Err(err).Str("url", c.url).Msg("Connect failed")
		c.closed(gen)
		return
	}

	if !c.opened(gen, conn) {
		_ = conn.Close()
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Connection closed")
			c.closed(gen)
			return
		}
		c.dispatch(data)
	}
}

// opened moves Connecting to Open. It returns false when the attempt was
// superseded or the client was closed meanwhile.
func (c *Client) opened(gen uint64, conn *websocket.Conn) bool {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.state = StateOpen
	c.conn = conn
	c.attempts = 0
	stop := make(chan struct{})
	c.stopBeat = stop
	c.mu.Unlock()

	c.opts.logger.Info().Str("url", c.url).Msg("Connected")

	hello := protocol.Hello{Client: c.opts.helloClient, User: c.opts.helloUser}
	if err := c.Send(protocol.TypeHello, hello); err != nil {
		c.opts.logger.Warn().Err(err).Msg("Failed to send HELLO")
	}

	go c.heartbeat(stop)
	return true
}

// closed runs the close transition for attempt gen and schedules a
// reconnect.
func (c *Client) closed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.state == StateStopped {
		return
	}
	c.state = StateClosed
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.opts.maxReconnects {
		c.state = StateExhausted
		c.opts.logger.Error().Int("attempts", c.attempts).Msg("Too many reconnect attempts; giving up")
		return
	}

	delay := backoff(c.attempts, c.opts.baseDelay, c.opts.maxDelay)
	c.attempts++
	gen := c.gen
	c.opts.logger.Info().Dur("delay", delay).Int("attempt", c.attempts).Msg("Reconnecting")

	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.state != StateClosed {
			return
		}
		c.reconnect = nil
		c.startConnectLocked()
	})
}

func (c *Client) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			err := c.Send(protocol.TypePing, protocol.Ping{TS: now.UnixMilli()})
			if err != nil && !errors.Is(err, ErrNotConnected) {
				c.opts.logger.Warn().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
}

func (c *Client) dispatch(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.opts.logger.Warn().Bytes("raw", data).Msg("Received frame that is not a JSON envelope")
		return
	}
	for _, h := range c.listeners.snapshot(env.Type) {
		c.call(h, env)
	}
}

// call runs one handler; a panicking handler is logged and the rest still run.
func (c *Client) call(h Handler, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.logger.Error().
				Interface("panic", r).
				Str("type", env.Type).
				Msg("Recovered from panic in message handler")
		}
	}()
	h(env)
}
