package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client is one WebSocket connection registered with a Hub.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         zerolog.Logger

	// msgLogger is logger plus the signed in user; read pump only.
	msgLogger zerolog.Logger
}

// NewClient wraps conn for use with hub. The read limit and rate limiter
// come from the hub's configuration.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	logger := hub.logger.With().Str(logging.FieldClientAddr, addr).Logger()
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		logger:         logger,
		msgLogger:      logger,
	}
}

// Addr is the remote address the connection was accepted from.
func (c *Client) Addr() string {
	return c.addr
}

// Reply queues v for this connection only.
func (c *Client) Reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.msgLogger.Error().Err(err).Msg("Failed to encode reply")
		return
	}
	if !c.hub.safeSend(c, payload) {
		c.msgLogger.Debug().Msg("Reply dropped; client is closed or its buffer is full")
	}
}

// Bind tags later log lines of this connection with the signed in user.
// It is only called from the read pump.
func (c *Client) Bind(s chat.Session) {
	c.msgLogger = c.logger.With().
		Str(logging.FieldUserID, s.ID).
		Str(logging.FieldUsername, s.Name).
		Logger()
}

// Logger returns the connection scoped logger.
func (c *Client) Logger() *zerolog.Logger {
	return &c.msgLogger
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs err at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("max_bytes", c.maxMessageSize).Msg("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.logger.Info().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info().Err(err).Msg("Client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("Unexpected WebSocket close")
	default:
		c.logger.Warn().Err(err).Msg("WebSocket read error")
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("refill_interval", c.rateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding message")
		return false
	}
	return true
}

// processMessage decodes one frame and hands it to the router. Frames that
// fail to decode are logged and dropped; the connection stays open.
func (c *Client) processMessage(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.msgLogger.Warn().Err(err).Bytes("frame", truncate(raw, 256)).Msg("Dropping invalid frame")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.msgLogger.Error().
				Interface("panic", r).
				Str(logging.FieldMsgType, msg.MessageType()).
				Msg("Recovered from panic while handling message")
		}
	}()

	c.hub.router.dispatch(c, msg)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("Error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("Error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame and returns false if the
// connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Error setting write deadline")
		return false
	}

	if !ok {
		c.writeCloseMessage()
		return false
	}

	if !c.writeTextMessage(message) {
		return false
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeCloseMessage() {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("Error writing close message")
	}
}

// writeTextMessage sends message as its own frame; every frame is exactly
// one JSON envelope.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("Error writing message")
		}
		return false
	}
	return true
}

// writeQueuedMessages drains what is already buffered without waiting.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			c.writeCloseMessage()
			return false
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Warn().Err(err).Msg("Error setting write deadline")
			return false
		}
		if !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

// handlePing sends a ping frame to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing ping message")
		return false
	}
	return true
}
