package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ErrHubClosed is returned once Shutdown has been called.
var ErrHubClosed = errors.New("server: hub is shut down")

// Hub tracks open connections, fans out broadcasts, and owns the router
// that applies inbound messages to the chat stores.
type Hub struct {
	cfg        Config
	logger     zerolog.Logger
	router     *router
	clients    map[*Client]bool
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub serving stores. Run must be started before clients
// are registered.
func NewHub(cfg Config, stores *chat.Stores, logger zerolog.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.router = newRouter(stores, h, logger)
	return h
}

// ClientCount reports how many connections are registered.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new connection to the Run loop, which greets it and
// starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast encodes v and queues it for every open connection, the sender
// included.
func (h *Hub) Broadcast(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- BroadcastMessage{Payload: payload}:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("Recovered from panic in safeSend")
		}
	}()

	// The read lock keeps the channel from being closed mid-send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	welcome, err := json.Marshal(protocol.NewWelcome())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode welcome message")
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn().Msg("Received nil client registration; skipping")
				continue
			}
			h.addClient(client, welcome)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) addClient(client *Client, welcome []byte) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info().
		Str(logging.FieldClientAddr, client.addr).
		Int(logging.FieldClients, clientCount).
		Msg("Client registered")

	if welcome != nil {
		h.safeSend(client, welcome)
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	h.logger.Info().
		Str(logging.FieldClientAddr, client.addr).
		Int(logging.FieldClients, clientCount).
		Msg("Client unregistered")
}

// handleBroadcast sends msg to every registered client and drops the ones
// whose buffers are full.
func (h *Hub) handleBroadcast(msg BroadcastMessage) {
	clients := h.getClientSnapshot()
	h.logger.Debug().Int(logging.FieldClients, len(clients)).Msg("Broadcasting message")

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, msg.Payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if !client.closed {
			clients = append(clients, client)
		}
	}
	return clients
}

func (h *Hub) removeFailedClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clients {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.logger.Warn().Str(logging.FieldClientAddr, client.addr).Msg("Client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("Shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn().Err(err).Str(logging.FieldClientAddr, client.addr).Msg("Error closing client connection")
		}
	}

	h.logger.Info().Int(logging.FieldClients, len(clients)).Msg("Closed client connections")
}

// Shutdown stops the Run loop, closes every connection, and waits for the
// pump goroutines up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("Initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("Hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
