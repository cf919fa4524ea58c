package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// NewWebSocketHandler upgrades GET requests from allowed origins and
// registers the resulting connection with hub.
func NewWebSocketHandler(hub *Hub) http.HandlerFunc {
	policy := newOriginPolicy(hub.cfg.AllowedOrigins, hub.logger)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if err := hub.Register(client); err != nil {
			hub.logger.Warn().Err(err).Msg("Rejecting connection")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Roomchat server is running!")
}
