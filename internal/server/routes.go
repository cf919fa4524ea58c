package server

import "net/http"

// SetupRoutes returns a ServeMux with the health check on / and the
// WebSocket endpoint on /ws.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", NewWebSocketHandler(hub))
	return mux
}
