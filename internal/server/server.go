package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// CreateServer creates the HTTP server with conservative timeouts.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer blocks serving srv. A clean shutdown is not an error.
func StartServer(srv *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", srv.Addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and then shuts the hub down,
// which closes the hijacked WebSocket connections http.Server does not track.
func ShutdownServer(ctx context.Context, srv *http.Server, hub *Hub) error {
	timeout := hub.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}

	serverErr := srv.Shutdown(ctx)
	hubErr := hub.Shutdown(timeout)
	return errors.Join(serverErr, hubErr)
}
