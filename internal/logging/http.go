package logging

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// HTTPMiddleware writes one access line per request, tagged with a request
// id and the same client_addr the hub uses for the connection, so an upgrade
// can be matched to its connection logs. Upgrades are logged as such; plain
// GETs of "/" are health probes and only show at debug level.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(headerRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			child := logger.With().
				Str(FieldRequestID, reqID).
				Str(FieldMethod, r.Method).
				Str(FieldPath, r.URL.Path).
				Str(FieldClientAddr, r.RemoteAddr).
				Logger()

			w.Header().Set(headerRequestID, reqID)
			r = r.WithContext(WithLogger(r.Context(), child))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ev := child.Info()
			msg := "Request completed"
			switch {
			case rec.upgraded:
				ev = ev.Str(FieldUpgrade, "websocket")
				msg = "WebSocket upgraded"
			case r.URL.Path == "/" && rec.status == http.StatusOK:
				ev = child.Debug()
				msg = "Health check"
			}
			ev.Int(FieldStatus, rec.status).
				Int64(FieldLatency, time.Since(start).Milliseconds()).
				Msg(msg)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Hijacker")
	}
	r.status = http.StatusSwitchingProtocols
	r.upgraded = true
	return h.Hijack()
}
