// Package testhelpers provides utilities shared by the server and client
// tests: HTTP requests against test servers and typed-envelope WebSocket
// I/O.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

const readTimeout = 3 * time.Second

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// MakeRequest executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	return resp
}

// ConnectWebSocket dials url with TestOrigin as the Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials url, consumes the WELCOME greeting, and closes the
// connection when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(url)
	require.NoError(t, err, "connect websocket")
	t.Cleanup(func() { _ = conn.Close() })

	welcome := ReadEnvelope(t, conn)
	require.Equal(t, "WELCOME", welcome["type"])
	return conn
}

// SendEnvelope writes {"type": msgType, ...fields} as one frame.
func SendEnvelope(t *testing.T, conn *websocket.Conn, msgType string, fields map[string]any) {
	t.Helper()

	frame := map[string]any{"type": msgType}
	for k, v := range fields {
		frame[k] = v
	}
	require.NoError(t, conn.WriteJSON(frame), "send %s", msgType)
}

// SendRaw writes data as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReadEnvelope reads one frame and decodes it as a JSON object.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "read frame")

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg), "decode frame %s", raw)
	return msg
}

// ReadUntil reads frames until one has the given type, skipping others.
func ReadUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		msg := ReadEnvelope(t, conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	require.FailNow(t, "timed out waiting for frame", "type %s", msgType)
	return nil
}

// ExpectSilence asserts that nothing arrives on conn within d. The read
// deadline is fatal to a gorilla connection, so conn is unusable afterwards.
func ExpectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", raw)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
