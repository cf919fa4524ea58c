package wsclient

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/logging"
)

const (
	DefaultMaxReconnects     = 10
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 15 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second

	writeWait = 10 * time.Second
)

type options struct {
	maxReconnects int
	baseDelay     time.Duration
	maxDelay      time.Duration
	heartbeat     time.Duration
	dialer        *websocket.Dialer
	header        http.Header
	logger        zerolog.Logger
	helloClient   string
	helloUser     string
	listeners     []initialListener
}

type initialListener struct {
	msgType string
	handler Handler
}

func defaultOptions() options {
	return options{
		maxReconnects: DefaultMaxReconnects,
		baseDelay:     DefaultBaseDelay,
		maxDelay:      DefaultMaxDelay,
		heartbeat:     DefaultHeartbeatInterval,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:        logging.L(),
		helloClient:   "go",
		helloUser:     "guest",
	}
}

// Option configures a Client.
type Option func(*options)

// WithMaxReconnects caps consecutive failed reconnects before the client
// gives up.
func WithMaxReconnects(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxReconnects = n
		}
	}
}

// WithBackoff overrides the base and maximum reconnect delay.
func WithBackoff(base, limit time.Duration) Option {
	return func(o *options) {
		if base > 0 {
			o.baseDelay = base
		}
		if limit > 0 {
			o.maxDelay = limit
		}
	}
}

// WithHeartbeat sets how often a PING is sent while connected.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithHeader adds request headers to every handshake, e.g. Origin.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h.Clone() }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHello sets the identity announced in the HELLO sent on every open.
func WithHello(client, user string) Option {
	return func(o *options) {
		o.helloClient = client
		o.helloUser = user
	}
}

// WithListener registers h before the first connect, so no early frame
// such as WELCOME is missed.
func WithListener(msgType string, h Handler) Option {
	return func(o *options) {
		o.listeners = append(o.listeners, initialListener{msgType: msgType, handler: h})
	}
}
