package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/floegence/snaprelay/internal/defaults"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/gorilla/websocket"
	gologging "gopkg.in/op/go-logging.v1"
)

// Option configures dialing, timeouts, and limits for a relay client.
//
// Omit an option to use the library default. For timeouts, a value of 0 disables the timeout.
type Option func(*options) error

type options struct {
	header http.Header
	dialer *websocket.Dialer

	connectTimeout time.Duration
	joinTimeout    time.Duration

	maxMessageBytes   int
	eventBuffer       int
	enableCompression bool

	logger *gologging.Logger
}

func defaultOptions() options {
	return options{
		connectTimeout:  defaults.ConnectTimeout,
		joinTimeout:     defaults.JoinTimeout,
		maxMessageBytes: protocol.DefaultLimits().MaxMessageBytes,
		eventBuffer:     64,
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	return cfg, nil
}

// WithHeader adds extra HTTP headers for the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(cfg *options) error {
		cfg.header = h
		return nil
	}
}

// WithDialer sets a custom gorilla/websocket dialer (proxy/TLS/etc).
func WithDialer(d *websocket.Dialer) Option {
	return func(cfg *options) error {
		cfg.dialer = d
		return nil
	}
}

// WithConnectTimeout sets the WebSocket connect timeout; 0 disables the timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("connect timeout must be >= 0")
		}
		cfg.connectTimeout = d
		return nil
	}
}

// WithJoinTimeout bounds waiting for the session-joined acknowledgement; 0 disables the timeout.
func WithJoinTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("join timeout must be >= 0")
		}
		cfg.joinTimeout = d
		return nil
	}
}

// WithMaxMessageBytes caps the size of a single inbound frame.
func WithMaxMessageBytes(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("max message bytes must be > 0")
		}
		cfg.maxMessageBytes = n
		return nil
	}
}

// WithEventBuffer sets how many inbound events are buffered before the read loop waits on the consumer.
func WithEventBuffer(n int) Option {
	return func(cfg *options) error {
		if n < 0 {
			return fmt.Errorf("event buffer must be >= 0")
		}
		cfg.eventBuffer = n
		return nil
	}
}

// WithCompression negotiates permessage-deflate.
func WithCompression(enabled bool) Option {
	return func(cfg *options) error {
		cfg.enableCompression = enabled
		return nil
	}
}

// WithLogger sets the logger used for dropped or undecodable frames.
func WithLogger(l *gologging.Logger) Option {
	return func(cfg *options) error {
		cfg.logger = l
		return nil
	}
}
