package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floegence/snaprelay/internal/defaults"
	"github.com/floegence/snaprelay/internal/logging"
	"github.com/floegence/snaprelay/internal/randid"
	"github.com/floegence/snaprelay/observability"
	"github.com/floegence/snaprelay/realtime/ws"
	"github.com/floegence/snaprelay/relay/hub"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/relay/ratelimit"
	"github.com/gorilla/websocket"
	gologging "gopkg.in/op/go-logging.v1"
)

type Config struct {
	Path        string // WebSocket endpoint path (e.g. "/ws").
	MaxConns    int    // Maximum concurrent websocket connections.
	MaxSessions int    // Maximum sessions with members (0 = unlimited).

	AllowedOrigins    []string // Allowed Origin header values.
	AllowNoOrigin     bool     // Whether to allow empty Origin.
	TrustForwardedFor bool     // Rate limit by X-Forwarded-For (behind a trusted proxy).
	EnableCompression bool     // Negotiate permessage-deflate.

	Payload protocol.Limits  // Inbound frame and envelope size limits.
	Limits  ratelimit.Limits // Per-address join, photo and offer limits.

	PongTimeout        time.Duration // Close connections silent beyond this duration (0 disables pings).
	CleanupInterval    time.Duration // Background cleanup cadence.
	WriteTimeout       time.Duration // Per-frame websocket write deadline (0 disables).
	MaxWriteQueueBytes int           // Max buffered bytes for websocket writes per connection.
	SessionIdleTTL     time.Duration // Approval state retention after a session empties.

	Observer observability.RelayObserver // Optional relay metrics observer.
	Logger   *gologging.Logger           // Optional logger.
}

// DefaultConfig returns conservative defaults for a relay server.
func DefaultConfig() Config {
	return Config{
		Path:               "/ws",
		MaxConns:           12000,
		MaxSessions:        6000,
		Payload:            protocol.DefaultLimits(),
		Limits:             ratelimit.DefaultLimits(),
		PongTimeout:        defaults.PongTimeout,
		CleanupInterval:    5 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxWriteQueueBytes: 32 << 20,
		SessionIdleTTL:     defaults.SessionIdleTTL,
		Observer:           observability.NoopRelayObserver,
	}
}

// Server terminates relay websockets and hands parsed requests to the hub.
type Server struct {
	cfg Config // Immutable runtime configuration.

	hub *hub.Hub
	obs observability.RelayObserver
	log *gologging.Logger

	connCount int64    // Current connection count.
	connSet   sync.Map // key: *wsConn, value: struct{}

	closed   atomic.Bool
	stopOnce sync.Once     // Ensures shutdown only happens once.
	stopCh   chan struct{} // Signals background cleanup to stop.
}

// Stats captures a snapshot of relay server counts.
type Stats struct {
	ConnCount    int64
	SessionCount int
}

// New validates config and starts background cleanup.
func New(cfg Config) (*Server, error) {
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, errors.New("path must start with /")
	}
	var origins []string
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 && !cfg.AllowNoOrigin {
		return nil, errors.New("missing allowed origins")
	}
	cfg.AllowedOrigins = origins
	def := DefaultConfig()
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.MaxSessions < 0 {
		cfg.MaxSessions = 0
	}
	if cfg.PongTimeout < 0 {
		cfg.PongTimeout = 0
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = 0
	}
	if cfg.MaxWriteQueueBytes <= 0 {
		cfg.MaxWriteQueueBytes = def.MaxWriteQueueBytes
	}
	payload := cfg.Payload
	if payload.MaxMessageBytes <= 0 {
		payload.MaxMessageBytes = def.Payload.MaxMessageBytes
	}
	if cfg.MaxWriteQueueBytes < payload.MaxMessageBytes {
		return nil, errors.New("max write queue bytes must be >= max message bytes")
	}
	cfg.Payload = payload
	if cfg.SessionIdleTTL < 0 {
		cfg.SessionIdleTTL = 0
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopRelayObserver
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard().GetLogger("relay")
	}

	s := &Server{
		cfg: cfg,
		obs: cfg.Observer,
		log: cfg.Logger,
		hub: hub.New(hub.Config{
			Limits:         ratelimit.NewSet(cfg.Limits),
			SessionIdleTTL: cfg.SessionIdleTTL,
			MaxSessions:    cfg.MaxSessions,
			Observer:       cfg.Observer,
			Logger:         cfg.Logger,
		}),
		stopCh: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Stats returns a point-in-time view of connection and session counts.
func (s *Server) Stats() Stats {
	return Stats{
		ConnCount:    atomic.LoadInt64(&s.connCount),
		SessionCount: s.hub.SessionCount(),
	}
}

// Register installs the websocket and health endpoints on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Close stops background cleanup, refuses new upgrades, and closes every
// open connection with a going-away status.
func (s *Server) Close() {
	s.closed.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.connSet.Range(func(k, _ any) bool {
		k.(*wsConn).Kick(observability.KickReasonShutdown)
		return true
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	c, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		EnableCompression: s.cfg.EnableCompression,
		CheckOrigin:       s.checkOrigin,
	})
	if err != nil {
		s.obs.Join(observability.JoinResultFail, observability.JoinReasonUpgradeError)
		return
	}
	uc := c.Underlying()
	id, err := randid.Random(12)
	if err != nil {
		_ = c.CloseWithStatus(websocket.CloseInternalServerErr, "internal error")
		return
	}
	conn := newWSConn(s, id, remoteKey(r, s.cfg.TrustForwardedFor), uc)
	if !s.trackConn(conn) {
		s.obs.Join(observability.JoinResultFail, observability.JoinReasonTooManyConnections)
		_ = c.CloseWithStatus(websocket.CloseTryAgainLater, "too many connections")
		return
	}
	defer s.untrackConn(conn)

	s.hub.Connect(conn)
	go conn.writePump()
	if interval := defaults.KeepaliveInterval(s.cfg.PongTimeout); interval > 0 {
		go conn.pingLoop(interval)
	}
	s.readPump(conn)

	s.hub.Disconnect(conn)
	conn.finish()
}

// readPump feeds inbound frames to the hub until the connection fails or is kicked.
func (s *Server) readPump(c *wsConn) {
	uc := c.ws
	uc.SetReadLimit(int64(s.cfg.Payload.MaxMessageBytes))
	extend := func() {
		if s.cfg.PongTimeout > 0 {
			_ = uc.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		}
	}
	extend()
	uc.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		mt, b, err := uc.ReadMessage()
		if err != nil {
			if !c.isKicked() {
				s.obs.Disconnect(observability.KickReasonPeerClosed)
			}
			return
		}
		extend()
		var req protocol.Request
		if mt != websocket.TextMessage {
			req = &protocol.InvalidMessage{Err: errNonTextFrame}
		} else {
			req = protocol.Parse(b, s.cfg.Payload)
		}
		s.hub.Handle(c, req)
		if c.isKicked() {
			return
		}
	}
}

var errNonTextFrame = errors.New("non-text frame")

// checkOrigin validates the Origin header against the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	return ws.IsOriginAllowed(r, s.cfg.AllowedOrigins, s.cfg.AllowNoOrigin)
}

// trackConn increments the connection count and enforces MaxConns.
func (s *Server) trackConn(c *wsConn) bool {
	newCount := atomic.AddInt64(&s.connCount, 1)
	if s.cfg.MaxConns > 0 && newCount > int64(s.cfg.MaxConns) {
		newCount = atomic.AddInt64(&s.connCount, -1)
		s.obs.ConnCount(newCount)
		return false
	}
	s.obs.ConnCount(newCount)
	s.connSet.Store(c, struct{}{})
	return true
}

// untrackConn decrements the connection count if tracked.
func (s *Server) untrackConn(c *wsConn) {
	if _, ok := s.connSet.LoadAndDelete(c); !ok {
		return
	}
	newCount := atomic.AddInt64(&s.connCount, -1)
	s.obs.ConnCount(newCount)
}

// cleanupLoop periodically prunes rate-limit windows and idle session state.
func (s *Server) cleanupLoop() {
	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-t.C:
			s.hub.Sweep(now)
		}
	}
}

// remoteKey returns the address used for rate limiting.
func remoteKey(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// closeStatus maps a kick reason to the websocket close code sent to the client.
func closeStatus(reason observability.KickReason) int {
	switch reason {
	case observability.KickReasonInvalidMessage, observability.KickReasonRejected:
		return websocket.ClosePolicyViolation
	case observability.KickReasonRateLimited, observability.KickReasonTooManySessions, observability.KickReasonWriteQueueFull:
		return websocket.CloseTryAgainLater
	case observability.KickReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseInternalServerErr
	}
}
