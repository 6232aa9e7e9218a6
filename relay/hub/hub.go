// Package hub applies the relay's session semantics to inbound requests.
//
// The hub is transport independent: a transport registers each connection
// with Connect, feeds every parsed request to Handle from that connection's
// single reader goroutine, and calls Disconnect once the connection is gone.
package hub

import (
	"sync"
	"time"

	"github.com/floegence/snaprelay/internal/logging"
	"github.com/floegence/snaprelay/observability"
	"github.com/floegence/snaprelay/relay/approval"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/relay/ratelimit"
	"github.com/floegence/snaprelay/relay/registry"
	gologging "gopkg.in/op/go-logging.v1"
)

// Conn is one live client connection as seen by the hub.
//
// Send and Kick must not block on the network and must not call back into the
// hub; the hub invokes them while holding per-session locks.
type Conn interface {
	ID() string
	// RemoteKey identifies the origin for rate limiting, typically the client IP.
	RemoteKey() string
	// Send enqueues ev for delivery. Delivery is best effort.
	Send(ev protocol.Event) error
	// Kick closes the connection for reason.
	Kick(reason observability.KickReason)
}

type Config struct {
	Registry  registry.Store // Defaults to an in-memory registry.
	Approvals approval.Store // Defaults to an in-memory approval store.
	Limits    ratelimit.Set  // Nil members default to ratelimit.DefaultLimits.

	// SessionIdleTTL keeps a session's approval state after its last member
	// leaves so reconnecting devices keep their status. Zero forgets at once.
	SessionIdleTTL time.Duration
	MaxSessions    int // Maximum sessions with members (0 = unlimited).

	Observer observability.RelayObserver
	Logger   *gologging.Logger
	Now      func() time.Time
}

// Hub routes joins, photos, offers, and decisions between connections.
type Hub struct {
	reg    registry.Store
	appr   approval.Store
	limits ratelimit.Set
	obs    observability.RelayObserver
	log    *gologging.Logger
	now    func() time.Time

	idleTTL     time.Duration
	maxSessions int

	connsMu sync.RWMutex
	conns   map[string]Conn

	locksMu sync.Mutex
	locks   map[string]*sessionLock

	idleMu sync.Mutex
	idle   map[string]time.Time // Session token -> when its last member left.
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New returns a hub with cfg's stores, filling in in-memory defaults.
func New(cfg Config) *Hub {
	if cfg.Registry == nil {
		cfg.Registry = registry.NewMemory()
	}
	if cfg.Approvals == nil {
		cfg.Approvals = approval.NewMemory()
	}
	def := ratelimit.DefaultLimits()
	if cfg.Limits.Join == nil {
		cfg.Limits.Join = ratelimit.New(def.Join)
	}
	if cfg.Limits.Photo == nil {
		cfg.Limits.Photo = ratelimit.New(def.Photo)
	}
	if cfg.Limits.Offer == nil {
		cfg.Limits.Offer = ratelimit.New(def.Offer)
	}
	if cfg.SessionIdleTTL < 0 {
		cfg.SessionIdleTTL = 0
	}
	if cfg.MaxSessions < 0 {
		cfg.MaxSessions = 0
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopRelayObserver
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard().GetLogger("hub")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		reg:         cfg.Registry,
		appr:        cfg.Approvals,
		limits:      cfg.Limits,
		obs:         cfg.Observer,
		log:         cfg.Logger,
		now:         cfg.Now,
		idleTTL:     cfg.SessionIdleTTL,
		maxSessions: cfg.MaxSessions,
		conns:       make(map[string]Conn),
		locks:       make(map[string]*sessionLock),
		idle:        make(map[string]time.Time),
	}
}

// Connect makes c addressable for deliveries.
func (h *Hub) Connect(c Conn) {
	h.connsMu.Lock()
	h.conns[c.ID()] = c
	h.connsMu.Unlock()
}

// Disconnect removes c and its session membership, notifying remaining peers.
// It is safe to call more than once.
func (h *Hub) Disconnect(c Conn) {
	h.connsMu.Lock()
	if cur, ok := h.conns[c.ID()]; ok && cur == c {
		delete(h.conns, c.ID())
	}
	h.connsMu.Unlock()
	h.leave(c.ID())
}

// Handle processes one request from c. Calls for the same connection must not
// run concurrently.
func (h *Hub) Handle(c Conn, req protocol.Request) {
	switch r := req.(type) {
	case *protocol.JoinRequest:
		h.handleJoin(c, r)
	case *protocol.PhotoRequest:
		h.handlePhoto(c, r)
	case *protocol.OfferRequest:
		h.handleOffer(c, r)
	case *protocol.DecisionRequest:
		h.handleDecision(c, r)
	case *protocol.InvalidMessage:
		h.log.Debugf("conn %s: invalid %q message: %v", c.ID(), r.Type, r.Err)
		if r.Type == protocol.TypeJoinSession {
			h.obs.Join(observability.JoinResultFail, observability.JoinReasonInvalidMessage)
		}
		h.drop(c, observability.KickReasonInvalidMessage)
	default:
		h.drop(c, observability.KickReasonInvalidMessage)
	}
}

// Sweep prunes rate-limiter windows and forgets approval state of sessions
// that have been empty for longer than the idle TTL.
func (h *Hub) Sweep(now time.Time) {
	h.limits.Prune(now)

	var expired []string
	h.idleMu.Lock()
	for s, since := range h.idle {
		if now.Sub(since) >= h.idleTTL {
			expired = append(expired, s)
		}
	}
	h.idleMu.Unlock()

	for _, s := range expired {
		unlock := h.lockSession(s)
		h.idleMu.Lock()
		since, still := h.idle[s]
		if still && now.Sub(since) >= h.idleTTL && len(h.reg.Members(s)) == 0 {
			delete(h.idle, s)
			h.appr.Forget(s)
			h.log.Debugf("session %s expired", s)
		}
		h.idleMu.Unlock()
		unlock()
	}
}

// SessionCount returns the number of sessions with at least one member.
func (h *Hub) SessionCount() int {
	return h.reg.SessionCount()
}

func (h *Hub) lockSession(session string) func() {
	h.locksMu.Lock()
	l := h.locks[session]
	if l == nil {
		l = &sessionLock{}
		h.locks[session] = l
	}
	l.refs++
	h.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.locks, session)
		}
		h.locksMu.Unlock()
	}
}

func (h *Hub) conn(id string) Conn {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return h.conns[id]
}

func (h *Hub) send(connID string, ev protocol.Event) bool {
	c := h.conn(connID)
	if c == nil {
		return false
	}
	if err := c.Send(ev); err != nil {
		h.log.Debugf("conn %s: %s not delivered: %v", connID, ev.Type, err)
		return false
	}
	return true
}

func (h *Hub) broadcast(members []registry.Member, ev protocol.Event, exceptConn string) int {
	n := 0
	for _, m := range members {
		if m.ConnID == exceptConn {
			continue
		}
		if h.send(m.ConnID, ev) {
			n++
		}
	}
	return n
}

// drop kicks c and removes its membership in one step.
func (h *Hub) drop(c Conn, reason observability.KickReason) {
	h.obs.Disconnect(reason)
	c.Kick(reason)
	h.leave(c.ID())
}

func (h *Hub) leave(connID string) {
	m, ok := h.reg.Lookup(connID)
	if !ok {
		return
	}
	unlock := h.lockSession(m.Session)
	defer unlock()
	h.leaveLocked(connID, m.Session)
}

func (h *Hub) leaveLocked(connID string, session string) {
	if cur, ok := h.reg.Lookup(connID); !ok || cur.Session != session {
		return
	}
	m, ok := h.reg.Leave(connID)
	if !ok {
		return
	}
	remaining := h.reg.Members(session)
	h.broadcast(remaining, protocol.PeerLeftEvent(m.Info()), "")
	if len(remaining) == 0 {
		h.markIdle(session)
	}
	h.obs.SessionCount(h.reg.SessionCount())
	h.log.Debugf("session %s: conn %s left", session, connID)
}

func (h *Hub) markIdle(session string) {
	if h.idleTTL == 0 {
		h.appr.Forget(session)
		return
	}
	h.idleMu.Lock()
	h.idle[session] = h.now()
	h.idleMu.Unlock()
}

func (h *Hub) clearIdle(session string) {
	h.idleMu.Lock()
	delete(h.idle, session)
	h.idleMu.Unlock()
}
