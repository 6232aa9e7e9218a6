package observability

import (
	"sync"
	"sync/atomic"
)

type JoinResult string

const (
	JoinResultOK   JoinResult = "ok"
	JoinResultFail JoinResult = "fail"
)

type JoinReason string

const (
	JoinReasonOK                 JoinReason = "ok"
	JoinReasonUpgradeError       JoinReason = "upgrade_error"
	JoinReasonTooManyConnections JoinReason = "too_many_connections"
	JoinReasonInvalidMessage     JoinReason = "invalid_message"
	JoinReasonRateLimited        JoinReason = "rate_limited"
	JoinReasonTooManySessions    JoinReason = "too_many_sessions"
)

type RelayKind string

const (
	RelayKindPhoto RelayKind = "photo"
	RelayKindOffer RelayKind = "offer"
)

type RelayResult string

const (
	RelayResultDelivered    RelayResult = "delivered"
	RelayResultUnauthorized RelayResult = "unauthorized"
	RelayResultNoRecipients RelayResult = "no_recipients"
	RelayResultRateLimited  RelayResult = "rate_limited"
	RelayResultInvalid      RelayResult = "invalid"
)

type KickReason string

const (
	KickReasonInvalidMessage  KickReason = "invalid_message"
	KickReasonRateLimited     KickReason = "rate_limited"
	KickReasonRejected        KickReason = "rejected"
	KickReasonTooManySessions KickReason = "too_many_sessions"
	KickReasonWriteQueueFull  KickReason = "write_queue_full"
	KickReasonWriteError      KickReason = "write_error"
	KickReasonPeerClosed      KickReason = "peer_closed"
	KickReasonShutdown        KickReason = "shutdown"
)

type DecisionResult string

const (
	DecisionResultApproved DecisionResult = "approved"
	DecisionResultRejected DecisionResult = "rejected"
	DecisionResultIgnored  DecisionResult = "ignored"
)

// RelayObserver receives relay-level metric events.
type RelayObserver interface {
	ConnCount(n int64)
	SessionCount(n int)
	Join(result JoinResult, reason JoinReason)
	Relay(kind RelayKind, result RelayResult, recipients int)
	Decision(result DecisionResult)
	Disconnect(reason KickReason)
}

type noopRelayObserver struct{}

func (noopRelayObserver) ConnCount(int64)                   {}
func (noopRelayObserver) SessionCount(int)                  {}
func (noopRelayObserver) Join(JoinResult, JoinReason)       {}
func (noopRelayObserver) Relay(RelayKind, RelayResult, int) {}
func (noopRelayObserver) Decision(DecisionResult)           {}
func (noopRelayObserver) Disconnect(KickReason)             {}

// NoopRelayObserver is a zero-cost observer used when metrics are disabled.
var NoopRelayObserver RelayObserver = noopRelayObserver{}

// AtomicRelayObserver swaps its delegate at runtime.
type AtomicRelayObserver struct {
	once sync.Once
	v    atomic.Value
}

type relayObserverHolder struct {
	obs RelayObserver
}

// NewAtomicRelayObserver returns an initialized atomic observer.
func NewAtomicRelayObserver() *AtomicRelayObserver {
	a := &AtomicRelayObserver{}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicRelayObserver) Set(obs RelayObserver) {
	if obs == nil {
		obs = NoopRelayObserver
	}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	a.v.Store(&relayObserverHolder{obs: obs})
}

func (a *AtomicRelayObserver) load() RelayObserver {
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a.v.Load().(*relayObserverHolder).obs
}

func (a *AtomicRelayObserver) ConnCount(n int64)  { a.load().ConnCount(n) }
func (a *AtomicRelayObserver) SessionCount(n int) { a.load().SessionCount(n) }
func (a *AtomicRelayObserver) Join(result JoinResult, reason JoinReason) {
	a.load().Join(result, reason)
}
func (a *AtomicRelayObserver) Relay(kind RelayKind, result RelayResult, recipients int) {
	a.load().Relay(kind, result, recipients)
}
func (a *AtomicRelayObserver) Decision(result DecisionResult) { a.load().Decision(result) }
func (a *AtomicRelayObserver) Disconnect(reason KickReason)   { a.load().Disconnect(reason) }
