// Package protocol defines the relay wire events and converts inbound frames
// into a closed set of typed requests at the connection boundary.
//
// Every frame is a JSON object {"type": <event>, "data": {...}} carried in a
// websocket text message. Field names match the browser client.
package protocol

// Role is the declared device role within a session.
type Role string

const (
	RoleCapture Role = "capture"
	RoleViewer  Role = "viewer"
)

// ParseRole accepts the canonical role names plus the legacy "mobile" and
// "desktop" aliases used by older clients.
func ParseRole(s string) (Role, bool) {
	switch s {
	case string(RoleCapture), "mobile":
		return RoleCapture, true
	case string(RoleViewer), "desktop":
		return RoleViewer, true
	default:
		return "", false
	}
}

// Status is the approval state of a peer identity inside one session.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// Decision is an approved peer's verdict on another identity.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	// DecisionRejectOffer is the wire form sent when declining an offer.
	// It parses to DecisionReject.
	DecisionRejectOffer Decision = "reject-offer"
)

// ParseDecision accepts "approve", "reject", and the "reject-offer" alias sent
// when a user declines an incoming offer.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case string(DecisionApprove):
		return DecisionApprove, true
	case string(DecisionReject), string(DecisionRejectOffer):
		return DecisionReject, true
	default:
		return "", false
	}
}

// Inbound event types.
const (
	TypeJoinSession  = "join-session"
	TypePhoto        = "photo"
	TypeSessionOffer = "session-offer"
	TypePeerDecision = "peer-decision"
)

// Outbound event types. "photo" and "session-offer" reuse the inbound names.
const (
	TypeSessionJoined = "session-joined"
	TypePeerJoined    = "peer-joined"
	TypePeerStatus    = "peer-status"
	TypePeerLeft      = "peer-left"
)

// OfferBody is the client-authored part of a session offer.
type OfferBody struct {
	Session     string `json:"session,omitempty"`
	Seed        string `json:"seed,omitempty"`
	JoinRequest bool   `json:"joinRequest,omitempty"`
}

// Request is one validated inbound message. The concrete type is one of
// *JoinRequest, *PhotoRequest, *OfferRequest, *DecisionRequest, or
// *InvalidMessage.
type Request interface {
	requestType() string
}

type JoinRequest struct {
	SessionID  string
	Role       Role
	DeviceName string
	ClientUUID string
}

type PhotoRequest struct {
	SessionID  string // Empty means "the connection's current session".
	IV         string
	Ciphertext string
	MIME       string
}

type OfferRequest struct {
	SessionID  string // Empty means "the connection's current session".
	Offer      OfferBody
	Target     string // Target session token; empty defaults to the sender's session.
	TargetUUID string // Target identity; takes precedence over Target.
}

type DecisionRequest struct {
	TargetUUID string
	Decision   Decision
}

// InvalidMessage is produced for any frame that fails parsing or validation.
type InvalidMessage struct {
	Type string // Declared type, if one could be read.
	Err  error
}

func (*JoinRequest) requestType() string     { return TypeJoinSession }
func (*PhotoRequest) requestType() string    { return TypePhoto }
func (*OfferRequest) requestType() string    { return TypeSessionOffer }
func (*DecisionRequest) requestType() string { return TypePeerDecision }
func (m *InvalidMessage) requestType() string {
	return m.Type
}

// TypeOf returns the wire type of r.
func TypeOf(r Request) string {
	if r == nil {
		return ""
	}
	return r.requestType()
}
