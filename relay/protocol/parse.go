package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/floegence/snaprelay/internal/base64url"
)

// Limits caps inbound payload sizes.
type Limits struct {
	MaxMessageBytes    int // Maximum total frame bytes.
	MinIVChars         int // Minimum base64url iv length.
	MaxIVChars         int // Maximum base64url iv length.
	MinCiphertextChars int // Minimum base64url ciphertext length.
	MaxCiphertextChars int // Maximum base64url ciphertext length.
}

// DefaultLimits returns the limits used when a field is left zero.
//
// The ciphertext cap admits roughly 5 MiB of binary payload.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes:    8 << 20,
		MinIVChars:         8,
		MaxIVChars:         128,
		MinCiphertextChars: 16,
		MaxCiphertextChars: 7_000_000,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = def.MaxMessageBytes
	}
	if l.MinIVChars <= 0 {
		l.MinIVChars = def.MinIVChars
	}
	if l.MaxIVChars <= 0 {
		l.MaxIVChars = def.MaxIVChars
	}
	if l.MinCiphertextChars <= 0 {
		l.MinCiphertextChars = def.MinCiphertextChars
	}
	if l.MaxCiphertextChars <= 0 {
		l.MaxCiphertextChars = def.MaxCiphertextChars
	}
	return l
}

var (
	ErrMessageTooLarge   = errors.New("message too large")
	ErrInvalidJSON       = errors.New("invalid json")
	ErrMissingType       = errors.New("missing type")
	ErrUnknownType       = errors.New("unknown type")
	ErrMissingData       = errors.New("missing data")
	ErrInvalidSession    = errors.New("invalid session token")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidIdentity   = errors.New("invalid peer identity")
	ErrInvalidIV         = errors.New("invalid iv")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidMIME       = errors.New("invalid mime")
	ErrMissingOffer      = errors.New("missing offer")
	ErrInvalidSeed       = errors.New("invalid seed")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrInvalidDecision   = errors.New("invalid decision")
)

type joinData struct {
	SessionID  string `json:"sessionId"`
	Role       string `json:"role"`
	DeviceName string `json:"deviceName,omitempty"`
	ClientUUID string `json:"clientUuid"`
}

type photoData struct {
	SessionID  string `json:"sessionId,omitempty"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	MIME       string `json:"mime,omitempty"`
}

type offerData struct {
	SessionID  string     `json:"sessionId,omitempty"`
	Offer      *OfferBody `json:"offer"`
	Target     string     `json:"target,omitempty"`
	TargetUUID string     `json:"targetUuid,omitempty"`
}

type decisionData struct {
	TargetUUID string `json:"targetUuid"`
	Decision   string `json:"decision"`
}

// Parse validates an inbound frame and converts it into a typed Request.
//
// Parse never returns nil: malformed or unknown input yields *InvalidMessage.
// Zero-valued fields in l are filled from DefaultLimits.
func Parse(b []byte, l Limits) Request {
	l = l.withDefaults()
	if len(b) > l.MaxMessageBytes {
		return &InvalidMessage{Err: ErrMessageTooLarge}
	}
	f, err := DecodeFrame(b)
	if err != nil {
		return &InvalidMessage{Err: err}
	}
	if len(f.Data) == 0 || bytes.Equal(bytes.TrimSpace(f.Data), []byte("null")) {
		return &InvalidMessage{Type: f.Type, Err: ErrMissingData}
	}
	var req Request
	switch f.Type {
	case TypeJoinSession:
		req, err = parseJoin(f.Data)
	case TypePhoto:
		req, err = parsePhoto(f.Data, l)
	case TypeSessionOffer:
		req, err = parseOffer(f.Data)
	case TypePeerDecision:
		req, err = parseDecision(f.Data)
	default:
		err = ErrUnknownType
	}
	if err != nil {
		return &InvalidMessage{Type: f.Type, Err: err}
	}
	return req
}

func parseJoin(raw json.RawMessage) (Request, error) {
	var d joinData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, ErrInvalidJSON
	}
	if !ValidSessionToken(d.SessionID) {
		return nil, ErrInvalidSession
	}
	role, ok := ParseRole(d.Role)
	if !ok {
		return nil, ErrInvalidRole
	}
	if !ValidIdentity(d.ClientUUID) {
		return nil, ErrInvalidIdentity
	}
	return &JoinRequest{
		SessionID:  d.SessionID,
		Role:       role,
		DeviceName: CleanDeviceName(d.DeviceName),
		ClientUUID: d.ClientUUID,
	}, nil
}

func parsePhoto(raw json.RawMessage, l Limits) (Request, error) {
	var d photoData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, ErrInvalidJSON
	}
	if d.SessionID != "" && !ValidSessionToken(d.SessionID) {
		return nil, ErrInvalidSession
	}
	if !base64url.Valid(d.IV, l.MinIVChars, l.MaxIVChars) {
		return nil, ErrInvalidIV
	}
	if !base64url.Valid(d.Ciphertext, l.MinCiphertextChars, l.MaxCiphertextChars) {
		return nil, fmt.Errorf("%w (%d chars)", ErrInvalidCiphertext, len(d.Ciphertext))
	}
	if d.MIME != "" && !ValidMIME(d.MIME) {
		return nil, ErrInvalidMIME
	}
	return &PhotoRequest{
		SessionID:  d.SessionID,
		IV:         d.IV,
		Ciphertext: d.Ciphertext,
		MIME:       d.MIME,
	}, nil
}

func parseOffer(raw json.RawMessage) (Request, error) {
	var d offerData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, ErrInvalidJSON
	}
	if d.SessionID != "" && !ValidSessionToken(d.SessionID) {
		return nil, ErrInvalidSession
	}
	if d.Offer == nil {
		return nil, ErrMissingOffer
	}
	if d.Offer.Seed != "" && !ValidSeed(d.Offer.Seed) {
		return nil, ErrInvalidSeed
	}
	if d.Offer.Session != "" && !ValidSessionToken(d.Offer.Session) {
		return nil, ErrInvalidSession
	}
	if d.Target != "" && !ValidSessionToken(d.Target) {
		return nil, ErrInvalidTarget
	}
	if d.TargetUUID != "" && !ValidIdentity(d.TargetUUID) {
		return nil, ErrInvalidTarget
	}
	return &OfferRequest{
		SessionID:  d.SessionID,
		Offer:      *d.Offer,
		Target:     d.Target,
		TargetUUID: d.TargetUUID,
	}, nil
}

func parseDecision(raw json.RawMessage) (Request, error) {
	var d decisionData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, ErrInvalidJSON
	}
	if !ValidIdentity(d.TargetUUID) {
		return nil, ErrInvalidIdentity
	}
	decision, ok := ParseDecision(d.Decision)
	if !ok {
		return nil, ErrInvalidDecision
	}
	return &DecisionRequest{TargetUUID: d.TargetUUID, Decision: decision}, nil
}
