package protocol

import (
	"encoding/json"
	"errors"
)

// Frame is the JSON envelope shared by every event in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SessionJoined acknowledges a join to the joining connection only.
type SessionJoined struct {
	SessionID  string `json:"sessionId"`
	ClientID   string `json:"clientId"`
	ClientUUID string `json:"clientUuid"`
	Status     Status `json:"status"`
}

// PeerInfo is the payload of peer-joined and peer-left.
type PeerInfo struct {
	Role       Role   `json:"role"`
	ClientID   string `json:"clientId"`
	DeviceName string `json:"deviceName,omitempty"`
	ClientUUID string `json:"clientUuid"`
}

// PeerStatus announces the approval status of an identity.
type PeerStatus struct {
	ClientUUID string `json:"clientUuid"`
	Status     Status `json:"status"`
}

// Photo is the fan-out form of a photo envelope.
type Photo struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	MIME       string `json:"mime,omitempty"`
	SenderUUID string `json:"senderUuid"`
}

// SessionOffer is the delivered form of an offer, stamped with the sender.
type SessionOffer struct {
	OfferBody
	FromRole   Role   `json:"fromRole"`
	FromDevice string `json:"fromDevice,omitempty"`
	FromUUID   string `json:"fromUuid"`
}

// Event is one outbound message ready for encoding.
type Event struct {
	Type string
	Data any
}

// Encode marshals ev into a wire frame.
func Encode(ev Event) ([]byte, error) {
	if ev.Type == "" {
		return nil, errors.New("missing event type")
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: ev.Type, Data: data})
}

// MustEncode is Encode for payloads that are known to marshal.
func MustEncode(ev Event) []byte {
	b, err := Encode(ev)
	if err != nil {
		panic("protocol: encode " + ev.Type + ": " + err.Error())
	}
	return b
}

// DecodeFrame splits a wire frame into its type and raw data.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, ErrInvalidJSON
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}

// Outbound helpers used by the relay.

func SessionJoinedEvent(v SessionJoined) Event { return Event{Type: TypeSessionJoined, Data: v} }
func PeerJoinedEvent(v PeerInfo) Event         { return Event{Type: TypePeerJoined, Data: v} }
func PeerLeftEvent(v PeerInfo) Event           { return Event{Type: TypePeerLeft, Data: v} }
func PeerStatusEvent(v PeerStatus) Event       { return Event{Type: TypePeerStatus, Data: v} }
func PhotoEvent(v Photo) Event                 { return Event{Type: TypePhoto, Data: v} }
func SessionOfferEvent(v SessionOffer) Event   { return Event{Type: TypeSessionOffer, Data: v} }

// Inbound constructors used by clients.

func JoinSessionEvent(r JoinRequest) Event {
	return Event{Type: TypeJoinSession, Data: joinData{
		SessionID:  r.SessionID,
		Role:       string(r.Role),
		DeviceName: r.DeviceName,
		ClientUUID: r.ClientUUID,
	}}
}

func PhotoUploadEvent(r PhotoRequest) Event {
	return Event{Type: TypePhoto, Data: photoData{
		SessionID:  r.SessionID,
		IV:         r.IV,
		Ciphertext: r.Ciphertext,
		MIME:       r.MIME,
	}}
}

func OfferUploadEvent(r OfferRequest) Event {
	body := r.Offer
	return Event{Type: TypeSessionOffer, Data: offerData{
		SessionID:  r.SessionID,
		Offer:      &body,
		Target:     r.Target,
		TargetUUID: r.TargetUUID,
	}}
}

func PeerDecisionEvent(r DecisionRequest) Event {
	return Event{Type: TypePeerDecision, Data: decisionData{
		TargetUUID: r.TargetUUID,
		Decision:   string(r.Decision),
	}}
}
