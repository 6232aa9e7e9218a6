// Package pairing builds and consumes the shareable session locator and
// turns scanned locators and incoming offers into join or offer actions.
//
// Nothing here talks to the relay. The seed travels only in the URL
// fragment, which compliant clients never send to a server.
package pairing

import (
	"errors"
	"net/url"
	"strings"

	"github.com/floegence/snaprelay/internal/randid"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/google/uuid"
)

const (
	sessionTokenBytes = 12
	seedBytes         = 16
)

var (
	ErrInvalidLocator  = errors.New("invalid locator")
	ErrInvalidSession  = errors.New("invalid session token")
	ErrInvalidIdentity = errors.New("invalid peer identity")
	ErrInvalidSeed     = errors.New("invalid seed")
	ErrMissingOffer    = errors.New("offer carries no session")
)

// Locator is what a QR code or share link carries.
type Locator struct {
	Session  string // Session token.
	Identity string // Optional peer identity of the sharing device.
	Seed     string // Optional key seed.
}

func (l Locator) validate() error {
	if !protocol.ValidSessionToken(l.Session) {
		return ErrInvalidSession
	}
	if l.Identity != "" && !protocol.ValidIdentity(l.Identity) {
		return ErrInvalidIdentity
	}
	if l.Seed != "" && !protocol.ValidSeed(l.Seed) {
		return ErrInvalidSeed
	}
	return nil
}

// NewSessionToken returns a fresh random session token.
func NewSessionToken() (string, error) {
	return randid.Random(sessionTokenBytes)
}

// NewSeed returns a fresh random key seed.
func NewSeed() (string, error) {
	return randid.Random(seedBytes)
}

// NewPeerIdentity returns a fresh device identity: a random UUID without dashes.
func NewPeerIdentity() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BuildLocator renders l onto base as ?session=&uid=#seed=.
//
// Existing query parameters on base are kept except the legacy key
// parameter, which would otherwise leak key material into access logs.
func BuildLocator(base string, l Locator) (string, error) {
	if err := l.validate(); err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", ErrInvalidLocator
	}
	q := u.Query()
	q.Del("key")
	q.Del("seed")
	q.Set("session", l.Session)
	if l.Identity != "" {
		q.Set("uid", l.Identity)
	} else {
		q.Del("uid")
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	if l.Seed != "" {
		u.Fragment = "seed=" + l.Seed
	}
	return u.String(), nil
}

// ParseLocator extracts a Locator from a scanned URL or bare "?session=..." string.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, ErrInvalidLocator
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, ErrInvalidLocator
	}
	q := u.Query()
	frag, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return Locator{}, ErrInvalidLocator
	}
	l := Locator{
		Session:  strings.TrimSpace(q.Get("session")),
		Identity: strings.TrimSpace(q.Get("uid")),
		Seed:     strings.TrimSpace(frag.Get("seed")),
	}
	if l.Session == "" {
		return Locator{}, ErrInvalidLocator
	}
	if err := l.validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}

// Action is what a device should do with a scanned locator.
type Action int

const (
	// ActionAdopt joins the scanned session locally.
	ActionAdopt Action = iota + 1
	// ActionOffer keeps the current session and offers it to the scanned party.
	ActionOffer
)

func (a Action) String() string {
	switch a {
	case ActionAdopt:
		return "adopt"
	case ActionOffer:
		return "offer"
	default:
		return "unknown"
	}
}

// Membership is the device's current session, if any.
type Membership struct {
	Session string
	Seed    string
}

// Step is the outcome of Plan.
type Step struct {
	Action Action
	Join   Locator               // Set for ActionAdopt.
	Offer  protocol.OfferRequest // Set for ActionOffer.
}

// Plan decides how to consume a scanned locator. A device without a session,
// or already in the scanned one, adopts it. A device in a different session
// sends its own session and seed to the scanned party instead, so the other
// side decides whether to switch.
func Plan(cur Membership, scanned Locator) (Step, error) {
	if err := scanned.validate(); err != nil {
		return Step{}, err
	}
	if cur.Session == "" || cur.Session == scanned.Session {
		join := scanned
		if join.Seed == "" && cur.Session == scanned.Session {
			join.Seed = cur.Seed
		}
		return Step{Action: ActionAdopt, Join: join}, nil
	}
	if !protocol.ValidSessionToken(cur.Session) {
		return Step{}, ErrInvalidSession
	}
	return Step{
		Action: ActionOffer,
		Offer: protocol.OfferRequest{
			SessionID:  cur.Session,
			Offer:      protocol.OfferBody{Session: cur.Session, Seed: cur.Seed},
			Target:     scanned.Session,
			TargetUUID: scanned.Identity,
		},
	}, nil
}

// AcceptOffer returns the locator to join when the user accepts offer.
func AcceptOffer(offer protocol.SessionOffer) (Locator, error) {
	if offer.Session == "" {
		return Locator{}, ErrMissingOffer
	}
	l := Locator{Session: offer.Session, Seed: offer.Seed}
	if protocol.ValidIdentity(offer.FromUUID) {
		l.Identity = offer.FromUUID
	}
	if err := l.validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}

// DeclineDecision returns the rejection to send when the user declines offer.
// Offers without a sender identity are declined locally only.
func DeclineDecision(offer protocol.SessionOffer) (protocol.DecisionRequest, bool) {
	if !protocol.ValidIdentity(offer.FromUUID) {
		return protocol.DecisionRequest{}, false
	}
	return protocol.DecisionRequest{TargetUUID: offer.FromUUID, Decision: protocol.DecisionRejectOffer}, true
}
