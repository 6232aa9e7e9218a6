package hub

import (
	"errors"

	"github.com/floegence/snaprelay/observability"
	"github.com/floegence/snaprelay/relay/approval"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/relay/registry"
)

func (h *Hub) handleJoin(c Conn, r *protocol.JoinRequest) {
	if !h.limits.Join.Allow(c.RemoteKey()) {
		h.log.Warningf("join from %s rate limited (session %s)", c.RemoteKey(), r.SessionID)
		h.obs.Join(observability.JoinResultFail, observability.JoinReasonRateLimited)
		h.drop(c, observability.KickReasonRateLimited)
		return
	}

	// One membership per connection: leave the previous session first.
	h.leave(c.ID())

	unlock := h.lockSession(r.SessionID)
	defer unlock()

	if h.maxSessions > 0 && len(h.reg.Members(r.SessionID)) == 0 && h.reg.SessionCount() >= h.maxSessions {
		h.obs.Join(observability.JoinResultFail, observability.JoinReasonTooManySessions)
		h.obs.Disconnect(observability.KickReasonTooManySessions)
		c.Kick(observability.KickReasonTooManySessions)
		return
	}

	me := registry.Member{
		ConnID:     c.ID(),
		Session:    r.SessionID,
		Role:       r.Role,
		DeviceName: r.DeviceName,
		Identity:   r.ClientUUID,
	}
	_, others := h.reg.Join(me)
	h.clearIdle(r.SessionID)

	// Classify before any membership notification so peers only ever see
	// identities with a resolved status.
	status, _ := h.appr.Classify(r.SessionID, r.ClientUUID)

	h.send(c.ID(), protocol.SessionJoinedEvent(protocol.SessionJoined{
		SessionID:  r.SessionID,
		ClientID:   c.ID(),
		ClientUUID: r.ClientUUID,
		Status:     status,
	}))

	self := protocol.PeerStatusEvent(protocol.PeerStatus{ClientUUID: r.ClientUUID, Status: status})
	h.send(c.ID(), self)
	h.broadcast(others, self, "")
	for _, e := range h.appr.Snapshot(r.SessionID) {
		if e.Identity == r.ClientUUID {
			continue
		}
		h.send(c.ID(), protocol.PeerStatusEvent(protocol.PeerStatus{ClientUUID: e.Identity, Status: e.Status}))
	}
	for _, o := range others {
		h.send(c.ID(), protocol.PeerJoinedEvent(o.Info()))
	}
	h.broadcast(others, protocol.PeerJoinedEvent(me.Info()), "")

	h.obs.Join(observability.JoinResultOK, observability.JoinReasonOK)
	h.obs.SessionCount(h.reg.SessionCount())
	h.log.Infof("session %s: %s %s joined as %s (%s)", r.SessionID, r.Role, r.ClientUUID, c.ID(), status)
}

func (h *Hub) handlePhoto(c Conn, r *protocol.PhotoRequest) {
	if !h.limits.Photo.Allow(c.RemoteKey()) {
		h.log.Warningf("photo from %s rate limited", c.RemoteKey())
		h.obs.Relay(observability.RelayKindPhoto, observability.RelayResultRateLimited, 0)
		h.drop(c, observability.KickReasonRateLimited)
		return
	}
	m, ok := h.reg.Lookup(c.ID())
	if !ok || (r.SessionID != "" && r.SessionID != m.Session) {
		h.obs.Relay(observability.RelayKindPhoto, observability.RelayResultUnauthorized, 0)
		return
	}

	unlock := h.lockSession(m.Session)
	defer unlock()

	if st, _ := h.appr.Status(m.Session, m.Identity); st != protocol.StatusApproved {
		h.obs.Relay(observability.RelayKindPhoto, observability.RelayResultUnauthorized, 0)
		return
	}
	ev := protocol.PhotoEvent(protocol.Photo{
		IV:         r.IV,
		Ciphertext: r.Ciphertext,
		MIME:       r.MIME,
		SenderUUID: m.Identity,
	})
	n := 0
	for _, peer := range h.reg.Members(m.Session) {
		if peer.ConnID == c.ID() {
			continue
		}
		if st, _ := h.appr.Status(m.Session, peer.Identity); st != protocol.StatusApproved {
			continue
		}
		if h.send(peer.ConnID, ev) {
			n++
		}
	}
	h.relayed(observability.RelayKindPhoto, n)
}

func (h *Hub) handleOffer(c Conn, r *protocol.OfferRequest) {
	if !h.limits.Offer.Allow(c.RemoteKey()) {
		h.log.Warningf("offer from %s rate limited", c.RemoteKey())
		h.obs.Relay(observability.RelayKindOffer, observability.RelayResultRateLimited, 0)
		h.drop(c, observability.KickReasonRateLimited)
		return
	}
	m, ok := h.reg.Lookup(c.ID())
	if !ok || (r.SessionID != "" && r.SessionID != m.Session) {
		h.obs.Relay(observability.RelayKindOffer, observability.RelayResultUnauthorized, 0)
		return
	}
	if st, _ := h.appr.Status(m.Session, m.Identity); st != protocol.StatusApproved {
		h.obs.Relay(observability.RelayKindOffer, observability.RelayResultUnauthorized, 0)
		return
	}

	ev := protocol.SessionOfferEvent(protocol.SessionOffer{
		OfferBody:  r.Offer,
		FromRole:   m.Role,
		FromDevice: m.DeviceName,
		FromUUID:   m.Identity,
	})
	var recipients []registry.Member
	if r.TargetUUID != "" {
		recipients = h.reg.ByIdentityAnywhere(r.TargetUUID)
	} else {
		target := r.Target
		if target == "" {
			target = m.Session
		}
		recipients = h.reg.Members(target)
	}
	n := h.broadcast(recipients, ev, c.ID())
	h.relayed(observability.RelayKindOffer, n)
	h.log.Debugf("session %s: offer from %s delivered to %d connection(s)", m.Session, m.Identity, n)
}

func (h *Hub) handleDecision(c Conn, r *protocol.DecisionRequest) {
	m, ok := h.reg.Lookup(c.ID())
	if !ok {
		h.obs.Decision(observability.DecisionResultIgnored)
		return
	}

	unlock := h.lockSession(m.Session)
	defer unlock()

	status, err := h.appr.Decide(m.Session, m.Identity, r.TargetUUID, r.Decision)
	if err != nil {
		if !errors.Is(err, approval.ErrNotApproved) {
			h.log.Warningf("session %s: decision by %s failed: %v", m.Session, m.Identity, err)
		}
		h.obs.Decision(observability.DecisionResultIgnored)
		return
	}
	h.broadcast(h.reg.Members(m.Session), protocol.PeerStatusEvent(protocol.PeerStatus{ClientUUID: r.TargetUUID, Status: status}), "")
	h.log.Infof("session %s: %s set %s to %s", m.Session, m.Identity, r.TargetUUID, status)

	if status != protocol.StatusRejected {
		h.obs.Decision(observability.DecisionResultApproved)
		return
	}
	h.obs.Decision(observability.DecisionResultRejected)

	// Revocation takes effect in this pass: every live connection holding the
	// identity in this session is removed and closed.
	for _, victim := range h.reg.ByIdentity(m.Session, r.TargetUUID) {
		if vc := h.conn(victim.ConnID); vc != nil {
			h.obs.Disconnect(observability.KickReasonRejected)
			vc.Kick(observability.KickReasonRejected)
		}
		h.leaveLocked(victim.ConnID, m.Session)
	}
}

func (h *Hub) relayed(kind observability.RelayKind, n int) {
	if n == 0 {
		h.obs.Relay(kind, observability.RelayResultNoRecipients, 0)
		return
	}
	h.obs.Relay(kind, observability.RelayResultDelivered, n)
}
