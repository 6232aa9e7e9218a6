package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/floegence/snaprelay/observability"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/relay/ratelimit"
)

const testSession = "abc12345"

type fakeConn struct {
	id     string
	remote string

	mu     sync.Mutex
	events []protocol.Event
	kicks  []observability.KickReason
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, remote: "ip-" + id}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) RemoteKey() string { return c.remote }

func (c *fakeConn) Send(ev protocol.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Kick(reason observability.KickReason) {
	c.mu.Lock()
	c.kicks = append(c.kicks, reason)
	c.mu.Unlock()
}

// take returns and clears the recorded events.
func (c *fakeConn) take() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

func (c *fakeConn) kicked() []observability.KickReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]observability.KickReason(nil), c.kicks...)
}

func ofType(evs []protocol.Event, typ string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func hasStatus(evs []protocol.Event, identity string, st protocol.Status) bool {
	for _, ev := range ofType(evs, protocol.TypePeerStatus) {
		if ps := ev.Data.(protocol.PeerStatus); ps.ClientUUID == identity && ps.Status == st {
			return true
		}
	}
	return false
}

type testEnv struct {
	t   *testing.T
	hub *Hub
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return &testEnv{t: t, hub: New(cfg)}
}

func (e *testEnv) join(id string, identity string, session string, role protocol.Role) *fakeConn {
	e.t.Helper()
	c := newFakeConn(id)
	e.hub.Connect(c)
	e.hub.Handle(c, &protocol.JoinRequest{SessionID: session, Role: role, DeviceName: id, ClientUUID: identity})
	return c
}

func (e *testEnv) rejoin(c *fakeConn, identity string, session string) {
	e.hub.Handle(c, &protocol.JoinRequest{SessionID: session, Role: protocol.RoleViewer, ClientUUID: identity})
}

func photo() *protocol.PhotoRequest {
	return &protocol.PhotoRequest{SessionID: testSession, IV: "AAAAAAAAAAAAAAAA", Ciphertext: "Zm9vYmFyYmF6cXV4cXV1eA", MIME: "image/jpeg"}
}

func TestScenario_ApproveThenRelay(t *testing.T) {
	e := newTestEnv(t, Config{})

	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	evs := a.take()
	joined := ofType(evs, protocol.TypeSessionJoined)
	if len(joined) != 1 || joined[0].Data.(protocol.SessionJoined).Status != protocol.StatusApproved {
		t.Fatalf("first joiner not approved: %+v", evs)
	}

	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	bEvs := b.take()
	if got := ofType(bEvs, protocol.TypeSessionJoined)[0].Data.(protocol.SessionJoined).Status; got != protocol.StatusPending {
		t.Fatalf("second joiner status = %q, want pending", got)
	}
	if !hasStatus(bEvs, "device-a", protocol.StatusApproved) {
		t.Fatalf("joiner did not learn existing statuses: %+v", bEvs)
	}
	if pj := ofType(bEvs, protocol.TypePeerJoined); len(pj) != 1 || pj[0].Data.(protocol.PeerInfo).ClientID != "conn-a" {
		t.Fatalf("joiner did not learn existing members: %+v", pj)
	}
	aEvs := a.take()
	if !hasStatus(aEvs, "device-b", protocol.StatusPending) {
		t.Fatalf("owner not told about pending peer: %+v", aEvs)
	}
	if pj := ofType(aEvs, protocol.TypePeerJoined); len(pj) != 1 || pj[0].Data.(protocol.PeerInfo).ClientUUID != "device-b" {
		t.Fatalf("owner not told about new member: %+v", pj)
	}

	e.hub.Handle(a, &protocol.DecisionRequest{TargetUUID: "device-b", Decision: protocol.DecisionApprove})
	if !hasStatus(a.take(), "device-b", protocol.StatusApproved) {
		t.Fatalf("owner missing approved status")
	}
	if !hasStatus(b.take(), "device-b", protocol.StatusApproved) {
		t.Fatalf("peer missing approved status")
	}

	e.hub.Handle(b, photo())
	photos := ofType(a.take(), protocol.TypePhoto)
	if len(photos) != 1 {
		t.Fatalf("expected one photo, got %d", len(photos))
	}
	p := photos[0].Data.(protocol.Photo)
	if p.SenderUUID != "device-b" || p.IV != "AAAAAAAAAAAAAAAA" || p.MIME != "image/jpeg" {
		t.Fatalf("unexpected photo payload: %+v", p)
	}
	if got := ofType(b.take(), protocol.TypePhoto); len(got) != 0 {
		t.Fatalf("sender received its own photo")
	}
}

func TestPendingCannotRelay(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	a.take()
	b.take()

	e.hub.Handle(b, photo())
	e.hub.Handle(b, &protocol.OfferRequest{Offer: protocol.OfferBody{Session: "other-session"}})
	e.hub.Handle(b, &protocol.DecisionRequest{TargetUUID: "device-a", Decision: protocol.DecisionReject})

	if evs := a.take(); len(evs) != 0 {
		t.Fatalf("pending peer reached the owner: %+v", evs)
	}
	if k := b.kicked(); len(k) != 0 {
		t.Fatalf("authorization failure must not disconnect, got %v", k)
	}
	if st, _ := e.hub.appr.Status(testSession, "device-a"); st != protocol.StatusApproved {
		t.Fatalf("pending actor changed owner status to %q", st)
	}
}

func TestPhotoFromOutsideDeclaredSessionDropped(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-a2", testSession, protocol.RoleViewer)
	e.hub.Handle(a, &protocol.DecisionRequest{TargetUUID: "device-a2", Decision: protocol.DecisionApprove})
	b.take()

	p := photo()
	p.SessionID = "different1"
	e.hub.Handle(a, p)
	if got := ofType(b.take(), protocol.TypePhoto); len(got) != 0 {
		t.Fatalf("photo with mismatched session delivered")
	}

	stranger := newFakeConn("conn-x")
	e.hub.Connect(stranger)
	e.hub.Handle(stranger, photo())
	if got := ofType(b.take(), protocol.TypePhoto); len(got) != 0 {
		t.Fatalf("photo from non-member delivered")
	}
}

func TestPhotoSkipsPendingRecipients(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	b.take()

	e.hub.Handle(a, photo())
	if got := ofType(b.take(), protocol.TypePhoto); len(got) != 0 {
		t.Fatalf("pending recipient received a photo")
	}
}

func TestRejectRevokesAllConnectionsImmediately(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b1 := e.join("conn-b1", "device-b", testSession, protocol.RoleViewer)
	b2 := e.join("conn-b2", "device-b", testSession, protocol.RoleViewer)
	elsewhere := e.join("conn-b3", "device-b", "other-session", protocol.RoleViewer)
	e.hub.Handle(a, &protocol.DecisionRequest{TargetUUID: "device-b", Decision: protocol.DecisionApprove})
	a.take()

	e.hub.Handle(a, &protocol.DecisionRequest{TargetUUID: "device-b", Decision: protocol.DecisionReject})

	for _, c := range []*fakeConn{b1, b2} {
		if k := c.kicked(); len(k) != 1 || k[0] != observability.KickReasonRejected {
			t.Fatalf("%s kicks = %v, want [rejected]", c.id, k)
		}
		if _, ok := e.hub.reg.Lookup(c.id); ok {
			t.Fatalf("%s still registered after revocation", c.id)
		}
	}
	if k := elsewhere.kicked(); len(k) != 0 {
		t.Fatalf("connection in another session was kicked: %v", k)
	}
	evs := a.take()
	if !hasStatus(evs, "device-b", protocol.StatusRejected) {
		t.Fatalf("owner missing rejected status")
	}
	if left := ofType(evs, protocol.TypePeerLeft); len(left) != 2 {
		t.Fatalf("expected 2 peer-left events, got %d", len(left))
	}

	// The transport reports the close later; no duplicate notifications.
	e.hub.Disconnect(b1)
	e.hub.Disconnect(b2)
	if left := ofType(a.take(), protocol.TypePeerLeft); len(left) != 0 {
		t.Fatalf("duplicate peer-left after revocation")
	}

	// A rejected identity rejoining stays rejected and gains nothing.
	b4 := e.join("conn-b4", "device-b", testSession, protocol.RoleViewer)
	if got := ofType(b4.take(), protocol.TypeSessionJoined)[0].Data.(protocol.SessionJoined).Status; got != protocol.StatusRejected {
		t.Fatalf("rejoin status = %q, want rejected", got)
	}
	e.hub.Handle(b4, photo())
	if got := ofType(a.take(), protocol.TypePhoto); len(got) != 0 {
		t.Fatalf("rejected identity relayed a photo")
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestPhotoRateLimitKicks(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	lim := ratelimit.NewSet(ratelimit.Limits{
		Join:  ratelimit.Window{Limit: 10, Window: time.Minute},
		Photo: ratelimit.Window{Limit: 2, Window: time.Minute},
		Offer: ratelimit.Window{Limit: 10, Window: time.Minute},
	}, ratelimit.WithClock(clk.Now))
	e := newTestEnv(t, Config{Limits: lim})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	e.hub.Handle(a, &protocol.DecisionRequest{TargetUUID: "device-b", Decision: protocol.DecisionApprove})
	b.take()

	e.hub.Handle(a, photo())
	e.hub.Handle(a, photo())
	if got := len(ofType(b.take(), protocol.TypePhoto)); got != 2 {
		t.Fatalf("expected 2 photos within limit, got %d", got)
	}
	if k := a.kicked(); len(k) != 0 {
		t.Fatalf("kicked within limit: %v", k)
	}

	e.hub.Handle(a, photo())
	if k := a.kicked(); len(k) != 1 || k[0] != observability.KickReasonRateLimited {
		t.Fatalf("kicks = %v, want [rate_limited]", k)
	}
	evs := b.take()
	if len(ofType(evs, protocol.TypePhoto)) != 0 {
		t.Fatalf("over-limit photo was delivered")
	}
	if len(ofType(evs, protocol.TypePeerLeft)) != 1 {
		t.Fatalf("expected peer-left for the kicked sender")
	}
}

func TestJoinRateLimitKicks(t *testing.T) {
	lim := ratelimit.NewSet(ratelimit.Limits{Join: ratelimit.Window{Limit: 1, Window: time.Minute}})
	e := newTestEnv(t, Config{Limits: lim})
	c := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	e.rejoin(c, "device-a", testSession)
	if k := c.kicked(); len(k) != 1 || k[0] != observability.KickReasonRateLimited {
		t.Fatalf("kicks = %v, want [rate_limited]", k)
	}
}

func TestInvalidMessageKicks(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	b.take()

	e.hub.Handle(a, &protocol.InvalidMessage{Type: protocol.TypePhoto, Err: protocol.ErrInvalidIV})
	if k := a.kicked(); len(k) != 1 || k[0] != observability.KickReasonInvalidMessage {
		t.Fatalf("kicks = %v, want [invalid_message]", k)
	}
	if left := ofType(b.take(), protocol.TypePeerLeft); len(left) != 1 {
		t.Fatalf("expected peer-left after kick")
	}
}

func TestRejoinLeavesPreviousSession(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	a.take()

	e.rejoin(b, "device-b", "second-session")
	left := ofType(a.take(), protocol.TypePeerLeft)
	if len(left) != 1 || left[0].Data.(protocol.PeerInfo).ClientID != "conn-b" {
		t.Fatalf("expected peer-left for conn-b, got %+v", left)
	}
	m, ok := e.hub.reg.Lookup("conn-b")
	if !ok || m.Session != "second-session" {
		t.Fatalf("conn-b membership = %+v, %v", m, ok)
	}
	if got := ofType(b.take(), protocol.TypeSessionJoined); got[len(got)-1].Data.(protocol.SessionJoined).Status != protocol.StatusApproved {
		t.Fatalf("first joiner of second session not approved")
	}
}

func TestOfferRouting(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	a2 := e.join("conn-a2", "device-a2", testSession, protocol.RoleViewer)
	x1 := e.join("conn-x1", "device-x", "other-session", protocol.RoleViewer)
	x2 := e.join("conn-x2", "device-x", "third-session", protocol.RoleViewer)
	for _, c := range []*fakeConn{a, a2, x1, x2} {
		c.take()
	}

	offer := protocol.OfferBody{Session: testSession, Seed: "c2VlZHNlZWRzZWVk"}
	e.hub.Handle(a, &protocol.OfferRequest{SessionID: testSession, Offer: offer, TargetUUID: "device-x"})
	for _, c := range []*fakeConn{x1, x2} {
		got := ofType(c.take(), protocol.TypeSessionOffer)
		if len(got) != 1 {
			t.Fatalf("%s got %d offers, want 1", c.id, len(got))
		}
		so := got[0].Data.(protocol.SessionOffer)
		if so.FromUUID != "device-a" || so.FromRole != protocol.RoleCapture || so.Seed != offer.Seed || so.FromDevice != "conn-a" {
			t.Fatalf("unexpected offer payload: %+v", so)
		}
	}
	if got := ofType(a2.take(), protocol.TypeSessionOffer); len(got) != 0 {
		t.Fatalf("targeted offer leaked to session member")
	}

	e.hub.Handle(a, &protocol.OfferRequest{Offer: offer, Target: "other-session"})
	if got := ofType(x1.take(), protocol.TypeSessionOffer); len(got) != 1 {
		t.Fatalf("session-targeted offer not delivered")
	}
	if got := ofType(x2.take(), protocol.TypeSessionOffer); len(got) != 0 {
		t.Fatalf("session-targeted offer reached another session")
	}

	e.hub.Handle(a, &protocol.OfferRequest{Offer: protocol.OfferBody{JoinRequest: true}})
	if got := ofType(a2.take(), protocol.TypeSessionOffer); len(got) != 1 {
		t.Fatalf("default-target offer not delivered to own session")
	}
	if got := ofType(a.take(), protocol.TypeSessionOffer); len(got) != 0 {
		t.Fatalf("sender received its own offer")
	}

	// Spoofed origin session is dropped.
	e.hub.Handle(a, &protocol.OfferRequest{SessionID: "other-session", Offer: offer, Target: "other-session"})
	if got := ofType(x1.take(), protocol.TypeSessionOffer); len(got) != 0 {
		t.Fatalf("offer with spoofed origin delivered")
	}
}

func TestIdleSessionKeepsApprovalUntilTTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEnv(t, Config{SessionIdleTTL: 10 * time.Minute, Now: clk.Now})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	e.hub.Disconnect(a)

	clk.Advance(5 * time.Minute)
	e.hub.Sweep(clk.Now())
	b := e.join("conn-b", "device-b", testSession, protocol.RoleViewer)
	if got := ofType(b.take(), protocol.TypeSessionJoined)[0].Data.(protocol.SessionJoined).Status; got != protocol.StatusPending {
		t.Fatalf("status = %q, want pending while owner state is retained", got)
	}
	e.hub.Disconnect(b)

	clk.Advance(10 * time.Minute)
	e.hub.Sweep(clk.Now())
	c := e.join("conn-c", "device-c", testSession, protocol.RoleViewer)
	if got := ofType(c.take(), protocol.TypeSessionJoined)[0].Data.(protocol.SessionJoined).Status; got != protocol.StatusApproved {
		t.Fatalf("status = %q, want approved after the session expired", got)
	}
}

func TestZeroIdleTTLForgetsImmediately(t *testing.T) {
	e := newTestEnv(t, Config{})
	a := e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	e.hub.Disconnect(a)
	if got := e.hub.appr.Sessions(); len(got) != 0 {
		t.Fatalf("approval state retained: %v", got)
	}
}

func TestMaxSessions(t *testing.T) {
	e := newTestEnv(t, Config{MaxSessions: 1})
	e.join("conn-a", "device-a", testSession, protocol.RoleCapture)
	b := e.join("conn-b", "device-b", "other-session", protocol.RoleCapture)
	if k := b.kicked(); len(k) != 1 || k[0] != observability.KickReasonTooManySessions {
		t.Fatalf("kicks = %v, want [too_many_sessions]", k)
	}
	c := e.join("conn-c", "device-c", testSession, protocol.RoleViewer)
	if k := c.kicked(); len(k) != 0 {
		t.Fatalf("joining an existing session was refused: %v", k)
	}
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	e := newTestEnv(t, Config{Limits: ratelimit.NewSet(ratelimit.Limits{})})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := "session-" + string(rune('a'+i)) + "xyz"
			owner := newFakeConn(session + "-owner")
			e.hub.Connect(owner)
			e.hub.Handle(owner, &protocol.JoinRequest{SessionID: session, Role: protocol.RoleCapture, ClientUUID: "owner-" + session})
			for j := 0; j < 20; j++ {
				e.hub.Handle(owner, photo())
			}
			e.hub.Disconnect(owner)
		}(i)
	}
	wg.Wait()
	if n := e.hub.SessionCount(); n != 0 {
		t.Fatalf("session count = %d after all members left", n)
	}
}
