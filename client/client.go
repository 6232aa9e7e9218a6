package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/floegence/snaprelay/crypto/envelope"
	"github.com/floegence/snaprelay/pairing"
	"github.com/floegence/snaprelay/realtime/ws"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/srerrors"
	"github.com/gorilla/websocket"
	gologging "gopkg.in/op/go-logging.v1"
)

// Client is one device's connection to a relay.
//
// Photos are encrypted before they leave the client and decrypted after they
// arrive; the relay only ever sees envelopes. The key lives in memory and is
// derived again whenever the seed or the session changes.
type Client struct {
	ws   *ws.Conn
	opts options
	log  *gologging.Logger

	ctx    context.Context // Cancelled by Close; unblocks the read loop.
	cancel context.CancelFunc

	writeMu sync.Mutex // gorilla allows one concurrent writer.

	mu         sync.Mutex
	join       JoinParams                  // Last requested join; Seed is not kept here.
	joined     bool                        // True once the relay acknowledged join.
	clientID   string                      // Connection ID assigned by the relay.
	status     protocol.Status             // Own approval status.
	seed       string                      // Seed applied to the current session.
	key        *envelope.Key               // Derived from seed and session.
	local      Status                      // Last local pipeline status.
	joinWait   chan protocol.SessionJoined // Pending Join waiting for its ack.
	readErr    error                       // Why the read loop stopped.
	closedByUs bool

	events    chan Event
	done      chan struct{} // Closed when the read loop exits.
	closeOnce sync.Once
}

func newClient(c *ws.Conn, cfg options) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		ws:     c,
		opts:   cfg,
		log:    cfg.logger,
		ctx:    ctx,
		cancel: cancel,
		local:  StatusMissingSeed,
		events: make(chan Event, cfg.eventBuffer),
		done:   make(chan struct{}),
	}
	go cl.readLoop()
	return cl
}

// Events returns inbound relay events. The channel is closed when the
// connection ends; Err then reports why.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection ended, or nil while it is live or
// after a local Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedByUs || c.readErr == nil {
		return nil
	}
	if code, ok := srerrors.ClassifyCloseCode(c.readErr); ok {
		return srerrors.Wrap(StageReceive, code, c.readErr)
	}
	return srerrors.Wrap(StageReceive, CodeNotConnected, c.readErr)
}

// ClientID returns the connection ID assigned by the relay at the last join.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Session returns the current session token, or "" before the first join.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.join.Session
}

// ApprovalStatus returns this device's approval status in its session.
func (c *Client) ApprovalStatus() protocol.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LocalStatus returns the last status of the local encryption pipeline.
func (c *Client) LocalStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// KeyFingerprint returns a short identifier of the current key, or "".
func (c *Client) KeyFingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key.Fingerprint()
}

// Join joins (or switches to) a session and waits for the relay's ack.
//
// A seed in p replaces the current one. Without a seed the key survives only
// if the session does not change.
func (c *Client) Join(ctx context.Context, p JoinParams) (protocol.SessionJoined, error) {
	role, ok := protocol.ParseRole(string(p.Role))
	if !ok || !protocol.ValidSessionToken(p.Session) || !protocol.ValidIdentity(p.Identity) {
		return protocol.SessionJoined{}, srerrors.Wrap(StageValidate, CodeInvalidInput, ErrInvalidJoin)
	}
	if p.Seed != "" && !protocol.ValidSeed(p.Seed) {
		return protocol.SessionJoined{}, srerrors.Wrap(StageValidate, CodeInvalidInput, ErrInvalidJoin)
	}
	p.Role = role
	p.DeviceName = protocol.CleanDeviceName(p.DeviceName)

	wait := make(chan protocol.SessionJoined, 1)
	c.mu.Lock()
	if c.join.Session != "" && c.join.Session != p.Session {
		c.key = nil
		c.seed = ""
		c.local = StatusMissingSeed
	}
	seed := p.Seed
	if seed == "" {
		seed = c.seed
	}
	p.Seed = ""
	c.join = p
	c.joined = false
	c.status = ""
	if c.joinWait != nil {
		close(c.joinWait)
	}
	c.joinWait = wait
	if seed != "" {
		_, _ = c.applySeedLocked(seed)
	}
	c.mu.Unlock()

	if err := c.write(ctx, StageJoin, protocol.JoinSessionEvent(protocol.JoinRequest{
		SessionID:  p.Session,
		Role:       p.Role,
		DeviceName: p.DeviceName,
		ClientUUID: p.Identity,
	})); err != nil {
		return protocol.SessionJoined{}, err
	}

	waitCtx, cancel := withTimeout(ctx, c.opts.joinTimeout)
	defer cancel()
	select {
	case ack, ok := <-wait:
		if !ok {
			return protocol.SessionJoined{}, srerrors.Wrap(StageJoin, CodeJoinFailed, ErrJoinSuperseded)
		}
		return ack, nil
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrNotConnected
		}
		return protocol.SessionJoined{}, srerrors.Wrap(StageJoin, srerrors.ClassifyJoinCode(err), err)
	case <-waitCtx.Done():
		err := waitCtx.Err()
		return protocol.SessionJoined{}, srerrors.Wrap(StageJoin, srerrors.ClassifyJoinCode(err), err)
	}
}

// ApplySeed sets the seed for the current session and derives the key.
//
// Before the first join the seed is remembered and the key is derived on join.
func (c *Client) ApplySeed(seed string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seed == "" {
		c.local = StatusMissingSeed
		return c.local, srerrors.Wrap(StageKey, CodeMissingSeed, envelope.ErrMissingSeed)
	}
	if !protocol.ValidSeed(seed) {
		return c.local, srerrors.Wrap(StageKey, CodeInvalidInput, pairing.ErrInvalidSeed)
	}
	return c.applySeedLocked(seed)
}

func (c *Client) applySeedLocked(seed string) (Status, error) {
	c.seed = seed
	if c.join.Session == "" {
		c.key = nil
		c.local = StatusNoKey
		return c.local, nil
	}
	key, err := envelope.DeriveKey(seed, c.join.Session)
	if err != nil {
		c.key = nil
		c.local = StatusNoKey
		return c.local, srerrors.Wrap(StageKey, srerrors.ClassifyEnvelopeCode(err), err)
	}
	c.key = key
	c.local = StatusKeyReady
	return c.local, nil
}

// SendPhoto encrypts plaintext and relays it to the session.
//
// Without a key the photo is refused locally; it is never sent in the clear.
func (c *Client) SendPhoto(ctx context.Context, plaintext []byte, mime string) error {
	if mime != "" && !protocol.ValidMIME(mime) {
		return srerrors.Wrap(StageValidate, CodeInvalidInput, protocol.ErrInvalidMIME)
	}
	c.mu.Lock()
	session, joined, key := c.join.Session, c.joined, c.key
	if !joined {
		c.mu.Unlock()
		return srerrors.Wrap(StageSend, CodeNotJoined, ErrNotJoined)
	}
	if key == nil {
		c.local = StatusNoKey
		c.mu.Unlock()
		return srerrors.Wrap(StageSend, CodeMissingKey, envelope.ErrMissingKey)
	}
	c.mu.Unlock()

	env, err := envelope.Encrypt(plaintext, mime, key)
	if err != nil {
		return srerrors.Wrap(StageSend, CodeEncryptFailed, err)
	}
	if len(env.Ciphertext) > protocol.DefaultLimits().MaxCiphertextChars {
		return srerrors.Wrap(StageValidate, CodeInvalidInput, protocol.ErrInvalidCiphertext)
	}
	if err := c.write(ctx, StageSend, protocol.PhotoUploadEvent(protocol.PhotoRequest{
		SessionID:  session,
		IV:         env.IV,
		Ciphertext: env.Ciphertext,
		MIME:       env.MIME,
	})); err != nil {
		return err
	}
	c.mu.Lock()
	c.local = StatusSentEncrypted
	c.mu.Unlock()
	return nil
}

// SendOffer relays an offer. An empty SessionID defaults to the current session.
func (c *Client) SendOffer(ctx context.Context, req protocol.OfferRequest) error {
	c.mu.Lock()
	session, joined := c.join.Session, c.joined
	c.mu.Unlock()
	if !joined {
		return srerrors.Wrap(StageSend, CodeNotJoined, ErrNotJoined)
	}
	if req.SessionID == "" {
		req.SessionID = session
	}
	return c.write(ctx, StageSend, protocol.OfferUploadEvent(req))
}

// Decide sends an approval decision about target. The relay ignores it
// unless this device is approved.
func (c *Client) Decide(ctx context.Context, target string, d protocol.Decision) error {
	if !protocol.ValidIdentity(target) {
		return srerrors.Wrap(StageValidate, CodeInvalidInput, protocol.ErrInvalidTarget)
	}
	if _, ok := protocol.ParseDecision(string(d)); !ok {
		return srerrors.Wrap(StageValidate, CodeInvalidInput, protocol.ErrInvalidDecision)
	}
	return c.write(ctx, StageSend, protocol.PeerDecisionEvent(protocol.DecisionRequest{TargetUUID: target, Decision: d}))
}

// AcceptOffer switches to the offered session, keeping role, name and identity.
func (c *Client) AcceptOffer(ctx context.Context, offer protocol.SessionOffer) (protocol.SessionJoined, error) {
	l, err := pairing.AcceptOffer(offer)
	if err != nil {
		return protocol.SessionJoined{}, srerrors.Wrap(StageValidate, CodeInvalidInput, err)
	}
	c.mu.Lock()
	p := c.join
	c.mu.Unlock()
	p.Session = l.Session
	p.Seed = l.Seed
	return c.Join(ctx, p)
}

// DeclineOffer rejects the offering identity when it is known; otherwise the
// offer is simply dropped.
func (c *Client) DeclineOffer(ctx context.Context, offer protocol.SessionOffer) error {
	d, ok := pairing.DeclineDecision(offer)
	if !ok {
		return nil
	}
	return c.write(ctx, StageSend, protocol.PeerDecisionEvent(d))
}

// Close ends the connection with a normal closure.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closedByUs = true
		c.mu.Unlock()
		c.writeMu.Lock()
		err = c.ws.CloseWithStatus(websocket.CloseNormalClosure, "")
		c.writeMu.Unlock()
		c.cancel()
		<-c.done
	})
	return err
}

func (c *Client) write(ctx context.Context, stage Stage, ev protocol.Event) error {
	select {
	case <-c.done:
		return srerrors.Wrap(stage, CodeNotConnected, ErrNotConnected)
	default:
	}
	b, err := protocol.Encode(ev)
	if err != nil {
		return srerrors.Wrap(StageValidate, CodeInvalidInput, err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(ctx, websocket.TextMessage, b); err != nil {
		return srerrors.Wrap(stage, srerrors.ClassifySendCode(err), err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		mt, b, err := c.ws.ReadMessage(c.ctx)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.joinWait = nil
			c.mu.Unlock()
			_ = c.ws.Close()
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, ok := c.decode(b)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) decode(b []byte) (Event, bool) {
	f, err := protocol.DecodeFrame(b)
	if err != nil {
		c.log.Debugf("drop frame: %v", err)
		return Event{}, false
	}
	ev := Event{Type: f.Type}
	switch f.Type {
	case protocol.TypeSessionJoined:
		var v protocol.SessionJoined
		if !c.unmarshal(f, &v) {
			return Event{}, false
		}
		c.onJoined(v)
		ev.Joined = &v
	case protocol.TypePeerJoined, protocol.TypePeerLeft:
		var v protocol.PeerInfo
		if !c.unmarshal(f, &v) {
			return Event{}, false
		}
		ev.Peer = &v
	case protocol.TypePeerStatus:
		var v protocol.PeerStatus
		if !c.unmarshal(f, &v) {
			return Event{}, false
		}
		c.mu.Lock()
		if v.ClientUUID == c.join.Identity {
			c.status = v.Status
		}
		c.mu.Unlock()
		ev.Status = &v
	case protocol.TypePhoto:
		var v protocol.Photo
		if !c.unmarshal(f, &v) {
			return Event{}, false
		}
		if v.IV == "" || v.Ciphertext == "" {
			// Plaintext payloads are never shown.
			c.log.Debugf("drop photo without ciphertext from %s", v.SenderUUID)
			return Event{}, false
		}
		ev.Photo = c.openPhoto(v)
	case protocol.TypeSessionOffer:
		var v protocol.SessionOffer
		if !c.unmarshal(f, &v) {
			return Event{}, false
		}
		ev.Offer = &v
	default:
		c.log.Debugf("drop unknown event %q", f.Type)
		return Event{}, false
	}
	return ev, true
}

func (c *Client) unmarshal(f protocol.Frame, v any) bool {
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.log.Debugf("drop %s: %v", f.Type, err)
		return false
	}
	return true
}

func (c *Client) onJoined(v protocol.SessionJoined) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.SessionID != c.join.Session {
		return
	}
	c.joined = true
	c.clientID = v.ClientID
	c.status = v.Status
	if c.joinWait != nil {
		c.joinWait <- v
		c.joinWait = nil
	}
}

func (c *Client) openPhoto(v protocol.Photo) *Photo {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	p := &Photo{SenderUUID: v.SenderUUID, MIME: v.MIME}
	plain, mime, err := envelope.Decrypt(envelope.Envelope{IV: v.IV, Ciphertext: v.Ciphertext, MIME: v.MIME}, key)
	p.Status = srerrors.DecryptStatus(err)
	if err != nil {
		p.Err = srerrors.Wrap(StageDecrypt, srerrors.ClassifyEnvelopeCode(err), err)
		if !errors.Is(err, envelope.ErrMissingKey) {
			c.log.Debugf("photo from %s unreadable: %v", v.SenderUUID, err)
		}
	} else {
		p.Data = plain
		p.MIME = mime
	}
	c.mu.Lock()
	c.local = p.Status
	c.mu.Unlock()
	return p
}
