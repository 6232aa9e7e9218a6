package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/floegence/snaprelay/client"
	"github.com/floegence/snaprelay/internal/cmdutil"
	"github.com/floegence/snaprelay/pairing"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"
)

func initCmd(g *globals) *cobra.Command {
	var (
		name      string
		role      string
		session   string
		noSession bool
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a device identity with a fresh session and seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := protocol.ParseRole(role)
			if !ok {
				return cmdutil.Usagef("invalid --role %q (capture or viewer)", role)
			}
			if err := cmdutil.RefuseOverwrite(g.statePath, overwrite); err != nil {
				return err
			}
			st := deviceState{
				Identity:   pairing.NewPeerIdentity(),
				Role:       r,
				DeviceName: protocol.CleanDeviceName(name),
			}
			switch {
			case noSession && session != "":
				return cmdutil.Usagef("--session and --no-session are mutually exclusive")
			case noSession:
			default:
				if session == "" {
					tok, err := pairing.NewSessionToken()
					if err != nil {
						return err
					}
					session = tok
				} else if !protocol.ValidSessionToken(session) {
					return cmdutil.Usagef("invalid --session %q", session)
				}
				seed, err := pairing.NewSeed()
				if err != nil {
					return err
				}
				st.Session, st.Seed = session, seed
			}
			if err := saveState(g.statePath, st); err != nil {
				return err
			}
			fmt.Fprintf(g.stdout, "identity %s\nsession %s\nstate %s\n", st.Identity, st.Session, g.statePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device display name")
	cmd.Flags().StringVar(&role, "role", string(protocol.RoleViewer), "device role: capture or viewer")
	cmd.Flags().StringVar(&session, "session", "", "use this session token instead of a new one")
	cmd.Flags().BoolVar(&noSession, "no-session", false, "create only the identity; join later with scan")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing state file")
	return cmd
}

func locatorCmd(g *globals) *cobra.Command {
	var (
		base   string
		noSeed bool
		qr     bool
	)
	cmd := &cobra.Command{
		Use:   "locator",
		Short: "Print the pairing locator for this device's session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadState(g.statePath)
			if err != nil {
				return err
			}
			if st.Session == "" {
				return cmdutil.Usagef("device has no session")
			}
			if base == "" {
				base = locatorBase(g.relayURL)
			}
			l := st.locator()
			if noSeed {
				l.Seed = ""
			}
			s, err := pairing.BuildLocator(base, l)
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, s)
			if qr {
				qrterminal.GenerateWithConfig(s, qrterminal.Config{
					Level:      qrterminal.L,
					Writer:     g.stdout,
					HalfBlocks: true,
					QuietZone:  1,
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "locator base URL (default: derived from --relay)")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "omit the seed; the peer must obtain it separately")
	cmd.Flags().BoolVar(&qr, "qr", false, "also render the locator as a terminal QR code")
	return cmd
}

// locatorBase turns a relay websocket URL into the http(s) page URL used as
// the locator base. An unusable relay URL yields a bare query locator.
func locatorBase(relayURL string) string {
	u, err := url.Parse(relayURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func scanCmd(g *globals) *cobra.Command {
	var switchSession bool
	cmd := &cobra.Command{
		Use:   "scan <locator>",
		Short: "Adopt a scanned locator, or offer this device's session to its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadState(g.statePath)
			if err != nil {
				return err
			}
			scanned, err := pairing.ParseLocator(args[0])
			if err != nil {
				return cmdutil.Usagef("invalid locator: %v", err)
			}
			cur := st.membership()
			if switchSession {
				cur = pairing.Membership{}
			}
			step, err := pairing.Plan(cur, scanned)
			if err != nil {
				return err
			}
			switch step.Action {
			case pairing.ActionAdopt:
				st.Session = step.Join.Session
				st.Seed = step.Join.Seed
				if err := saveState(g.statePath, st); err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "adopted session %s\n", st.Session)
				if st.Seed == "" {
					fmt.Fprintln(g.stdout, "warning: no seed; photos cannot be encrypted until one is set")
				}
				return nil
			default:
				ctx, cancel := g.context()
				defer cancel()
				c, _, err := g.connect(ctx, st)
				if err != nil {
					return err
				}
				defer c.Close()
				if err := c.SendOffer(ctx, step.Offer); err != nil {
					return relayErr(err)
				}
				target := step.Offer.TargetUUID
				if target == "" {
					target = "session " + step.Offer.Target
				}
				fmt.Fprintf(g.stdout, "offered session %s to %s\n", st.Session, target)
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&switchSession, "switch", false, "leave the current session and adopt the scanned one")
	return cmd
}

func sendCmd(g *globals) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Encrypt an image locally and relay it to the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadState(g.statePath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}
			if !protocol.ValidMIME(mimeType) {
				return cmdutil.Usagef("%s is not an image (%s); use --mime to override", args[0], mimeType)
			}

			ctx, cancel := g.context()
			defer cancel()
			c, ack, err := g.connect(ctx, st)
			if err != nil {
				return err
			}
			defer c.Close()
			if ack.Status != protocol.StatusApproved {
				fmt.Fprintln(g.stderr, "waiting for an approved peer to approve this device...")
			}
			if err := waitApproved(ctx, c, st.Identity, ack.Status); err != nil {
				return err
			}
			if err := c.SendPhoto(ctx, data, mimeType); err != nil {
				return relayErr(err)
			}
			fmt.Fprintf(g.stdout, "sent %d bytes (%s, key %s)\n", len(data), mimeType, c.KeyFingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "image MIME type (default: detected)")
	return cmd
}

const (
	offerIgnore  = "ignore"
	offerAccept  = "accept"
	offerDecline = "decline"
)

func recvCmd(g *globals) *cobra.Command {
	var (
		outDir  string
		count   int
		approve bool
		onOffer string
	)
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Receive and decrypt photos until interrupted",
		Long:  "Receive and decrypt photos until interrupted. --timeout bounds only the connect and join.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch onOffer {
			case offerIgnore, offerAccept, offerDecline:
			default:
				return cmdutil.Usagef("invalid --on-offer %q (ignore, accept, or decline)", onOffer)
			}
			st, err := loadState(g.statePath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return err
			}

			joinCtx, cancelJoin := g.context()
			c, ack, err := g.connect(joinCtx, st)
			cancelJoin()
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintf(g.stdout, "joined %s as %s (%s)\n", ack.SessionID, st.Identity, ack.Status)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			r := &receiver{g: g, c: c, st: st, outDir: outDir, approve: approve, onOffer: onOffer}
			return r.loop(ctx, count)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for decrypted photos")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many decrypted photos (0 = no limit)")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve every pending peer automatically")
	cmd.Flags().StringVar(&onOffer, "on-offer", offerIgnore, "incoming session offers: ignore, accept, or decline")
	return cmd
}

type receiver struct {
	g       *globals
	c       *client.Client
	st      deviceState
	outDir  string
	approve bool
	onOffer string
	saved   int
}

func (r *receiver) loop(ctx context.Context, count int) error {
	for {
		select {
		case ev, ok := <-r.c.Events():
			if !ok {
				return closedErr(r.c)
			}
			if err := r.handle(ctx, ev); err != nil {
				return err
			}
			if count > 0 && r.saved >= count {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *receiver) handle(ctx context.Context, ev client.Event) error {
	out := r.g.stdout
	switch {
	case ev.Peer != nil:
		fmt.Fprintf(out, "%s %s %s %q\n", ev.Type, ev.Peer.ClientUUID, ev.Peer.Role, ev.Peer.DeviceName)
	case ev.Status != nil:
		fmt.Fprintf(out, "status %s %s\n", ev.Status.ClientUUID, ev.Status.Status)
		if r.approve && ev.Status.Status == protocol.StatusPending && ev.Status.ClientUUID != r.st.Identity {
			if err := r.c.Decide(ctx, ev.Status.ClientUUID, protocol.DecisionApprove); err != nil {
				return relayErr(err)
			}
		}
	case ev.Photo != nil:
		p := ev.Photo
		if p.Status != client.StatusDecryptOK {
			fmt.Fprintf(out, "photo %s %s\n", p.SenderUUID, p.Status)
			return nil
		}
		r.saved++
		path := filepath.Join(r.outDir, photoName(p.SenderUUID, r.saved, p.MIME))
		if err := os.WriteFile(path, p.Data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(out, "photo %s %s %s\n", p.SenderUUID, p.MIME, path)
	case ev.Offer != nil:
		o := *ev.Offer
		fmt.Fprintf(out, "offer from %s %q: session %s\n", o.FromUUID, o.FromDevice, o.Session)
		switch r.onOffer {
		case offerAccept:
			ack, err := r.c.AcceptOffer(ctx, o)
			if err != nil {
				return relayErr(err)
			}
			r.st.Session = ack.SessionID
			if o.Seed != "" {
				r.st.Seed = o.Seed
			}
			if err := saveState(r.g.statePath, r.st); err != nil {
				return err
			}
			fmt.Fprintf(out, "switched to %s (%s)\n", ack.SessionID, ack.Status)
		case offerDecline:
			if err := r.c.DeclineOffer(ctx, o); err != nil {
				return relayErr(err)
			}
			fmt.Fprintln(out, "declined")
		}
	}
	return nil
}

func photoName(sender string, n int, mime string) string {
	if len(sender) > 8 {
		sender = sender[:8]
	}
	return fmt.Sprintf("%s-%04d%s", sender, n, photoExt(mime))
}

func photoExt(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".img"
	}
}

func decideCmd(g *globals, verb string) *cobra.Command {
	decision := protocol.DecisionApprove
	short := "Approve a pending peer identity in this device's session"
	if verb == "reject" {
		decision = protocol.DecisionReject
		short = "Reject a peer identity and disconnect it from this device's session"
	}
	return &cobra.Command{
		Use:   verb + " <identity>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(args[0])
			if !protocol.ValidIdentity(target) {
				return cmdutil.Usagef("invalid identity %q", target)
			}
			st, err := loadState(g.statePath)
			if err != nil {
				return err
			}
			ctx, cancel := g.context()
			defer cancel()
			c, ack, err := g.connect(ctx, st)
			if err != nil {
				return err
			}
			defer c.Close()
			if ack.Status != protocol.StatusApproved {
				return fmt.Errorf("this device is %s in %s; only approved peers can decide", ack.Status, ack.SessionID)
			}
			if err := c.Decide(ctx, target, decision); err != nil {
				return relayErr(err)
			}
			fmt.Fprintf(g.stdout, "%s %s\n", decision, target)
			return nil
		},
	}
}
