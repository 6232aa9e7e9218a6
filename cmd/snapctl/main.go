package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/floegence/snaprelay/client"
	"github.com/floegence/snaprelay/internal/cmdutil"
	"github.com/floegence/snaprelay/internal/logging"
	"github.com/floegence/snaprelay/internal/version"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/spf13/cobra"
	gologging "gopkg.in/op/go-logging.v1"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

const envPrefix = "SNAPCTL_"

var errRejected = errors.New("rejected by an approved peer")

// globals are the persistent flags shared by every subcommand.
type globals struct {
	statePath string
	relayURL  string
	origin    string
	timeout   time.Duration
	logLevel  string

	stdout io.Writer
	stderr io.Writer
	log    *gologging.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return cmdutil.ExitCode(err)
	}
	return 0
}

func newRootCmd(stdout io.Writer, stderr io.Writer) *cobra.Command {
	g := &globals{
		statePath: defaultStatePath(),
		timeout:   30 * time.Second,
		logLevel:  "WARNING",
		stdout:    stdout,
		stderr:    stderr,
	}
	env := cmdutil.Env{Prefix: envPrefix}
	env.String("STATE", &g.statePath)
	env.String("RELAY", &g.relayURL)
	env.String("ORIGIN", &g.origin)
	env.String("LOG_LEVEL", &g.logLevel)
	envErr := env.Duration("TIMEOUT", &g.timeout)

	root := &cobra.Command{
		Use:           "snapctl",
		Short:         "Pair devices and relay end-to-end encrypted photos",
		Version:       version.Resolve(buildVersion, buildCommit, buildDate).String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil && !cmd.Flags().Changed("timeout") {
				return envErr
			}
			lvl, err := logging.ParseLevel(g.logLevel)
			if err != nil {
				return cmdutil.Usagef("invalid --log-level: %v", err)
			}
			g.log = logging.NewWriter(g.stderr, lvl).GetLogger("snapctl")
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return cmdutil.Usagef("%v", err)
	})
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("snapctl {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&g.statePath, "state", g.statePath, "device state file (env: SNAPCTL_STATE)")
	pf.StringVar(&g.relayURL, "relay", g.relayURL, "relay websocket URL, e.g. wss://relay.example/ws (env: SNAPCTL_RELAY)")
	pf.StringVar(&g.origin, "origin", g.origin, "Origin header sent to the relay (env: SNAPCTL_ORIGIN)")
	pf.DurationVar(&g.timeout, "timeout", g.timeout, "overall timeout for relay commands (env: SNAPCTL_TIMEOUT)")
	pf.StringVar(&g.logLevel, "log-level", g.logLevel, "log level (env: SNAPCTL_LOG_LEVEL)")

	root.AddCommand(
		initCmd(g),
		locatorCmd(g),
		scanCmd(g),
		sendCmd(g),
		recvCmd(g),
		decideCmd(g, "approve"),
		decideCmd(g, "reject"),
	)
	return root
}

// connect dials the relay and joins the state's session with its seed.
func (g *globals) connect(ctx context.Context, st deviceState) (*client.Client, protocol.SessionJoined, error) {
	var ack protocol.SessionJoined
	if g.relayURL == "" {
		return nil, ack, cmdutil.Usagef("missing --relay")
	}
	if g.origin == "" {
		return nil, ack, cmdutil.Usagef("missing --origin")
	}
	if st.Session == "" {
		return nil, ack, cmdutil.Usagef("device has no session (run snapctl init or scan)")
	}
	c, err := client.Dial(ctx, g.relayURL, g.origin, client.WithLogger(g.log))
	if err != nil {
		return nil, ack, relayErr(err)
	}
	ack, err = c.Join(ctx, client.JoinParams{
		Session:    st.Session,
		Role:       st.Role,
		DeviceName: st.DeviceName,
		Identity:   st.Identity,
		Seed:       st.Seed,
	})
	if err != nil {
		_ = c.Close()
		return nil, ack, relayErr(err)
	}
	g.log.Infof("joined %s as %s (%s)", ack.SessionID, ack.ClientID, ack.Status)
	return c, ack, nil
}

func (g *globals) context() (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), g.timeout)
}

// waitApproved blocks until the relay reports this identity approved.
func waitApproved(ctx context.Context, c *client.Client, identity string, status protocol.Status) error {
	for {
		switch status {
		case protocol.StatusApproved:
			return nil
		case protocol.StatusRejected:
			return errRejected
		}
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return closedErr(c)
			}
			if ev.Status != nil && ev.Status.ClientUUID == identity {
				status = ev.Status.Status
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for approval: %w", ctx.Err())
		}
	}
}

// closedErr reports why the relay connection ended.
func closedErr(c *client.Client) error {
	<-c.Done()
	return relayErr(c.Err())
}

// relayErr unwraps a client error into a one-line message with its code.
func relayErr(err error) error {
	if err == nil {
		return errors.New("connection closed")
	}
	var ce *client.Error
	if errors.As(err, &ce) {
		return fmt.Errorf("%s failed (%s): %w", ce.Stage, ce.Code, ce.Err)
	}
	return err
}
