package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/floegence/snaprelay/internal/cmdutil"
	"github.com/floegence/snaprelay/internal/logging"
	"github.com/floegence/snaprelay/internal/version"
	"github.com/floegence/snaprelay/observability"
	"github.com/floegence/snaprelay/relay/server"
	"github.com/spf13/pflag"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

type ready struct {
	Version       string `json:"version"`
	Commit        string `json:"commit,omitempty"`
	Date          string `json:"date,omitempty"`
	Listen        string `json:"listen"`
	WSPath        string `json:"ws_path"`
	AdvertiseHost string `json:"advertise_host,omitempty"`
	WSURL         string `json:"ws_url"`
	HTTPURL       string `json:"http_url"`
	HealthzURL    string `json:"healthz_url"`
	MetricsURL    string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func versionString() string {
	return version.Line("snaprelay", buildVersion, buildCommit, buildDate)
}

// configPath finds --config (or -c) without failing on the remaining flags,
// which are parsed once the file and environment have been applied.
func configPath(args []string) string {
	fs := pflag.NewFlagSet("snaprelay-config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	path := fs.StringP("config", "c", "", "")
	_ = fs.Parse(args)
	if *path != "" {
		return *path
	}
	return strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
}

// loadConfig resolves defaults, file, environment, and flags, in that order.
// ok is false when the caller should exit with code.
func loadConfig(args []string, stdout io.Writer, stderr io.Writer) (cfg Config, code int, ok bool) {
	cfg = defaultConfig()
	path := configPath(args)
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return cfg, cmdutil.ExitCode(err), false
		}
	}
	if err := applyEnv(&cfg); err != nil {
		fmt.Fprintln(stderr, err)
		return cfg, 2, false
	}

	fs := pflag.NewFlagSet("snaprelay", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	showVersion := false
	fs.StringP("config", "c", path, "TOML config file (env: SNAPRELAY_CONFIG)")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address (env: SNAPRELAY_LISTEN)")
	fs.StringVar(&cfg.AdvertiseHost, "advertise-host", cfg.AdvertiseHost, "public host[:port] for ready URLs (env: SNAPRELAY_ADVERTISE_HOST)")
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "websocket path (env: SNAPRELAY_WS_PATH)")
	fs.StringSliceVar(&cfg.Relay.AllowOrigin, "allow-origin", cfg.Relay.AllowOrigin, "allowed Origin value (repeatable; required): full origin, host, host:port, or *.example.com (env: SNAPRELAY_ALLOW_ORIGIN)")
	fs.BoolVar(&cfg.Relay.AllowNoOrigin, "allow-no-origin", cfg.Relay.AllowNoOrigin, "allow requests without Origin header (non-browser clients) (env: SNAPRELAY_ALLOW_NO_ORIGIN)")
	fs.BoolVar(&cfg.Relay.TrustForwardedFor, "trust-forwarded-for", cfg.Relay.TrustForwardedFor, "rate limit by X-Forwarded-For (only behind a trusted proxy) (env: SNAPRELAY_TRUST_FORWARDED_FOR)")
	fs.BoolVar(&cfg.Relay.Compression, "compression", cfg.Relay.Compression, "negotiate permessage-deflate (env: SNAPRELAY_COMPRESSION)")
	fs.IntVar(&cfg.Relay.MaxConns, "max-conns", cfg.Relay.MaxConns, "max concurrent websocket connections (env: SNAPRELAY_MAX_CONNS)")
	fs.IntVar(&cfg.Relay.MaxSessions, "max-sessions", cfg.Relay.MaxSessions, "max concurrent sessions, 0 for unlimited (env: SNAPRELAY_MAX_SESSIONS)")
	fs.IntVar(&cfg.Relay.MaxMessageBytes, "max-message-bytes", cfg.Relay.MaxMessageBytes, "max inbound frame size (env: SNAPRELAY_MAX_MESSAGE_BYTES)")
	fs.IntVar(&cfg.Relay.MaxCiphertextChars, "max-ciphertext-chars", cfg.Relay.MaxCiphertextChars, "max base64url ciphertext length (env: SNAPRELAY_MAX_CIPHERTEXT_CHARS)")
	fs.IntVar(&cfg.Relay.MaxWriteQueueBytes, "max-write-queue-bytes", cfg.Relay.MaxWriteQueueBytes, "max buffered bytes per connection before it is dropped (env: SNAPRELAY_MAX_WRITE_QUEUE_BYTES)")
	fs.DurationVar(&cfg.Relay.WriteTimeout, "write-timeout", cfg.Relay.WriteTimeout, "per-frame websocket write timeout, 0 disables (env: SNAPRELAY_WRITE_TIMEOUT)")
	fs.DurationVar(&cfg.Relay.PongTimeout, "pong-timeout", cfg.Relay.PongTimeout, "drop connections silent for this long, 0 disables pings (env: SNAPRELAY_PONG_TIMEOUT)")
	fs.DurationVar(&cfg.Relay.SessionIdleTTL, "session-idle-ttl", cfg.Relay.SessionIdleTTL, "keep approvals of an empty session this long (env: SNAPRELAY_SESSION_IDLE_TTL)")
	fs.DurationVar(&cfg.Limits.Window, "rate-window", cfg.Limits.Window, "rate limit window (env: SNAPRELAY_RATE_WINDOW)")
	fs.IntVar(&cfg.Limits.Join, "join-limit", cfg.Limits.Join, "joins per address per window, 0 disables (env: SNAPRELAY_JOIN_LIMIT)")
	fs.IntVar(&cfg.Limits.Photo, "photo-limit", cfg.Limits.Photo, "photos per address per window, 0 disables (env: SNAPRELAY_PHOTO_LIMIT)")
	fs.IntVar(&cfg.Limits.Offer, "offer-limit", cfg.Limits.Offer, "offers per address per window, 0 disables (env: SNAPRELAY_OFFER_LIMIT)")
	fs.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "listen address for the metrics server, empty disables (env: SNAPRELAY_METRICS_LISTEN)")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "enable TLS with this certificate file (env: SNAPRELAY_TLS_CERT_FILE)")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "enable TLS with this private key file (env: SNAPRELAY_TLS_KEY_FILE)")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level: ERROR, WARNING, NOTICE, INFO, DEBUG (env: SNAPRELAY_LOG_LEVEL)")
	fs.StringVar(&cfg.Logging.File, "log-file", cfg.Logging.File, "log file, stderr when empty (env: SNAPRELAY_LOG_FILE)")
	fs.BoolVar(&cfg.Logging.Disable, "log-disable", cfg.Logging.Disable, "disable logging (env: SNAPRELAY_LOG_DISABLE)")
	fs.BoolVar(&cfg.PrettyReady, "pretty", cfg.PrettyReady, "pretty-print the ready JSON line (env: SNAPRELAY_PRETTY_READY)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: snaprelay [flags]")
		fs.PrintDefaults()
		printSignalHelp(stderr)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cfg, 0, false
		}
		return cfg, 2, false
	}
	if showVersion {
		fmt.Fprintln(stdout, versionString())
		return cfg, 0, false
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return cfg, 2, false
	}
	return cfg, 0, true
}

func newLogBackend(cfg LoggingConfig, stderr io.Writer) (*logging.Backend, error) {
	if cfg.File != "" || cfg.Disable {
		return logging.New(cfg.File, cfg.Level, cfg.Disable)
	}
	lvl, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWriter(stderr, lvl), nil
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	cfg, code, ok := loadConfig(args, stdout, stderr)
	if !ok {
		return code
	}

	backend, err := newLogBackend(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	log := backend.GetLogger("snaprelay")
	log.Noticef("starting %s", versionString())
	log.Infof("config: %s", cfg)

	observer := observability.NewAtomicRelayObserver()
	scfg := cfg.serverConfig()
	scfg.Observer = observer
	scfg.Logger = backend.GetLogger("relay")
	s, err := server.New(scfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer s.Close()

	mux := http.NewServeMux()
	s.Register(mux)

	tlsEnabled := cfg.TLSCertFile != ""
	serve := func(srv *http.Server, ln net.Listener) {
		var err error
		if tlsEnabled {
			err = srv.ServeTLS(ln, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Critical("serve %s: %v", ln.Addr(), err)
			os.Exit(1)
		}
	}

	var metrics *metricsController
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if cfg.MetricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsHandler := newSwitchHandler()
		metricsMux.Handle("/metrics", metricsHandler)
		metrics = newMetricsController(metricsHandler, observer, s)
		metrics.Enable()

		metricsLn, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = newHTTPServer(metricsMux, tlsEnabled)
		go serve(metricsSrv, metricsLn)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	srv := newHTTPServer(mux, tlsEnabled)
	go serve(srv, ln)

	out, err := buildReady(cfg, ln.Addr().String(), metricsLn, tlsEnabled)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := cmdutil.WriteJSON(stdout, out, cfg.PrettyReady); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	log.Noticef("listening on %s", out.WSURL)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, notifySignals()...)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		if handleSignal(sig, log, s, metrics) {
			continue
		}
		log.Noticef("shutting down on %v", sig)
		break
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	_ = srv.Shutdown(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	return 0
}

func buildReady(cfg Config, bindAddr string, metricsLn net.Listener, tlsEnabled bool) (ready, error) {
	wsScheme, httpScheme := "ws", "http"
	if tlsEnabled {
		wsScheme, httpScheme = "wss", "https"
	}
	hostPort, hostOnly, wasSet, err := resolveAdvertiseHost(bindAddr, cfg.AdvertiseHost)
	if err != nil {
		return ready{}, err
	}
	info := version.Resolve(buildVersion, buildCommit, buildDate)
	out := ready{
		Version:    info.Version,
		Commit:     info.Commit,
		Date:       info.Date,
		Listen:     bindAddr,
		WSPath:     cfg.WSPath,
		WSURL:      wsScheme + "://" + hostPort + cfg.WSPath,
		HTTPURL:    httpScheme + "://" + hostPort,
		HealthzURL: httpScheme + "://" + hostPort + "/healthz",
	}
	if wasSet {
		out.AdvertiseHost = cfg.AdvertiseHost
	}
	if metricsLn != nil {
		metricsAddr := metricsLn.Addr().String()
		out.MetricsURL = httpScheme + "://" + metricsAddr + "/metrics"
		if wasSet {
			if _, port, err := net.SplitHostPort(metricsAddr); err == nil {
				out.MetricsURL = httpScheme + "://" + net.JoinHostPort(hostOnly, port) + "/metrics"
			}
		}
	}
	return out, nil
}

func resolveAdvertiseHost(bindHostPort string, advertiseHost string) (mainHostPort string, hostOnly string, wasSet bool, err error) {
	bindHost, bindPort, err := net.SplitHostPort(bindHostPort)
	if err != nil {
		return "", "", false, err
	}
	raw := strings.TrimSpace(advertiseHost)
	if raw == "" {
		return bindHostPort, bindHost, false, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", true, fmt.Errorf("invalid advertise host: %w", err)
		}
		if u.Host == "" {
			return "", "", true, errors.New("invalid advertise host: missing host")
		}
		raw = u.Host
	}
	if h, p, err := net.SplitHostPort(raw); err == nil {
		return net.JoinHostPort(h, p), h, true, nil
	}
	hostOnly = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	return net.JoinHostPort(hostOnly, bindPort), hostOnly, true, nil
}
