package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/floegence/snaprelay/internal/cmdutil"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/floegence/snaprelay/relay/ratelimit"
	"github.com/floegence/snaprelay/relay/server"
)

const envPrefix = "SNAPRELAY_"

// Config is the daemon configuration. Values are layered: defaults, then
// the TOML file, then SNAPRELAY_* environment variables, then flags.
type Config struct {
	Listen        string
	AdvertiseHost string
	WSPath        string
	MetricsListen string
	TLSCertFile   string
	TLSKeyFile    string
	PrettyReady   bool

	Relay   RelayConfig
	Limits  LimitsConfig
	Logging LoggingConfig
}

// RelayConfig covers the websocket relay itself.
type RelayConfig struct {
	AllowOrigin        []string
	AllowNoOrigin      bool
	TrustForwardedFor  bool
	Compression        bool
	MaxConns           int
	MaxSessions        int
	MaxMessageBytes    int
	MaxCiphertextChars int
	MaxWriteQueueBytes int
	WriteTimeout       time.Duration
	PongTimeout        time.Duration
	SessionIdleTTL     time.Duration
}

// LimitsConfig holds the per-address rate limits.
type LimitsConfig struct {
	Window time.Duration
	Join   int
	Photo  int
	Offer  int
}

// LoggingConfig selects the log destination and level.
type LoggingConfig struct {
	Disable bool
	File    string
	Level   string
}

func defaultConfig() Config {
	def := server.DefaultConfig()
	lim := ratelimit.DefaultLimits()
	return Config{
		Listen: "127.0.0.1:0",
		WSPath: def.Path,
		Relay: RelayConfig{
			MaxConns:           def.MaxConns,
			MaxSessions:        def.MaxSessions,
			MaxMessageBytes:    def.Payload.MaxMessageBytes,
			MaxCiphertextChars: def.Payload.MaxCiphertextChars,
			MaxWriteQueueBytes: def.MaxWriteQueueBytes,
			WriteTimeout:       def.WriteTimeout,
			PongTimeout:        def.PongTimeout,
			SessionIdleTTL:     def.SessionIdleTTL,
		},
		Limits: LimitsConfig{
			Window: lim.Join.Window,
			Join:   lim.Join.Limit,
			Photo:  lim.Photo.Limit,
			Offer:  lim.Offer.Limit,
		},
		Logging: LoggingConfig{Level: "NOTICE"},
	}
}

// loadFile decodes the TOML file at path over cfg. Unknown keys are errors.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return cmdutil.Usagef("config %s: %v", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return cmdutil.Usagef("config %s: undecoded keys: %v", path, undecoded)
	}
	return nil
}

// applyEnv layers SNAPRELAY_* variables over cfg.
func applyEnv(cfg *Config) error {
	env := cmdutil.Env{Prefix: envPrefix}
	env.String("LISTEN", &cfg.Listen)
	env.String("ADVERTISE_HOST", &cfg.AdvertiseHost)
	env.String("WS_PATH", &cfg.WSPath)
	env.String("METRICS_LISTEN", &cfg.MetricsListen)
	env.String("TLS_CERT_FILE", &cfg.TLSCertFile)
	env.String("TLS_KEY_FILE", &cfg.TLSKeyFile)
	env.CSV("ALLOW_ORIGIN", &cfg.Relay.AllowOrigin)
	env.String("LOG_FILE", &cfg.Logging.File)
	env.String("LOG_LEVEL", &cfg.Logging.Level)

	for _, b := range []struct {
		name string
		dst  *bool
	}{
		{"PRETTY_READY", &cfg.PrettyReady},
		{"ALLOW_NO_ORIGIN", &cfg.Relay.AllowNoOrigin},
		{"TRUST_FORWARDED_FOR", &cfg.Relay.TrustForwardedFor},
		{"COMPRESSION", &cfg.Relay.Compression},
		{"LOG_DISABLE", &cfg.Logging.Disable},
	} {
		if err := env.Bool(b.name, b.dst); err != nil {
			return err
		}
	}
	for _, n := range []struct {
		name string
		dst  *int
	}{
		{"MAX_CONNS", &cfg.Relay.MaxConns},
		{"MAX_SESSIONS", &cfg.Relay.MaxSessions},
		{"MAX_MESSAGE_BYTES", &cfg.Relay.MaxMessageBytes},
		{"MAX_CIPHERTEXT_CHARS", &cfg.Relay.MaxCiphertextChars},
		{"MAX_WRITE_QUEUE_BYTES", &cfg.Relay.MaxWriteQueueBytes},
		{"JOIN_LIMIT", &cfg.Limits.Join},
		{"PHOTO_LIMIT", &cfg.Limits.Photo},
		{"OFFER_LIMIT", &cfg.Limits.Offer},
	} {
		if err := env.Int(n.name, n.dst); err != nil {
			return err
		}
	}
	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"WRITE_TIMEOUT", &cfg.Relay.WriteTimeout},
		{"PONG_TIMEOUT", &cfg.Relay.PongTimeout},
		{"SESSION_IDLE_TTL", &cfg.Relay.SessionIdleTTL},
		{"RATE_WINDOW", &cfg.Limits.Window},
	} {
		if err := env.Duration(d.name, d.dst); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return cmdutil.Usagef("missing --listen")
	}
	if len(c.Relay.AllowOrigin) == 0 && !c.Relay.AllowNoOrigin {
		return cmdutil.Usagef("missing --allow-origin")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return cmdutil.Usagef("tls requires both --tls-cert-file and --tls-key-file")
	}
	if c.Limits.Window < 0 || c.Limits.Join < 0 || c.Limits.Photo < 0 || c.Limits.Offer < 0 {
		return cmdutil.Usagef("rate limits must be >= 0")
	}
	return nil
}

// serverConfig maps the daemon configuration onto the relay server's.
func (c Config) serverConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Path = c.WSPath
	cfg.AllowedOrigins = c.Relay.AllowOrigin
	cfg.AllowNoOrigin = c.Relay.AllowNoOrigin
	cfg.TrustForwardedFor = c.Relay.TrustForwardedFor
	cfg.EnableCompression = c.Relay.Compression
	cfg.MaxConns = c.Relay.MaxConns
	cfg.MaxSessions = c.Relay.MaxSessions
	cfg.MaxWriteQueueBytes = c.Relay.MaxWriteQueueBytes
	cfg.WriteTimeout = c.Relay.WriteTimeout
	cfg.PongTimeout = c.Relay.PongTimeout
	cfg.SessionIdleTTL = c.Relay.SessionIdleTTL

	payload := protocol.DefaultLimits()
	if c.Relay.MaxMessageBytes > 0 {
		payload.MaxMessageBytes = c.Relay.MaxMessageBytes
	}
	if c.Relay.MaxCiphertextChars > 0 {
		payload.MaxCiphertextChars = c.Relay.MaxCiphertextChars
	}
	cfg.Payload = payload

	cfg.Limits = ratelimit.Limits{
		Join:  ratelimit.Window{Limit: c.Limits.Join, Window: c.Limits.Window},
		Photo: ratelimit.Window{Limit: c.Limits.Photo, Window: c.Limits.Window},
		Offer: ratelimit.Window{Limit: c.Limits.Offer, Window: c.Limits.Window},
	}
	return cfg
}

func (c Config) String() string {
	return fmt.Sprintf("listen=%s path=%s origins=%v max_conns=%d max_sessions=%d limits=%d/%d/%d per %s idle_ttl=%s",
		c.Listen, c.WSPath, c.Relay.AllowOrigin, c.Relay.MaxConns, c.Relay.MaxSessions,
		c.Limits.Join, c.Limits.Photo, c.Limits.Offer, c.Limits.Window, c.Relay.SessionIdleTTL)
}
