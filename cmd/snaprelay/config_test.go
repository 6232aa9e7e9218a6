package main

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/floegence/snaprelay/internal/cmdutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snaprelay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
Listen = "127.0.0.1:7000"
WSPath = "/relay"

[Relay]
AllowOrigin = ["file.example"]
MaxSessions = 10

[Limits]
Join = 3
Window = "30s"
`)
	t.Setenv("SNAPRELAY_MAX_SESSIONS", "20")
	t.Setenv("SNAPRELAY_WS_PATH", "/env")

	cfg, code, ok := loadConfig([]string{"--config", path, "--ws-path", "/flag", "--photo-limit", "0"}, io.Discard, io.Discard)
	if !ok {
		t.Fatalf("loadConfig() failed with code %d", code)
	}
	if cfg.Listen != "127.0.0.1:7000" {
		t.Fatalf("listen from file: got %q", cfg.Listen)
	}
	if !reflect.DeepEqual(cfg.Relay.AllowOrigin, []string{"file.example"}) {
		t.Fatalf("origins from file: got %v", cfg.Relay.AllowOrigin)
	}
	if cfg.Relay.MaxSessions != 20 {
		t.Fatalf("env should override file: got %d", cfg.Relay.MaxSessions)
	}
	if cfg.WSPath != "/flag" {
		t.Fatalf("flag should override env: got %q", cfg.WSPath)
	}
	if cfg.Limits.Join != 3 || cfg.Limits.Photo != 0 || cfg.Limits.Window != 30*time.Second {
		t.Fatalf("limits: got %+v", cfg.Limits)
	}

	scfg := cfg.serverConfig()
	if scfg.Path != "/flag" || scfg.MaxSessions != 20 {
		t.Fatalf("serverConfig mismatch: %+v", scfg)
	}
	if scfg.Limits.Photo.Enabled() {
		t.Fatalf("photo limit 0 should disable the window")
	}
	if !scfg.Limits.Join.Enabled() || scfg.Limits.Join.Window != 30*time.Second {
		t.Fatalf("join window: got %+v", scfg.Limits.Join)
	}
}

func TestLoadConfig_ConfigFromEnv(t *testing.T) {
	path := writeConfig(t, "[Relay]\nAllowNoOrigin = true\n")
	t.Setenv("SNAPRELAY_CONFIG", path)

	cfg, code, ok := loadConfig(nil, io.Discard, io.Discard)
	if !ok {
		t.Fatalf("loadConfig() failed with code %d", code)
	}
	if !cfg.Relay.AllowNoOrigin {
		t.Fatalf("expected AllowNoOrigin from SNAPRELAY_CONFIG file")
	}
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "Listen = \"127.0.0.1:0\"\nListenn = \"typo\"\n")
	cfg := defaultConfig()
	err := loadFile(path, &cfg)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !cmdutil.IsUsage(err) {
		t.Fatalf("expected usage error, got %T", err)
	}
	if !strings.Contains(err.Error(), "Listenn") {
		t.Fatalf("expected key name in error, got %v", err)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("SNAPRELAY_PONG_TIMEOUT", "soon")
	cfg := defaultConfig()
	err := applyEnv(&cfg)
	if err == nil || !strings.Contains(err.Error(), "SNAPRELAY_PONG_TIMEOUT") {
		t.Fatalf("expected invalid env error, got %v", err)
	}
}

func TestApplyEnv_CSVOrigins(t *testing.T) {
	t.Setenv("SNAPRELAY_ALLOW_ORIGIN", "a.example, b.example,,")
	cfg := defaultConfig()
	if err := applyEnv(&cfg); err != nil {
		t.Fatalf("applyEnv() failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Relay.AllowOrigin, []string{"a.example", "b.example"}) {
		t.Fatalf("origins: got %v", cfg.Relay.AllowOrigin)
	}
}

func TestConfigValidate(t *testing.T) {
	base := defaultConfig()
	base.Relay.AllowOrigin = []string{"example.com"}
	if err := base.validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing listen", func(c *Config) { c.Listen = " " }},
		{"missing origin", func(c *Config) { c.Relay.AllowOrigin = nil }},
		{"half tls", func(c *Config) { c.TLSCertFile = "cert.pem" }},
		{"negative limit", func(c *Config) { c.Limits.Offer = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Relay.AllowOrigin = append([]string(nil), base.Relay.AllowOrigin...)
			tc.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	noOrigin := base
	noOrigin.Relay.AllowOrigin = nil
	noOrigin.Relay.AllowNoOrigin = true
	if err := noOrigin.validate(); err != nil {
		t.Fatalf("AllowNoOrigin should satisfy origin check, got %v", err)
	}
}
