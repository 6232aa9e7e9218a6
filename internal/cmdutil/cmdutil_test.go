package cmdutil

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEnv_LayersOverExistingValues(t *testing.T) {
	env := Env{Prefix: "SNAPTEST_"}
	t.Setenv("SNAPTEST_LISTEN", "  0.0.0.0:8080 ")
	t.Setenv("SNAPTEST_PATH", "   ")
	t.Setenv("SNAPTEST_COMPRESS", "true")
	t.Setenv("SNAPTEST_MAX", "42")
	t.Setenv("SNAPTEST_TTL", "90s")
	t.Setenv("SNAPTEST_ORIGINS", "a, b,,c ")

	listen, path := "127.0.0.1:0", "/ws"
	env.String("LISTEN", &listen)
	env.String("PATH", &path)
	if listen != "0.0.0.0:8080" || path != "/ws" {
		t.Fatalf("unexpected strings: listen=%q path=%q", listen, path)
	}

	var compress bool
	var max int
	var ttl time.Duration
	var origins []string
	if err := env.Bool("COMPRESS", &compress); err != nil || !compress {
		t.Fatalf("Bool: %v %v", compress, err)
	}
	if err := env.Int("MAX", &max); err != nil || max != 42 {
		t.Fatalf("Int: %v %v", max, err)
	}
	if err := env.Duration("TTL", &ttl); err != nil || ttl != 90*time.Second {
		t.Fatalf("Duration: %v %v", ttl, err)
	}
	env.CSV("ORIGINS", &origins)
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(origins, want) {
		t.Fatalf("CSV: got=%v want=%v", origins, want)
	}

	unset := 7
	if err := env.Int("UNSET", &unset); err != nil || unset != 7 {
		t.Fatalf("unset var changed value: %v %v", unset, err)
	}
}

func TestEnv_InvalidValueIsUsageError(t *testing.T) {
	env := Env{Prefix: "SNAPTEST_"}
	t.Setenv("SNAPTEST_MAX", "nope")
	n := 1
	err := env.Int("MAX", &n)
	if err == nil || !IsUsage(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "SNAPTEST_MAX") || n != 1 {
		t.Fatalf("unexpected: err=%v n=%d", err, n)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 || ExitCode(Usagef("x")) != 2 || ExitCode(errors.New("x")) != 1 {
		t.Fatal("unexpected exit codes")
	}
}

func TestRefuseOverwrite(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.json")
	if err := RefuseOverwrite(p, false); err != nil {
		t.Fatalf("unexpected err for missing file: %v", err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := RefuseOverwrite(p, false); !IsUsage(err) {
		t.Fatalf("expected UsageError, got %v", err)
	}
	if err := RefuseOverwrite(p, true); err != nil {
		t.Fatalf("overwrite allowed, got %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	var compact, pretty bytes.Buffer
	if err := WriteJSON(&compact, map[string]any{"x": 1}, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if compact.String() != "{\"x\":1}\n" {
		t.Fatalf("unexpected compact output %q", compact.String())
	}
	if err := WriteJSON(&pretty, map[string]any{"x": 1}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(pretty.String(), "\n  \"x\": 1") {
		t.Fatalf("unexpected pretty output %q", pretty.String())
	}
}
