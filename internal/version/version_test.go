package version

import (
	"strings"
	"testing"
)

func TestResolve_UsesProvidedValues(t *testing.T) {
	got := Resolve("v1.2.3", "abc", "2020-01-01T00:00:00Z").String()
	want := "v1.2.3 (abc) 2020-01-01T00:00:00Z"
	if got != want {
		t.Fatalf("unexpected version string: got %q, want %q", got, want)
	}
}

func TestResolve_OmitsUnknownVCSFields(t *testing.T) {
	info := Resolve("v1.2.3", "unknown", "unknown")
	if strings.Contains(info.String(), "unknown") {
		t.Fatalf("expected VCS placeholders to be omitted, got %q", info.String())
	}
	if info.Version != "v1.2.3" {
		t.Fatalf("unexpected version: %q", info.Version)
	}
}

func TestResolve_DefaultsToDev(t *testing.T) {
	if got := Resolve("", "", "").Version; got == "" {
		t.Fatalf("expected non-empty version")
	}
}

func TestLine(t *testing.T) {
	got := Line("snaprelay", "v0.1.0", "deadbeef", "")
	if !strings.HasPrefix(got, "snaprelay v0.1.0 (deadbeef)") {
		t.Fatalf("unexpected line: %q", got)
	}
}
