package randid

import (
	"testing"

	"github.com/floegence/snaprelay/internal/base64url"
)

func TestRandom(t *testing.T) {
	a, err := Random(12)
	if err != nil {
		t.Fatalf("Random failed: %v", err)
	}
	if len(a) != 16 {
		t.Fatalf("len = %d, want 16", len(a))
	}
	if !base64url.Valid(a, 16, 16) {
		t.Fatalf("not base64url: %q", a)
	}
	if b := Must(12); a == b {
		t.Fatalf("two random ids collided: %q", a)
	}
	if _, err := Random(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
