package defaults

import (
	"testing"
	"time"
)

func TestKeepaliveInterval(t *testing.T) {
	t.Run("non-positive timeout disables keepalive", func(t *testing.T) {
		if got := KeepaliveInterval(0); got != 0 {
			t.Fatalf("expected 0, got %v", got)
		}
		if got := KeepaliveInterval(-time.Second); got != 0 {
			t.Fatalf("expected 0, got %v", got)
		}
	})

	t.Run("half the timeout", func(t *testing.T) {
		if got := KeepaliveInterval(PongTimeout); got != 30*time.Second {
			t.Fatalf("expected 30s, got %v", got)
		}
	})

	t.Run("min clamp stays below timeout", func(t *testing.T) {
		if got := KeepaliveInterval(time.Second); got != 500*time.Millisecond {
			t.Fatalf("expected 500ms, got %v", got)
		}
		if got := KeepaliveInterval(400 * time.Millisecond); got != 200*time.Millisecond {
			t.Fatalf("expected 200ms, got %v", got)
		}
	})
}
