package defaults

import "time"

const minKeepaliveInterval = 500 * time.Millisecond

// KeepaliveInterval returns the websocket ping interval for a pong timeout.
//
// It uses pongTimeout / 2, clamps to a small minimum, and guarantees the
// result is strictly less than the timeout.
func KeepaliveInterval(pongTimeout time.Duration) time.Duration {
	if pongTimeout <= 0 {
		return 0
	}
	interval := pongTimeout / 2
	if interval < minKeepaliveInterval {
		interval = minKeepaliveInterval
	}
	if interval >= pongTimeout {
		interval = pongTimeout / 2
	}
	return interval
}
