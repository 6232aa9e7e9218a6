// Package ratelimit implements fixed-window event counters keyed by an
// arbitrary string, typically the remote address of a connection.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a (limit, duration) pair. A zero Limit or Window disables limiting.
type Window struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether w actually limits anything.
func (w Window) Enabled() bool {
	return w.Limit > 0 && w.Window > 0
}

// Store is the contract the relay depends on.
type Store interface {
	Allow(key string) bool
	Prune(now time.Time) int
}

type counter struct {
	windowStart time.Time // Current window start.
	windowCount int       // Events admitted within the current window.
}

// Limiter counts events per key. It is safe for concurrent use.
type Limiter struct {
	w   Window
	now func() time.Time

	mu   sync.Mutex
	keys map[string]*counter
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a limiter admitting at most w.Limit events per w.Window for each key.
func New(w Window, opts ...Option) *Limiter {
	l := &Limiter{w: w, now: time.Now, keys: make(map[string]*counter)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the configured window.
func (l *Limiter) Window() Window { return l.w }

// Allow counts one event for key and reports whether it is within the limit.
//
// An empty key is always denied: events without an attributable origin are
// refused rather than pooled.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		return false
	}
	if !l.w.Enabled() {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.keys[key]
	if c == nil {
		c = &counter{}
		l.keys[key] = c
	}
	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= l.w.Window {
		c.windowStart = now
		c.windowCount = 0
	}
	if c.windowCount >= l.w.Limit {
		return false
	}
	c.windowCount++
	return true
}

// Prune drops counters whose window ended before now and returns how many were removed.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, c := range l.keys {
		if now.Sub(c.windowStart) >= l.w.Window {
			delete(l.keys, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Set groups the three per-event limiters the relay consults.
type Set struct {
	Join  Store
	Photo Store
	Offer Store
}

// Limits configures a Set.
type Limits struct {
	Join  Window
	Photo Window
	Offer Window
}

// DefaultLimits returns join 10/min, photo 20/min, and offer 10/min.
func DefaultLimits() Limits {
	return Limits{
		Join:  Window{Limit: 10, Window: time.Minute},
		Photo: Window{Limit: 20, Window: time.Minute},
		Offer: Window{Limit: 10, Window: time.Minute},
	}
}

// NewSet builds in-memory limiters for l.
func NewSet(l Limits, opts ...Option) Set {
	return Set{
		Join:  New(l.Join, opts...),
		Photo: New(l.Photo, opts...),
		Offer: New(l.Offer, opts...),
	}
}

// Prune prunes every limiter in the set.
func (s Set) Prune(now time.Time) int {
	n := 0
	for _, st := range []Store{s.Join, s.Photo, s.Offer} {
		if st != nil {
			n += st.Prune(now)
		}
	}
	return n
}
