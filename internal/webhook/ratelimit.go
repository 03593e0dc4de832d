package webhook

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Rate limit defaults: 10 admitted calls per 60-second fixed window per key.
const (
	DefaultRateWindow = 60 * time.Second
	DefaultRateMax    = 10
)

// RateLimitStore decides whether a client key may proceed. Injected so tests
// can substitute deterministic clocks and isolated instances.
type RateLimitStore interface {
	Allow(key string) bool
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a fixed-window per-key counter held in process
// memory. Counters are not shared across processes and reset on restart:
// acceptable for single-instance deployment only.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	window  time.Duration
	max     int
	now     func() time.Time
}

// NewMemoryRateLimiter creates a limiter admitting max calls per window per
// key. Non-positive arguments fall back to the defaults.
func NewMemoryRateLimiter(window time.Duration, max int) *MemoryRateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if max <= 0 {
		max = DefaultRateMax
	}
	return &MemoryRateLimiter{
		windows: make(map[string]*rateWindow),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

// WithClock overrides the limiter's clock. Tests only.
func (l *MemoryRateLimiter) WithClock(now func() time.Time) *MemoryRateLimiter {
	l.now = now
	return l
}

// Allow admits the call if the key's window has capacity. The count is not
// incremented past the cap, so a flood of denied calls cannot extend its own
// penalty.
func (l *MemoryRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &rateWindow{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// ClientKey derives the rate-limit key from forwarded-IP headers, in
// precedence order. Requests with no usable header share the "unknown"
// bucket - an accepted limitation.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop is the original client.
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("Fly-Client-IP")); ip != "" {
		return ip
	}
	return "unknown"
}
