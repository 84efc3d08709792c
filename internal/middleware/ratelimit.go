package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/questline/internal/identity"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdle is how long a client's bucket survives without requests.
const DefaultLimiterIdle = 10 * time.Minute

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client IP. Buckets idle for longer than
// idle are evicted by a sweep that runs on the request path at most once per
// idle period.
type Limiter struct {
	rps   rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

// NewLimiter creates a Limiter admitting rps requests per second per client
// with bursts of up to burst.
func NewLimiter(rps float64, burst int, idle time.Duration) *Limiter {
	if idle <= 0 {
		idle = DefaultLimiterIdle
	}
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow reports whether a request from key may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.l.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.idle)
	for k, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
	l.lastSweep = now
}

// Middleware rejects requests over the client's limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(identity.IPFromRequest(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit returns middleware that admits at most rps requests per second
// per client IP, with bursts of up to burst. Rejected requests get 429.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	return NewLimiter(rps, burst, DefaultLimiterIdle).Middleware
}
