// Package ratelimit implements the fixed-window request limiter protecting
// the public endpoints. One window per caller key; expired entries are swept
// passively on the request path, never by a background goroutine.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// SweepInterval bounds how often the passive cleanup walks the map.
const SweepInterval = 60 * time.Second

// AnonymousKey is the shared bucket for callers with no derivable identity.
// All such callers degrade into one window; accepted, not a bug.
const AnonymousKey = "unknown"

// Limit configures one check: how many requests fit in a window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Result reports the outcome of a check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// Limiter is the process-wide fixed-window limiter. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*windowEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Check counts one request against the key's current window. A fresh key, or
// a key whose window has passed, starts a new window with count 1; within an
// active window requests increment until MaxRequests, after which they are
// rejected with Remaining 0.
func (l *Limiter) Check(key string, limit Limit) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweepLocked(now)

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{count: 1, resetAt: now.Add(limit.Window)}
		l.entries[key] = e
		return Result{Allowed: true, Remaining: limit.MaxRequests - 1, ResetAt: e.resetAt}
	}

	if e.count < limit.MaxRequests {
		e.count++
		return Result{Allowed: true, Remaining: limit.MaxRequests - e.count, ResetAt: e.resetAt}
	}

	return Result{Allowed: false, Remaining: 0, ResetAt: e.resetAt}
}

// Len returns the number of tracked windows, expired or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) maybeSweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < SweepInterval {
		return
	}
	l.lastSweep = now
	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
		}
	}
}

// ClientKey derives the caller identity for a request: the first
// X-Forwarded-For hop, then X-Real-IP, then AnonymousKey.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return AnonymousKey
}
