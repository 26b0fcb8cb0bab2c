package ratelimit

import (
	"sync"
	"time"
)

// IPLimiter tracks request timestamps per IP within a sliding window.
// It guards the registration endpoint against username squatting.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
}

// NewIPLimiter creates an IPLimiter allowing max requests per window.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	return &IPLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

// Allow reports whether the IP is under its limit, recording the
// request when it is. Expired timestamps are pruned on each call.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	recent := l.entries[ip][:0]
	for _, t := range l.entries[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.entries[ip] = recent
		return false
	}

	l.entries[ip] = append(recent, now)
	return true
}
