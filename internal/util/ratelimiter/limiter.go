// Package ratelimiter throttles repeated actions such as progress log lines.
package ratelimiter

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

// Limiter allows one action per interval and is safe for concurrent use.
// A zero or negative interval allows every action.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	now         Clock
	lastAllowed time.Time
	suppressed  int
}

// New creates a new rate limiter using the wall clock
func New(interval time.Duration) *Limiter {
	return NewWithClock(interval, time.Now)
}

// NewWithClock creates a new rate limiter reading time from now
func NewWithClock(interval time.Duration, now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		interval: interval,
		now:      now,
	}
}

// Allow checks if an action is allowed at this time.
// Returns true if allowed (and records this as the last allowed time),
// or false with the remaining wait duration if rate-limited.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastAllowed.IsZero() || l.interval <= 0 {
		l.lastAllowed = now
		return true, 0
	}

	since := now.Sub(l.lastAllowed)
	if since >= l.interval {
		l.lastAllowed = now
		return true, 0
	}

	l.suppressed++
	return false, l.interval - since
}

// Suppressed returns the number of actions refused since the last call to
// Suppressed, and resets the count
func (l *Limiter) Suppressed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.suppressed
	l.suppressed = 0
	return n
}

// Reset clears the limiter state, allowing the next action immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.suppressed = 0
	l.mu.Unlock()
}

// Interval returns the configured rate limit interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
