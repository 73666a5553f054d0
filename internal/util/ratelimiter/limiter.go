package ratelimiter

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

// Limiter allows one action per interval and is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	now         Clock
	lastAllowed time.Time
}

// New creates a limiter allowing at most one action per interval.
// A zero interval allows every action.
func New(interval time.Duration) *Limiter {
	return NewWithClock(interval, time.Now)
}

// NewWithClock creates a limiter reading time from clock
func NewWithClock(interval time.Duration, clock Clock) *Limiter {
	return &Limiter{interval: interval, now: clock}
}

// Allow reports whether an action may run now and records it if so.
// When rate-limited it returns the remaining wait.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastAllowed.IsZero() || now.Sub(l.lastAllowed) >= l.interval {
		l.lastAllowed = now
		return true, 0
	}
	return false, l.interval - now.Sub(l.lastAllowed)
}

// Reset clears the limiter state, allowing the next action immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.mu.Unlock()
}

// Interval returns the configured rate limit interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Keyed holds one Limiter per key, created on first use
type Keyed struct {
	mu       sync.Mutex
	interval time.Duration
	now      Clock
	limiters map[string]*Limiter
}

// NewKeyed creates a keyed limiter
func NewKeyed(interval time.Duration, clock Clock) *Keyed {
	if clock == nil {
		clock = time.Now
	}
	return &Keyed{
		interval: interval,
		now:      clock,
		limiters: make(map[string]*Limiter),
	}
}

// Allow applies Limiter.Allow to the limiter of key
func (k *Keyed) Allow(key string) (bool, time.Duration) {
	return k.get(key).Allow()
}

// Reset forgets the history of key
func (k *Keyed) Reset(key string) {
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}

func (k *Keyed) get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = NewWithClock(k.interval, k.now)
		k.limiters[key] = l
	}
	return l
}
