package ratelimit

import (
	"sync"
	"time"
)

// RateLimiter caps requests per client key in fixed windows
type RateLimiter struct {
	mu        sync.Mutex
	tokens    map[string]int
	lastReset map[string]time.Time
	max       int
	window    time.Duration
	now       func() time.Time
}

// New creates a limiter allowing max requests per key each window. A
// non-positive max disables limiting.
func New(max int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		tokens:    make(map[string]int),
		lastReset: make(map[string]time.Time),
		max:       max,
		window:    window,
		now:       time.Now,
	}
}

// Allow checks if a client may make another request
func (rl *RateLimiter) Allow(key string) bool {
	if rl.max <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	lastReset, exists := rl.lastReset[key]

	// Reset tokens once the window has passed
	if !exists || now.Sub(lastReset) > rl.window {
		rl.tokens[key] = rl.max
		rl.lastReset[key] = now
	}

	if rl.tokens[key] > 0 {
		rl.tokens[key]--
		return true
	}
	return false
}

// Prune forgets keys whose window ended, keeping memory bounded.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, last := range rl.lastReset {
		if now.Sub(last) > rl.window {
			delete(rl.lastReset, key)
			delete(rl.tokens, key)
			removed++
		}
	}
	return removed
}
