// Package middleware holds HTTP middleware shared across API versions.
package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long an idle per-user limiter survives before
	// the sweeper drops it.
	limiterIdleTTL = 10 * time.Minute

	sweepInterval = time.Minute
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-user request rate with a short burst
// allowance. Entries for idle users are swept periodically.
type RateLimiter struct {
	mu       sync.Mutex
	users    map[string]*userLimiter
	rate     rate.Limit
	burst    int
	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter allows perMinute requests per user key with the given
// burst. Non-positive arguments get conservative defaults.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	rl := &RateLimiter{
		users: make(map[string]*userLimiter),
		rate:  rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		stop:  make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow reports whether the user may make a request now.
func (rl *RateLimiter) Allow(userKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ul, ok := rl.users[userKey]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.users[userKey] = ul
	}
	ul.lastSeen = time.Now()
	return ul.limiter.Allow()
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTTL)
			rl.mu.Lock()
			for key, ul := range rl.users {
				if ul.lastSeen.Before(cutoff) {
					delete(rl.users, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the background sweeper.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
