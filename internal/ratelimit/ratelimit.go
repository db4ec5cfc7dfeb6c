// Package ratelimit provides a per-user token bucket so one caller cannot
// monopolize the engine.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerUser holds one token-bucket limiter per user ID. Idle limiters are
// evicted periodically so the map does not grow without bound.
type PerUser struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	rate     rate.Limit
	burst    int
	maxIdle  time.Duration
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerUser creates a limiter allowing perSecond requests with the given
// burst for each distinct user.
func NewPerUser(perSecond float64, burst int) *PerUser {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &PerUser{
		limiters: make(map[string]*userLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		maxIdle:  10 * time.Minute,
	}
}

// Allow reports whether the user may proceed right now.
func (p *PerUser) Allow(userID string) bool {
	p.mu.Lock()
	ul, ok := p.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(p.rate, p.burst)}
		p.limiters[userID] = ul
	}
	ul.lastSeen = time.Now()
	p.mu.Unlock()

	return ul.limiter.Allow()
}

// Sweep drops limiters idle longer than the eviction window and returns
// how many were removed.
func (p *PerUser) Sweep() int {
	cutoff := time.Now().Add(-p.maxIdle)

	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, ul := range p.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(p.limiters, id)
			removed++
		}
	}
	return removed
}
