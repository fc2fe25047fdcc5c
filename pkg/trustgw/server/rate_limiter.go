package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter allows each distinct client key a budget of limit
// requests per interval, backed by one rate.Limiter per client. Idle
// clients are swept periodically so the map does not grow without
// bound.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	sweep   *time.Ticker
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per
// interval for each distinct client key.
func NewRateLimiter(limit int, intervalStr string) (*RateLimiter, error) {
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid interval format: %w", err)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("rate interval must be positive, got %s", interval)
	}

	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(limit) / interval.Seconds()),
		burst:   limit,
		sweep:   time.NewTicker(10 * time.Minute),
	}

	go rl.runSweep()

	return rl, nil
}

// Allow reports whether the client identified by key may make a request
// now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	c, ok := r.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = c
	}
	c.lastSeen = time.Now()
	r.mu.Unlock()

	return c.limiter.Allow()
}

func (r *RateLimiter) runSweep() {
	for range r.sweep.C {
		r.sweepIdle()
	}
}

// sweepIdle drops clients that have not been seen for a day.
func (r *RateLimiter) sweepIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	for key, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}

// Stop stops the idle-client sweep ticker.
func (r *RateLimiter) Stop() {
	if r.sweep != nil {
		r.sweep.Stop()
	}
}
