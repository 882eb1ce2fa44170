package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies a per-client request budget.
// rpm > 0 enables limiting at that rate; rpm <= 0 disables it.
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a per-client limiter.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		rpm:      rpm,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.rpm > 0 }

// Allow reports whether the client may issue another request now.
func (r *RateLimiter) Allow(clientID string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst)
		r.limiters[clientID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// Forget drops a client's limiter state after disconnect.
func (r *RateLimiter) Forget(clientID string) {
	r.mu.Lock()
	delete(r.limiters, clientID)
	r.mu.Unlock()
}
