package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps tracked rate-limit keys so rotating source keys
	// cannot exhaust memory.
	maxTrackedKeys = 4096

	defaultRateWindow  = 60 * time.Second
	defaultRateMaxHits = 30
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// InboundRateLimiter bounds per-key inbound rates on webhook and bridge
// surfaces (whatsapp, dingtalk). Safe for concurrent use.
type InboundRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	window  time.Duration
	maxHits int
}

// NewInboundRateLimiter creates a bounded rate limiter. maxHits <= 0 uses
// the default of 30 per minute.
func NewInboundRateLimiter(maxHits int) *InboundRateLimiter {
	if maxHits <= 0 {
		maxHits = defaultRateMaxHits
	}
	return &InboundRateLimiter{
		entries: make(map[string]*rateLimitEntry),
		window:  defaultRateWindow,
		maxHits: maxHits,
	}
}

// Allow reports whether the key is within its window budget. Stale entries
// are pruned when the tracked-key cap is reached.
func (r *InboundRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap.
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
