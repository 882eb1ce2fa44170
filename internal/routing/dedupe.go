package routing

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultDedupeTTL is how long a seen event key rejects re-delivery.
	DefaultDedupeTTL = 20 * time.Minute

	// DefaultDedupeMaxEntries caps live entries; oldest are evicted first.
	DefaultDedupeMaxEntries = 5000
)

type dedupeEntry struct {
	key        string
	insertedAt time.Time
}

// DedupeCache is a time- and size-bounded idempotency filter. A key checked
// within its TTL window means already processed, reject.
//
// Entries expire TTL after first insertion: a repeat hit does NOT refresh the
// timestamp, so the duplicate window is bounded deterministically. Safe for
// concurrent use; the check-and-insert pair is atomic under one mutex.
type DedupeCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element // key → element in order
	order      *list.List               // insertion order, oldest at front
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewDedupeCache creates a cache with the given TTL and capacity.
// Zero values fall back to the defaults.
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultDedupeMaxEntries
	}
	return &DedupeCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock overrides the cache's clock. Test hook.
func (c *DedupeCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Check reports whether key is a live duplicate, inserting it when unseen.
// Returns true when the key was already checked within the TTL window.
func (c *DedupeCache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*dedupeEntry)
		if now.Sub(entry.insertedAt) < c.ttl {
			return true
		}
		// Expired: treat as fresh, restart the window.
		c.order.Remove(el)
		delete(c.entries, key)
	}

	c.evictLocked(now)
	c.entries[key] = c.order.PushBack(&dedupeEntry{key: key, insertedAt: now})
	return false
}

// Len returns the number of live entries.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear empties all state. Test/reset hook.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// evictLocked drops expired entries from the front, then enforces the size
// cap by evicting oldest-first regardless of TTL.
func (c *DedupeCache) evictLocked(now time.Time) {
	for el := c.order.Front(); el != nil; {
		entry := el.Value.(*dedupeEntry)
		if now.Sub(entry.insertedAt) < c.ttl {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, entry.key)
		el = next
	}

	for len(c.entries) >= c.maxEntries {
		el := c.order.Front()
		if el == nil {
			break
		}
		entry := el.Value.(*dedupeEntry)
		c.order.Remove(el)
		delete(c.entries, entry.key)
	}
}
