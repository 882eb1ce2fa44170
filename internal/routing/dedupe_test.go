package routing

import (
	"fmt"
	"testing"
	"time"
)

// TestDedupeCache_Duplicate verifies the basic idempotency contract: first
// check inserts, second check within the TTL rejects.
func TestDedupeCache_Duplicate(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)

	if c.Check("k1") {
		t.Error("first Check(k1) reported a duplicate")
	}
	if !c.Check("k1") {
		t.Error("second Check(k1) did not report a duplicate")
	}
	if c.Check("k2") {
		t.Error("Check(k2) reported a duplicate for an unseen key")
	}
}

// TestDedupeCache_TTLWindowNotRefreshed verifies the window is anchored to
// first insertion: repeated duplicate hits do not extend it, and after
// expiry the key is treated as fresh again.
func TestDedupeCache_TTLWindowNotRefreshed(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupeCache(time.Minute, 100)
	c.SetClock(func() time.Time { return now })

	c.Check("k") // insert at t=0

	now = now.Add(30 * time.Second)
	if !c.Check("k") {
		t.Fatal("duplicate inside the window was not rejected")
	}

	// 31s after the duplicate hit but 61s after insertion. A refreshing
	// cache would still reject; this one must admit.
	now = now.Add(31 * time.Second)
	if c.Check("k") {
		t.Error("key was still rejected after the insertion-anchored TTL expired")
	}

	// The fresh insert restarts the window.
	now = now.Add(30 * time.Second)
	if !c.Check("k") {
		t.Error("key was not rejected inside the restarted window")
	}
}

// TestDedupeCache_CapacityEviction verifies oldest-first eviction when the
// entry cap is reached, and that evicted keys are admitted again.
func TestDedupeCache_CapacityEviction(t *testing.T) {
	c := NewDedupeCache(time.Hour, 3)

	for i := 0; i < 3; i++ {
		c.Check(fmt.Sprintf("k%d", i))
	}
	c.Check("k3") // evicts k0

	if got := c.Len(); got > 3 {
		t.Errorf("Len() = %d, want <= 3", got)
	}
	if c.Check("k0") {
		t.Error("evicted key k0 was still rejected")
	}
	if !c.Check("k3") {
		t.Error("live key k3 was not rejected")
	}
}

// TestDedupeCache_ExpiredSweep verifies expired entries are dropped from the
// live count during checks.
func TestDedupeCache_ExpiredSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupeCache(time.Minute, 100)
	c.SetClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		c.Check(fmt.Sprintf("old%d", i))
	}

	now = now.Add(2 * time.Minute)
	c.Check("fresh")

	if got := c.Len(); got != 1 {
		t.Errorf("Len() = %d after sweep, want 1", got)
	}
}

func TestDedupeCache_Clear(t *testing.T) {
	c := NewDedupeCache(time.Hour, 100)
	c.Check("k")
	c.Clear()

	if got := c.Len(); got != 0 {
		t.Errorf("Len() = %d after Clear, want 0", got)
	}
	if c.Check("k") {
		t.Error("key survived Clear")
	}
}
