package security

import (
	"fmt"
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllow(t *testing.T) {
	// 1 connection per second, burst of 2
	rl := NewRateLimiter(rate.Limit(1), 2)
	defer rl.Stop()

	ip := "203.0.113.1"

	if !rl.Allow(ip) {
		t.Error("first connection should be allowed")
	}
	if !rl.Allow(ip) {
		t.Error("second connection (burst) should be allowed")
	}
	if rl.Allow(ip) {
		t.Error("third connection should be denied (burst exhausted)")
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	if !rl.Allow("203.0.113.1") {
		t.Error("IP A first connection should be allowed")
	}
	if rl.Allow("203.0.113.1") {
		t.Error("IP A second connection should be denied")
	}

	// IP B has its own bucket
	if !rl.Allow("203.0.113.2") {
		t.Error("IP B first connection should be allowed")
	}
}

func TestRateLimiterUpdateRate(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	ip := "203.0.113.1"
	rl.Allow(ip)

	// Reload with a larger burst clears existing buckets
	rl.UpdateRate(rate.Limit(1), 5)

	if !rl.Allow(ip) {
		t.Error("should be allowed after rate update")
	}
}

func TestRateLimiterMaxEntries(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 10)
	defer rl.Stop()

	rl.mu.Lock()
	rl.maxEntries = 3
	rl.mu.Unlock()

	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("203.0.113.%d", i+1)
		if !rl.Allow(ip) {
			t.Errorf("IP %s should be allowed (map not full)", ip)
		}
	}

	if rl.Allow("203.0.113.100") {
		t.Error("should reject new IP when map is at capacity")
	}

	if !rl.Allow("203.0.113.1") {
		t.Error("existing IP should still be allowed")
	}
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	rl.Stop() // must not panic or deadlock
}
