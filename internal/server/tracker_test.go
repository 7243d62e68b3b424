package server

import (
	"fmt"
	"sync"
	"testing"
)

func TestTrackerGlobalLimit(t *testing.T) {
	tr := NewConnTracker()

	for i := 0; i < 3; i++ {
		if reason := tr.TryIncrement(fmt.Sprintf("10.0.0.%d", i), 3, 10); reason != "" {
			t.Fatalf("increment %d rejected: %s", i, reason)
		}
	}
	if reason := tr.TryIncrement("10.0.0.9", 3, 10); reason != "max_connections" {
		t.Errorf("reason = %q, want max_connections", reason)
	}

	tr.Decrement("10.0.0.0")
	if reason := tr.TryIncrement("10.0.0.9", 3, 10); reason != "" {
		t.Errorf("increment after decrement rejected: %s", reason)
	}
}

func TestTrackerPerIPLimit(t *testing.T) {
	tr := NewConnTracker()

	if reason := tr.TryIncrement("10.0.0.1", 100, 2); reason != "" {
		t.Fatal(reason)
	}
	if reason := tr.TryIncrement("10.0.0.1", 100, 2); reason != "" {
		t.Fatal(reason)
	}
	if reason := tr.TryIncrement("10.0.0.1", 100, 2); reason != "max_connections_per_ip" {
		t.Errorf("reason = %q, want max_connections_per_ip", reason)
	}
	// A different IP is unaffected
	if reason := tr.TryIncrement("10.0.0.2", 100, 2); reason != "" {
		t.Errorf("other IP rejected: %s", reason)
	}

	if got := tr.ConnectionCountForIP("10.0.0.1"); got != 2 {
		t.Errorf("per-IP count = %d, want 2", got)
	}
}

func TestTrackerDecrementCleansUpIPEntry(t *testing.T) {
	tr := NewConnTracker()
	tr.TryIncrement("10.0.0.1", 10, 10)
	tr.Decrement("10.0.0.1")

	if got := tr.ConnectionCountForIP("10.0.0.1"); got != 0 {
		t.Errorf("count after decrement = %d, want 0", got)
	}
	if got := tr.ConnectionCount(); got != 0 {
		t.Errorf("global count = %d, want 0", got)
	}
	if got := tr.TotalConnections(); got != 1 {
		t.Errorf("total = %d, want 1 (totals never decrease)", got)
	}
}

func TestTrackerConcurrentIncrements(t *testing.T) {
	tr := NewConnTracker()
	const limit = 50

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.TryIncrement("10.0.0.1", limit, limit) == "" {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != limit {
		t.Errorf("admitted %d connections, want exactly %d", count, limit)
	}
}
