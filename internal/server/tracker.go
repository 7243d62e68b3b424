package server

import (
	"sync"
	"sync/atomic"
)

// ConnTracker counts active connections globally and per client IP, so
// the handler can enforce connection caps before accepting a socket.
type ConnTracker struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	totalMessages     atomic.Int64

	ipConnections map[string]int
	ipMu          sync.Mutex
}

// NewConnTracker creates an empty tracker.
func NewConnTracker() *ConnTracker {
	return &ConnTracker{
		ipConnections: make(map[string]int),
	}
}

// ConnectionCount returns the current number of active connections.
func (t *ConnTracker) ConnectionCount() int {
	return int(t.activeConnections.Load())
}

// ConnectionCountForIP returns the active connection count for one IP.
func (t *ConnTracker) ConnectionCountForIP(ip string) int {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()
	return t.ipConnections[ip]
}

// TryIncrement atomically checks limits and increments counters.
// Returns "" on success, or a reason string if a limit was hit.
func (t *ConnTracker) TryIncrement(ip string, maxGlobal, maxPerIP int) string {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()

	// Read the atomic under the lock to prevent TOCTOU
	if int(t.activeConnections.Load()) >= maxGlobal {
		return "max_connections"
	}
	if t.ipConnections[ip] >= maxPerIP {
		return "max_connections_per_ip"
	}

	t.activeConnections.Add(1)
	t.totalConnections.Add(1)
	t.ipConnections[ip]++
	return ""
}

// Decrement decrements both global and per-IP connection counters.
func (t *ConnTracker) Decrement(ip string) {
	t.activeConnections.Add(-1)
	t.ipMu.Lock()
	t.ipConnections[ip]--
	if t.ipConnections[ip] <= 0 {
		delete(t.ipConnections, ip)
	}
	t.ipMu.Unlock()
}

// IncrementMessages increments the total inbound messages counter.
func (t *ConnTracker) IncrementMessages() {
	t.totalMessages.Add(1)
}

// TotalConnections returns connections handled since start.
func (t *ConnTracker) TotalConnections() int64 {
	return t.totalConnections.Load()
}

// TotalMessages returns inbound messages relayed since start.
func (t *ConnTracker) TotalMessages() int64 {
	return t.totalMessages.Load()
}
