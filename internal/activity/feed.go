package activity

import (
	"sync"
	"time"
)

// Entry is one recorded room event for the admin activity view.
type Entry struct {
	Time     time.Time `json:"time"`
	Room     string    `json:"room"`
	Event    string    `json:"event"`
	Username string    `json:"username,omitempty"`
}

// Feed is a thread-safe circular buffer of recent room activity
// (joins, leaves, executions). When full, the oldest entry is
// overwritten.
type Feed struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // next write position
	full    bool
	cap     int
}

// NewFeed creates a feed retaining up to capacity entries.
func NewFeed(capacity int) *Feed {
	if capacity < 1 {
		capacity = 1
	}
	return &Feed{
		entries: make([]Entry, capacity),
		cap:     capacity,
	}
}

// Record appends an entry, overwriting the oldest if the buffer is full.
func (f *Feed) Record(room, event, username string) {
	f.mu.Lock()
	f.entries[f.head] = Entry{
		Time:     time.Now(),
		Room:     room,
		Event:    event,
		Username: username,
	}
	f.head = (f.head + 1) % f.cap
	if f.head == 0 {
		f.full = true
	}
	f.mu.Unlock()
}

// Recent returns up to limit entries, newest first. limit <= 0 returns
// everything retained.
func (f *Feed) Recent(limit int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.len()
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (f.head - 1 - i + f.cap) % f.cap
		result = append(result, f.entries[idx])
	}
	return result
}

// Len returns the number of retained entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.len()
}

func (f *Feed) len() int {
	if f.full {
		return f.cap
	}
	return f.head
}
