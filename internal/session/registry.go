package session

import "sync"

// UserRegistry maps connection IDs to display names. It is the sole
// owner of that mapping; the membership index cross-references it when
// assembling member lists.
// Thread-safe via sync.RWMutex.
type UserRegistry struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewUserRegistry creates an empty registry.
func NewUserRegistry() *UserRegistry {
	return &UserRegistry{names: make(map[string]string)}
}

// Register records the display name for a connection. Names are not
// required to be unique across connections.
func (r *UserRegistry) Register(connID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[connID] = username
}

// Lookup returns the display name for a connection, or ("", false) if
// the connection never joined. Callers emit events with an empty
// username in that case.
func (r *UserRegistry) Lookup(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[connID]
	return name, ok
}

// Unregister removes the mapping. It is idempotent.
func (r *UserRegistry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, connID)
}

// Count returns the number of registered connections.
func (r *UserRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
