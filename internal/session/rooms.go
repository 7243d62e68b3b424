package session

import (
	"context"
	"sync"
)

// Sender delivers one outbound frame to a single connection. The server
// wraps each WebSocket connection in a Sender with its write timeout;
// tests substitute in-memory implementations.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// RoomIndex tracks which connections are in which rooms and holds the
// send handle for each connection. A connection may be in any number of
// rooms, though the editor client only ever joins one.
// Thread-safe via sync.RWMutex.
type RoomIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Sender // roomID -> connID -> sender
	conns map[string]connMembership    // connID -> sender + joined rooms
}

type connMembership struct {
	sender Sender
	rooms  map[string]bool
}

// NewRoomIndex creates an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms: make(map[string]map[string]Sender),
		conns: make(map[string]connMembership),
	}
}

// Join adds a connection to a room, creating the room on first join.
func (ri *RoomIndex) Join(roomID, connID string, sender Sender) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if ri.rooms[roomID] == nil {
		ri.rooms[roomID] = make(map[string]Sender)
	}
	ri.rooms[roomID][connID] = sender

	m, ok := ri.conns[connID]
	if !ok {
		m = connMembership{sender: sender, rooms: make(map[string]bool)}
		ri.conns[connID] = m
	}
	m.rooms[roomID] = true
}

// LeaveAll removes a connection from every room it joined and drops its
// send handle. It returns the rooms the connection was in so the relay
// can announce the departure. Idempotent for unknown connections.
func (ri *RoomIndex) LeaveAll(connID string) []string {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	m, ok := ri.conns[connID]
	if !ok {
		return nil
	}

	left := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		left = append(left, roomID)
		if members := ri.rooms[roomID]; members != nil {
			delete(members, connID)
			if len(members) == 0 {
				delete(ri.rooms, roomID)
			}
		}
	}
	delete(ri.conns, connID)
	return left
}

// MemberIDs returns the connection IDs currently in a room. Order is
// map iteration order and not stable across joins and leaves.
func (ri *RoomIndex) MemberIDs(roomID string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	members := ri.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Rooms returns the rooms a connection is currently in.
func (ri *RoomIndex) Rooms(connID string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	m, ok := ri.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Sender returns the send handle for a connection, or (nil, false) if
// the connection is gone. Single-target sends to a departed connection
// are a no-op at the caller.
func (ri *RoomIndex) Sender(connID string) (Sender, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	m, ok := ri.conns[connID]
	if !ok {
		return nil, false
	}
	return m.sender, true
}

// targets snapshots the senders for a room, optionally excluding one
// connection. Writes happen after the lock is released; Sender
// implementations serialize their own writes.
func (ri *RoomIndex) targets(roomID, excludeID string) []Sender {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	members := ri.rooms[roomID]
	out := make([]Sender, 0, len(members))
	for id, s := range members {
		if id != excludeID {
			out = append(out, s)
		}
	}
	return out
}

// RoomIDs returns the IDs of all rooms with at least one member.
func (ri *RoomIndex) RoomIDs() []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	ids := make([]string, 0, len(ri.rooms))
	for id := range ri.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Occupied reports whether a room currently has any members. The state
// sweeper uses it to leave occupied rooms alone.
func (ri *RoomIndex) Occupied(roomID string) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.rooms[roomID]) > 0
}

// RoomCount returns the number of rooms with at least one member.
func (ri *RoomIndex) RoomCount() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.rooms)
}

// ConnCount returns the number of tracked connections.
func (ri *RoomIndex) ConnCount() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.conns)
}
