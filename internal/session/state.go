package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RoomState holds the latest known shared state per room: code text,
// input text, selected language, and the last execution result. Writes
// are last-write-wins; reads distinguish "never written" from a stored
// empty string, which join seeding depends on. Entries are created on
// the first write and live for the process lifetime unless idle
// eviction is enabled.
// Thread-safe via sync.RWMutex.
type RoomState struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	code        string
	hasCode     bool
	input       string
	hasInput    bool
	language    string
	hasLanguage bool
	exec        *ExecResult
	touched     time.Time
}

// NewRoomState creates an empty store.
func NewRoomState() *RoomState {
	return &RoomState{rooms: make(map[string]*roomEntry)}
}

func (s *RoomState) entry(roomID string) *roomEntry {
	e, ok := s.rooms[roomID]
	if !ok {
		e = &roomEntry{}
		s.rooms[roomID] = e
	}
	e.touched = time.Now()
	return e
}

// SetCode overwrites the room's code text.
func (s *RoomState) SetCode(roomID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(roomID)
	e.code = code
	e.hasCode = true
}

// Code returns the room's code text. ok is false only if no code was
// ever written for the room; an empty string can be a real value.
func (s *RoomState) Code(roomID string) (code string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.rooms[roomID]
	if !found {
		return "", false
	}
	return e.code, e.hasCode
}

// SetInput overwrites the room's input text.
func (s *RoomState) SetInput(roomID, input string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(roomID)
	e.input = input
	e.hasInput = true
}

// Input returns the room's input text, with the same presence contract
// as Code.
func (s *RoomState) Input(roomID string) (input string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.rooms[roomID]
	if !found {
		return "", false
	}
	return e.input, e.hasInput
}

// SetLanguage overwrites the room's selected language.
func (s *RoomState) SetLanguage(roomID, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(roomID)
	e.language = language
	e.hasLanguage = true
}

// Language returns the room's selected language.
func (s *RoomState) Language(roomID string) (language string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.rooms[roomID]
	if !found {
		return "", false
	}
	return e.language, e.hasLanguage
}

// SetExecResult overwrites the room's last execution result. Exactly
// one result is held per room at a time.
func (s *RoomState) SetExecResult(roomID string, res ExecResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(roomID)
	e.exec = &res
}

// ExecResult returns a copy of the room's last execution result.
func (s *RoomState) ExecResult(roomID string) (ExecResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.rooms[roomID]
	if !found || e.exec == nil {
		return ExecResult{}, false
	}
	return *e.exec, true
}

// Fields reports which state fields are present for a room, for the
// admin API.
func (s *RoomState) Fields(roomID string) (hasCode, hasInput, hasLanguage, hasExec bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.rooms[roomID]
	if !found {
		return false, false, false, false
	}
	return e.hasCode, e.hasInput, e.hasLanguage, e.exec != nil
}

// EntryCount returns the number of rooms with stored state.
func (s *RoomState) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Sweep removes rooms that have not been written within ttl AND have
// no connected members per the occupied check. A room that is merely
// quiet keeps its state as long as anyone is in it; eviction only
// touches rooms that are both stale and empty. A nil occupied treats
// every room as empty. Returns the number evicted.
func (s *RoomState) Sweep(ttl time.Duration, occupied func(roomID string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-ttl)
	for roomID, e := range s.rooms {
		if !e.touched.Before(cutoff) {
			continue
		}
		if occupied != nil && occupied(roomID) {
			continue
		}
		delete(s.rooms, roomID)
		evicted++
	}
	return evicted
}

// RunSweeper periodically evicts idle room state until the context is
// cancelled. Call in its own goroutine; a ttl <= 0 disables eviction
// and returns immediately.
func (s *RoomState) RunSweeper(ctx context.Context, ttl, interval time.Duration, occupied func(roomID string) bool) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ttl, occupied); n > 0 {
				slog.Info("evicted idle room state", "rooms", n, "ttl", ttl.String())
			}
		}
	}
}
