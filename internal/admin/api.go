// Package admin exposes a read-only JSON API on the loopback health
// listener: process status, live rooms with their members and stored
// state, and the recent activity feed.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/cortexuvula/codeshare/internal/activity"
	"github.com/cortexuvula/codeshare/internal/health"
	"github.com/cortexuvula/codeshare/internal/session"
)

// API serves the admin endpoints.
type API struct {
	startTime time.Time
	stats     health.Stats
	relay     *session.Relay
	rooms     *session.RoomIndex
	state     *session.RoomState
	feed      *activity.Feed
	version   string
}

// New creates the admin API.
func New(stats health.Stats, relay *session.Relay, rooms *session.RoomIndex, state *session.RoomState, feed *activity.Feed, version string) *API {
	return &API{
		startTime: time.Now(),
		stats:     stats,
		relay:     relay,
		rooms:     rooms,
		state:     state,
		feed:      feed,
		version:   version,
	}
}

// Register mounts the admin routes on a mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", a.handleStatus)
	mux.HandleFunc("/api/v1/rooms", a.handleRooms)
	mux.HandleFunc("/api/v1/activity", a.handleActivity)
}

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ActiveConnections int     `json:"active_connections"`
	ActiveRooms       int     `json:"active_rooms"`
	StateEntries      int     `json:"state_entries"`
	TotalConnections  int64   `json:"total_connections"`
	TotalMessages     int64   `json:"total_messages"`
	MemoryMB          float64 `json:"memory_mb"`
	Goroutines        int     `json:"goroutines"`
	Version           string  `json:"version"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	uptime := time.Since(a.startTime)

	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		ActiveConnections: a.stats.ConnectionCount(),
		ActiveRooms:       a.rooms.RoomCount(),
		StateEntries:      a.state.EntryCount(),
		TotalConnections:  a.stats.TotalConnections(),
		TotalMessages:     a.stats.TotalMessages(),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           a.version,
	})
}

// roomEntry is one room in the GET /api/v1/rooms response.
type roomEntry struct {
	Room        string           `json:"room"`
	Members     []session.Member `json:"members"`
	HasCode     bool             `json:"has_code"`
	HasInput    bool             `json:"has_input"`
	HasLanguage bool             `json:"has_language"`
	HasResult   bool             `json:"has_result"`
}

func (a *API) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := a.rooms.RoomIDs()
	entries := make([]roomEntry, 0, len(ids))
	for _, roomID := range ids {
		hasCode, hasInput, hasLang, hasExec := a.state.Fields(roomID)
		entries = append(entries, roomEntry{
			Room:        roomID,
			Members:     a.relay.Members(roomID),
			HasCode:     hasCode,
			HasInput:    hasInput,
			HasLanguage: hasLang,
			HasResult:   hasExec,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Room < entries[j].Room })

	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := a.feed.Recent(limit)
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing admin response", "error", err)
	}
}
