package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// Stats is the subset of connection counters the health endpoint reports.
type Stats interface {
	ConnectionCount() int
	TotalConnections() int64
	TotalMessages() int64
}

// RoomCounter reports how many rooms currently have members.
type RoomCounter interface {
	RoomCount() int
}

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveConnections int      `json:"active_connections"`
	ActiveRooms       int      `json:"active_rooms"`
	JudgeReachable    *bool    `json:"judge_reachable,omitempty"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	TotalMessages    int64   `json:"total_messages"`
	MemoryMB         float64 `json:"memory_mb"`
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	stats     Stats
	rooms     RoomCounter
	judgeURL  string // empty when execution is disabled
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler. judgeURL may be empty,
// in which case judge reachability is not reported.
func NewHandler(stats Stats, rooms RoomCounter, judgeURL, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		stats:     stats,
		rooms:     rooms,
		judgeURL:  judgeURL,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests. The health listener runs on
// a loopback address separate from the room listener, so local
// monitoring can poll it without touching the public surface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpCode := http.StatusOK

	resp := Response{
		Status:            status,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections: h.stats.ConnectionCount(),
		ActiveRooms:       h.rooms.RoomCount(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.judgeURL != "" {
		ok := h.checkJudge()
		resp.JudgeReachable = &ok
		if !ok {
			resp.Status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.stats.TotalConnections(),
			TotalMessages:    h.stats.TotalMessages(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

// noRedirectClient refuses to follow HTTP redirects to prevent SSRF
// amplification from a misconfigured judge URL.
var noRedirectClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// checkJudge verifies the execution service answers HTTP at all. Any
// response, even 4xx, means it is alive; submissions are not created.
func (h *Handler) checkJudge() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.judgeURL, nil)
	if err != nil {
		slog.Debug("judge health check request creation failed", "error", err)
		return false
	}

	resp, err := noRedirectClient.Do(req)
	if err != nil {
		slog.Debug("judge unreachable", "url", h.judgeURL, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}
