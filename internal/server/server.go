// Package server accepts WebSocket connections from editor clients,
// feeds inbound frames to the session relay, and hosts the execution
// HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/cortexuvula/codeshare/internal/config"
	"github.com/cortexuvula/codeshare/internal/execute"
	"github.com/cortexuvula/codeshare/internal/metrics"
	"github.com/cortexuvula/codeshare/internal/security"
	"github.com/cortexuvula/codeshare/internal/session"
)

// Handler is the HTTP handler for the main listener: WebSocket room
// connections on /ws and the execution API on /api/execute.
type Handler struct {
	Relay       *session.Relay
	Tracker     *ConnTracker
	RateLimiter *security.RateLimiter // optional, nil if rate limiting disabled
	Metrics     *metrics.Metrics      // optional, nil if metrics disabled
	Exec        *execute.Client       // optional, nil if execution disabled
	ShutdownCtx context.Context       // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining. Active
	// connections watch it to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	mux *http.ServeMux

	// mu protects cfg during hot-reload
	mu  sync.RWMutex
	cfg *config.Config
}

// NewHandler creates the main listener handler.
func NewHandler(cfg *config.Config, relay *session.Relay, tracker *ConnTracker, rl *security.RateLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())

	h := &Handler{
		Relay:       relay,
		Tracker:     tracker,
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		cfg:         cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/api/execute", h.handleExecute)
	h.mux = mux
	return h
}

// StartDrain signals all active connections to begin graceful shutdown.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleWS gates, accepts, and runs one editor connection until it
// closes. The read loop dispatches every frame to the relay
// synchronously, which is what keeps a single connection's events in
// send order.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}

	// Optional auth token check (header first, query param fallback for
	// browser WebSocket clients that cannot set headers)
	if cfg.Security.AuthToken != "" {
		token := security.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !security.TokenMatch(token, cfg.Security.AuthToken) {
			slog.Warn("rejected invalid auth token", "client_ip", clientIP)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("connection rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// Connection limits (atomic check-and-increment to prevent TOCTOU race)
	if reason := h.Tracker.TryIncrement(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Tracker.ConnectionCount(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.ConnectionCountForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		h.Tracker.Decrement(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		slog.Error("failed to accept WebSocket", "client_ip", clientIP, "error", err)
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	connID := newConnID()
	slog.Info("connection established", "conn", connID, "client_ip", clientIP)

	// connCtx governs the whole connection: cancelled by shutdown,
	// keepalive failure, or read loop exit.
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)

	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { conn.Close(code, reason) })
	}

	// Keepalive must run concurrently with Reader per coder/websocket docs.
	if cfg.Server.PingInterval > 0 {
		go h.keepAlive(connCtx, conn, cfg.Server.PingInterval, cfg.Server.PongTimeout, connCancel)
	}

	// Drain watcher: a graceful close frame makes Read return in the
	// loop below, triggering normal teardown.
	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
		}
	}()

	var msgLimiter *rate.Limiter
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.MessagesPerSecond > 0 {
		msgLimiter = rate.NewLimiter(rate.Limit(cfg.Security.RateLimit.MessagesPerSecond), cfg.Security.RateLimit.MessagesPerSecond)
	}

	sender := &wsSender{conn: conn, timeout: cfg.Server.WriteTimeout}
	start := time.Now()

	for {
		msgType, payload, err := conn.Read(connCtx)
		if err != nil {
			slog.Debug("read loop stopped", "conn", connID, "reason", err)
			break
		}
		if msgType != websocket.MessageText {
			continue
		}
		if msgLimiter != nil {
			if err := msgLimiter.Wait(connCtx); err != nil {
				slog.Debug("message rate limit", "conn", connID, "reason", err)
				break
			}
		}

		h.Tracker.IncrementMessages()
		h.Relay.HandleMessage(connCtx, connID, sender, payload)
	}

	// Teardown order matters: announce the departure to room peers
	// before the connection's send handle disappears.
	h.Relay.Disconnect(h.ShutdownCtx, connID)
	connCancel()
	closeConn(websocket.StatusNormalClosure, "")
	h.Tracker.Decrement(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	slog.Info("connection closed", "conn", connID, "client_ip", clientIP, "duration", time.Since(start).String())
}

// keepAlive sends periodic WebSocket pings to detect dead connections.
// If a ping fails or times out, it closes the connection and cancels
// the connection context.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// wsSender adapts a coder/websocket connection to session.Sender.
// coder/websocket serializes writes internally, so concurrent sends
// from broadcast and seed paths are safe.
type wsSender struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSender) Send(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, payload)
}

// newConnID generates an opaque connection identifier, unique for the
// connection's lifetime. Clients see it as "socketId" on the wire.
func newConnID() string {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		// rand.Reader failing means the process is in much deeper
		// trouble than a weak connection ID
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
