package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"golang.org/x/time/rate"

	"github.com/cortexuvula/codeshare/internal/activity"
	"github.com/cortexuvula/codeshare/internal/admin"
	"github.com/cortexuvula/codeshare/internal/config"
	"github.com/cortexuvula/codeshare/internal/execute"
	"github.com/cortexuvula/codeshare/internal/health"
	"github.com/cortexuvula/codeshare/internal/logging"
	"github.com/cortexuvula/codeshare/internal/metrics"
	"github.com/cortexuvula/codeshare/internal/security"
	"github.com/cortexuvula/codeshare/internal/server"
	"github.com/cortexuvula/codeshare/internal/session"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codeshare",
		Short: "Real-time collaborative code editor relay",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the room relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codeshare %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  Execution enabled: %v\n", cfg.Execution.Enabled)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	var setupPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDefaultConfig(setupPath)
		},
	}
	setupCmd.Flags().StringVar(&setupPath, "config-path", "/etc/codeshare/config.yaml", "Where to write the config file")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	lj := logging.Setup(cfg.Logging)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting codeshare",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"health", cfg.Health.ListenAddress,
		"execution", cfg.Execution.Enabled,
	)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	// Core session state
	registry := session.NewUserRegistry()
	rooms := session.NewRoomIndex()
	state := session.NewRoomState()
	relay := session.NewRelay(registry, rooms, state)

	feed := activity.NewFeed(cfg.Rooms.ActivityBuffer)
	relay.SetActivityFeed(feed)

	if cfg.Rooms.IdleTTL > 0 {
		go state.RunSweeper(shutdownCtx, cfg.Rooms.IdleTTL, cfg.Rooms.SweepInterval, rooms.Occupied)
		slog.Info("room idle eviction enabled", "ttl", cfg.Rooms.IdleTTL.String())
	}

	tracker := server.NewConnTracker()

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
		rl = security.NewRateLimiter(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
		)
	}

	handler := server.NewHandler(cfg, relay, tracker, rl, shutdownCtx)

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		handler.Metrics = m
		relay.SetMetrics(m)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	judgeURL := ""
	if cfg.Execution.Enabled {
		handler.Exec = execute.NewClient(cfg.Execution)
		judgeURL = cfg.Execution.URL
		slog.Info("execution service enabled", "url", judgeURL)
	}

	roomServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: handler,
	}

	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(tracker, rooms, judgeURL, Version, cfg.Health.Detailed)
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)

		if cfg.Health.AdminAPI {
			api := admin.New(tracker, relay, rooms, state, feed, Version)
			api.Register(healthMux)
		}
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		healthServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: healthMux,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("room relay listening", "address", cfg.Server.ListenAddress)
		var err error
		if cfg.Server.TLS.Enabled {
			err = roomServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = roomServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("room server error", "error", err)
		}
	}()

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			for _, w := range config.IsReloadSafe(cfg, newCfg) {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg.ApplyReloadableFields(newCfg)
			handler.UpdateConfig(cfg)

			if cfg.Security.RateLimit.Enabled && rl != nil {
				r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
				rl.UpdateRate(r, cfg.Security.RateLimit.ConnectionsPerMinute)
			}

			logging.Setup(cfg.Logging)
			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Close frames to active editors, then stop the listeners
			handler.StartDrain()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if healthServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					healthServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				roomServer.Shutdown(ctx)
			}()
			wg.Wait()

			shutdownCancel()
			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing config at %s", path)
	}
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}

const defaultConfigYAML = `server:
  listen_address: "0.0.0.0:8080"
  allowed_origins: []
  max_message_size: 1048576
  ping_interval: 25s
  pong_timeout: 10s
  write_timeout: 10s
  drain_timeout: 30s

rooms:
  default_language: python
  idle_ttl: 0s
  sweep_interval: 5m
  activity_buffer: 256

execution:
  enabled: false
  url: "https://judge0-ce.p.rapidapi.com"
  api_host: "judge0-ce.p.rapidapi.com"
  api_key: ""
  poll_interval: 1s
  max_attempts: 10

security:
  auth_token: ""
  max_connections: 1000
  max_connections_per_ip: 20
  rate_limit:
    enabled: true
    connections_per_minute: 60
    messages_per_second: 100

logging:
  level: info
  format: json

health:
  enabled: true
  endpoint: /health
  listen_address: "127.0.0.1:8081"
  detailed: true
  admin_api: true

monitoring:
  metrics_enabled: false
  metrics_endpoint: /metrics
`

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=codeshare - collaborative code editor relay
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=codeshare
Group=codeshare
ExecStartPre=/usr/local/bin/codeshare validate --config /etc/codeshare/config.yaml
ExecStart=/usr/local/bin/codeshare start --config /etc/codeshare/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/codeshare
LogsDirectory=codeshare
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=codeshare

[Install]
WantedBy=multi-user.target
`)
}
