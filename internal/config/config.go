package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the codeshare relay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the WebSocket listener settings.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	TLS            TLSConfig     `yaml:"tls"`
}

// RoomsConfig controls room state retention.
type RoomsConfig struct {
	DefaultLanguage string        `yaml:"default_language"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`       // 0 disables eviction
	SweepInterval   time.Duration `yaml:"sweep_interval"` // how often to check for idle rooms
	ActivityBuffer  int           `yaml:"activity_buffer"`
}

// ExecutionConfig points at a Judge0-compatible execution service.
// When disabled, /api/execute returns 503; the relay still forwards
// code-execution events produced elsewhere.
type ExecutionConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	APIHost      string        `yaml:"api_host"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// TLSConfig contains optional TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig contains security-related settings.
type SecurityConfig struct {
	AuthToken           string          `yaml:"auth_token"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
	MessagesPerSecond    int  `yaml:"messages_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains health/admin endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
	AdminAPI      bool   `yaml:"admin_api"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "0.0.0.0:8080",
			MaxMessageSize: 1048576, // 1MB, room for large source files
			PingInterval:   25 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			DrainTimeout:   30 * time.Second,
		},
		Rooms: RoomsConfig{
			DefaultLanguage: "python",
			IdleTTL:         0,
			SweepInterval:   5 * time.Minute,
			ActivityBuffer:  256,
		},
		Execution: ExecutionConfig{
			Enabled:      false,
			URL:          "https://judge0-ce.p.rapidapi.com",
			APIHost:      "judge0-ce.p.rapidapi.com",
			PollInterval: 1 * time.Second,
			MaxAttempts:  10,
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 20,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
				MessagesPerSecond:    100,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
			Detailed:      true,
			AdminAPI:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
// An empty path loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'codeshare setup' to create one)", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 67108864 {
		return fmt.Errorf("server.max_message_size must not exceed 67108864 (64MB)")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Rooms.DefaultLanguage == "" {
		return fmt.Errorf("rooms.default_language is required")
	}
	if c.Rooms.IdleTTL > 0 && c.Rooms.SweepInterval <= 0 {
		return fmt.Errorf("rooms.sweep_interval must be positive when rooms.idle_ttl is set")
	}
	if c.Rooms.ActivityBuffer < 0 {
		return fmt.Errorf("rooms.activity_buffer must not be negative")
	}

	if c.Execution.Enabled {
		if c.Execution.URL == "" {
			return fmt.Errorf("execution.url is required when execution is enabled")
		}
		if u, err := url.Parse(c.Execution.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("execution.url must use http:// or https:// scheme")
		}
		if c.Execution.PollInterval <= 0 {
			return fmt.Errorf("execution.poll_interval must be positive")
		}
		if c.Execution.MaxAttempts <= 0 {
			return fmt.Errorf("execution.max_attempts must be positive")
		}
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing admin endpoints")
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies CODESHARE_ prefixed environment variables.
// Convention: CODESHARE_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"CODESHARE_SERVER_LISTEN_ADDRESS":   func(v string) { cfg.Server.ListenAddress = v },
		"CODESHARE_SERVER_ALLOWED_ORIGINS":  func(v string) { cfg.Server.AllowedOrigins = splitList(v) },
		"CODESHARE_SERVER_MAX_MESSAGE_SIZE": func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"CODESHARE_SERVER_PING_INTERVAL":    func(v string) { cfg.Server.PingInterval = parseDuration(v, cfg.Server.PingInterval) },
		"CODESHARE_SERVER_PONG_TIMEOUT":     func(v string) { cfg.Server.PongTimeout = parseDuration(v, cfg.Server.PongTimeout) },
		"CODESHARE_SERVER_WRITE_TIMEOUT":    func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"CODESHARE_SERVER_DRAIN_TIMEOUT":    func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"CODESHARE_ROOMS_DEFAULT_LANGUAGE":  func(v string) { cfg.Rooms.DefaultLanguage = v },
		"CODESHARE_ROOMS_IDLE_TTL":          func(v string) { cfg.Rooms.IdleTTL = parseDuration(v, cfg.Rooms.IdleTTL) },
		"CODESHARE_EXECUTION_ENABLED":       func(v string) { cfg.Execution.Enabled = parseBool(v, cfg.Execution.Enabled) },
		"CODESHARE_EXECUTION_URL":           func(v string) { cfg.Execution.URL = v },
		"CODESHARE_EXECUTION_API_KEY":       func(v string) { cfg.Execution.APIKey = v },
		"CODESHARE_EXECUTION_API_HOST":      func(v string) { cfg.Execution.APIHost = v },
		"CODESHARE_EXECUTION_POLL_INTERVAL": func(v string) { cfg.Execution.PollInterval = parseDuration(v, cfg.Execution.PollInterval) },
		"CODESHARE_EXECUTION_MAX_ATTEMPTS":  func(v string) { cfg.Execution.MaxAttempts = parseInt(v, cfg.Execution.MaxAttempts) },
		"CODESHARE_SECURITY_AUTH_TOKEN":     func(v string) { cfg.Security.AuthToken = v },
		"CODESHARE_SECURITY_MAX_CONNECTIONS": func(v string) {
			cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections)
		},
		"CODESHARE_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) {
			cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP)
		},
		"CODESHARE_SECURITY_RATE_LIMIT_ENABLED": func(v string) {
			cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled)
		},
		"CODESHARE_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"CODESHARE_SECURITY_RATE_LIMIT_MESSAGES_PER_SECOND": func(v string) {
			cfg.Security.RateLimit.MessagesPerSecond = parseInt(v, cfg.Security.RateLimit.MessagesPerSecond)
		},
		"CODESHARE_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"CODESHARE_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"CODESHARE_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"CODESHARE_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"CODESHARE_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields copies reloadable fields from newCfg into c.
// Non-reloadable: listen addresses, TLS, execution endpoint.
func (c *Config) ApplyReloadableFields(newCfg *Config) {
	c.Security.RateLimit = newCfg.Security.RateLimit
	c.Security.AuthToken = newCfg.Security.AuthToken
	c.Security.MaxConnections = newCfg.Security.MaxConnections
	c.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	c.Logging.Level = newCfg.Logging.Level
	c.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	c.Server.AllowedOrigins = newCfg.Server.AllowedOrigins
	c.Rooms.IdleTTL = newCfg.Rooms.IdleTTL
}

// IsReloadSafe reports which changed fields require a restart.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Server.TLS != new.Server.TLS {
		warnings = append(warnings, "server.tls requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	if old.Execution.URL != new.Execution.URL || old.Execution.Enabled != new.Execution.Enabled {
		warnings = append(warnings, "execution settings require restart")
	}
	return warnings
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
