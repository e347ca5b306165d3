// Package config defines service configuration and its layered loading
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	dbconfig "classpulse/pkg/database"
)

// DevelopmentSecret is the default signing secret; serve warns when it is still in use
const DevelopmentSecret = "classpulse-dev-secret"

// Config is the system-wide settings tree
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json
	LogFormat string `koanf:"log_format"`

	Database  DatabaseConfig  `koanf:"database"`
	HTTP      HTTPConfig      `koanf:"http"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Auth      AuthConfig      `koanf:"auth"`
	Stats     StatsConfig     `koanf:"stats"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// DatabaseConfig selects and tunes the store
type DatabaseConfig struct {
	// Driver is sqlite or memory
	Driver          string        `koanf:"driver"`
	Path            string        `koanf:"path"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxConnections  int           `koanf:"max_connections"`
	WriteRetryDelay time.Duration `koanf:"write_retry_delay"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// HTTPConfig balances performance and reliability of the listener
type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// WebSocketConfig is tuned for classroom-sized groups
type WebSocketConfig struct {
	PingInterval time.Duration `koanf:"ping_interval"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// BufferSize is the per-connection outbound queue length
	BufferSize   int           `koanf:"buffer_size"`
	TickInterval time.Duration `koanf:"tick_interval"`
	AuthTimeout  time.Duration `koanf:"auth_timeout"`
	// RateLimit is the number of inbound messages allowed per connection per minute
	RateLimit      int      `koanf:"rate_limit"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// StatsConfig tunes the statistics aggregator
type StatsConfig struct {
	RecentWindow time.Duration `koanf:"recent_window"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// Default returns production-ready defaults for a single classroom server
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "./data/classpulse.db",
			Timeout:         30 * time.Second,
			MaxConnections:  10,
			WriteRetryDelay: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
			TickInterval: time.Second,
			AuthTimeout:  10 * time.Second,
			RateLimit:    120,
		},
		Auth: AuthConfig{
			JWTSecret: DevelopmentSecret,
			Issuer:    "classpulse",
			TokenTTL:  12 * time.Hour,
		},
		Stats: StatsConfig{
			RecentWindow: 2 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "classpulse",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database path cannot be empty")
		}
	case "memory":
	default:
		return invalid("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return invalid("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return invalid("database max connections must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return invalid("database write retry delay cannot be negative")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return invalid("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return invalid("HTTP timeouts must be positive")
	}

	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.ReadTimeout <= 0 || ws.WriteTimeout <= 0 {
		return invalid("WebSocket timeouts must be positive")
	}
	// FUNCTIONAL DISCOVERY: a pong can only arrive after a ping, so the read deadline
	// must outlast the ping interval or idle clients are dropped
	if ws.PingInterval >= ws.ReadTimeout {
		return invalid("WebSocket ping interval (%s) must be shorter than read timeout (%s)", ws.PingInterval, ws.ReadTimeout)
	}
	if ws.BufferSize <= 0 {
		return invalid("WebSocket buffer size must be positive")
	}
	if ws.TickInterval <= 0 || ws.AuthTimeout <= 0 {
		return invalid("WebSocket tick interval and auth timeout must be positive")
	}
	if ws.RateLimit < 0 {
		return invalid("WebSocket rate limit cannot be negative")
	}

	if c.Auth.JWTSecret == "" {
		return invalid("auth jwt secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return invalid("auth token ttl must be positive")
	}

	if c.Stats.RecentWindow <= 0 {
		return invalid("stats recent window must be positive")
	}

	return nil
}

// Addr is the HTTP listen address
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// StoreConfig maps the database section onto the store's own configuration
func (d DatabaseConfig) StoreConfig() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = d.Path
	cfg.MaxConnections = d.MaxConnections
	cfg.WriteTimeout = d.Timeout
	cfg.WriteRetryDelay = d.WriteRetryDelay
	cfg.MigrationsPath = d.MigrationsPath
	return cfg
}
