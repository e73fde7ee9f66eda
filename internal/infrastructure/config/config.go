package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Breaker   BreakerConfig
	Gateway   GatewayConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration for the lending service.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the storage pool configuration.
type DatabaseConfig struct {
	Driver           string        `envconfig:"DB_DRIVER" default:"sqlite3"`
	DSN              string        `envconfig:"DB_DSN" default:"file:library.db?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate"`
	PoolMin          int           `envconfig:"DB_POOL_MIN" default:"1"`
	PoolMax          int           `envconfig:"DB_POOL_MAX" default:"5"`
	AcquireTimeout   time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"5s"`
	StatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"10s"`
	ConnMaxLifetime  time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime  time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`
	Migrate          bool          `envconfig:"DB_MIGRATE" default:"true"`
}

// BreakerConfig holds circuit breaker thresholds. The maps override the
// built-in per-resource defaults, e.g. BREAKER_THRESHOLDS="database:3,redis:10".
type BreakerConfig struct {
	DefaultThreshold    int                      `envconfig:"BREAKER_DEFAULT_THRESHOLD" default:"5"`
	DefaultResetTimeout time.Duration            `envconfig:"BREAKER_DEFAULT_RESET" default:"60s"`
	Thresholds          map[string]int           `envconfig:"BREAKER_THRESHOLDS"`
	ResetTimeouts       map[string]time.Duration `envconfig:"BREAKER_RESET_TIMEOUTS"`
}

// GatewayConfig holds the authenticating gateway configuration.
type GatewayConfig struct {
	Port            string        `envconfig:"GATEWAY_PORT" default:"5000"`
	Host            string        `envconfig:"GATEWAY_HOST" default:"0.0.0.0"`
	UpstreamURL     string        `envconfig:"FORWARD_URL"`
	Secret          string        `envconfig:"SECRET_KEY"`
	PublicPaths     []string      `envconfig:"GATEWAY_PUBLIC_PATHS" default:"health,login,register"`
	UpstreamTimeout time.Duration `envconfig:"GATEWAY_UPSTREAM_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:           "sqlite3",
			DSN:              "file:library.db?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate",
			PoolMin:          1,
			PoolMax:          5,
			AcquireTimeout:   5 * time.Second,
			StatementTimeout: 10 * time.Second,
			ConnMaxLifetime:  time.Hour,
			ConnMaxIdleTime:  5 * time.Minute,
			Migrate:          true,
		},
		Breaker: BreakerConfig{
			DefaultThreshold:    5,
			DefaultResetTimeout: 60 * time.Second,
		},
		Gateway: GatewayConfig{
			Port:            "5000",
			Host:            "0.0.0.0",
			PublicPaths:     []string{"health", "login", "register"},
			UpstreamTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks the settings the lending service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "pgx", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be pgx or sqlite3, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.Database.PoolMax < 1 {
		errs = append(errs, errors.New("DB_POOL_MAX must be at least 1"))
	}
	if c.Database.PoolMin < 0 || c.Database.PoolMin > c.Database.PoolMax {
		errs = append(errs, errors.New("DB_POOL_MIN must be between 0 and DB_POOL_MAX"))
	}
	if c.Database.AcquireTimeout <= 0 || c.Database.StatementTimeout <= 0 {
		errs = append(errs, errors.New("DB_ACQUIRE_TIMEOUT and DB_STATEMENT_TIMEOUT must be positive"))
	}
	for name, n := range c.Breaker.Thresholds {
		if n < 1 {
			errs = append(errs, fmt.Errorf("breaker %q threshold must be at least 1", name))
		}
	}

	return errors.Join(errs...)
}

// ValidateGateway checks the settings the gateway cannot start without.
func (c *Config) ValidateGateway() error {
	var errs []error

	if c.Gateway.UpstreamURL == "" {
		errs = append(errs, errors.New("FORWARD_URL is required"))
	} else if u, err := url.Parse(c.Gateway.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("FORWARD_URL must be an absolute URL, got %q", c.Gateway.UpstreamURL))
	}
	if c.Gateway.Secret == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	if c.Gateway.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_UPSTREAM_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}
