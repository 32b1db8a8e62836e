// ABOUTME: Configuration loading and parsing for ewelink-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves a field empty.
const (
	DefaultIdleTimeout    = 24 * time.Hour
	DefaultSweepInterval  = time.Hour
	DefaultEwelinkTimeout = 15 * time.Second
	DefaultEwelinkRegion  = "us"
	DefaultAuditQueueSize = 256
	DefaultAuditStream    = "ewelink:audit"
	DefaultMetricsPath    = "/metrics"
)

// Config represents the complete ewelink-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Ewelink   EwelinkConfig   `yaml:"ewelink" toml:"ewelink"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// PublicURL is the externally reachable base URL used in discovery results.
	// Derived from http_addr or the tailscale hostname when empty.
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // implies HTTPS
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration for operational endpoints
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SessionsConfig holds MCP session lifetime settings
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// StrictLifecycle rejects non-lifecycle requests until the session has
	// completed the initialize/initialized handshake.
	StrictLifecycle bool `yaml:"strict_lifecycle" toml:"strict_lifecycle"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// EwelinkConfig holds the device cloud client settings
type EwelinkConfig struct {
	AppID      string `yaml:"app_id" toml:"app_id"`
	AppSecret  string `yaml:"app_secret" toml:"app_secret"`
	Region     string `yaml:"region" toml:"region"`
	APIBaseURL string `yaml:"api_base_url" toml:"api_base_url"`
	TokenURL   string `yaml:"token_url" toml:"token_url"`

	// RateLimit is requests per second per gateway; zero disables throttling.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// AuditConfig selects where audit events are written
type AuditConfig struct {
	Backend   string      `yaml:"backend" toml:"backend"` // sqlite, redis, none
	QueueSize int         `yaml:"queue_size" toml:"queue_size"`
	Redis     RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig holds connection settings for the redis audit backend
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Stream   string `yaml:"stream" toml:"stream"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
	if c.Ewelink.Timeout == 0 {
		c.Ewelink.Timeout = DefaultEwelinkTimeout
	}
	if c.Ewelink.Region == "" {
		c.Ewelink.Region = DefaultEwelinkRegion
	}
	if c.Ewelink.RateLimit > 0 && c.Ewelink.RateBurst <= 0 {
		c.Ewelink.RateBurst = 1
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "sqlite"
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = DefaultAuditQueueSize
	}
	if c.Audit.Redis.Stream == "" {
		c.Audit.Redis.Stream = DefaultAuditStream
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Sessions.SweepInterval < 0 || c.Sessions.IdleTimeout < 0 {
		return fmt.Errorf("sessions durations must be positive")
	}

	switch c.Audit.Backend {
	case "sqlite", "none":
	case "redis":
		if c.Audit.Redis.Addr == "" {
			return fmt.Errorf("audit.redis.addr is required when audit.backend is redis")
		}
	default:
		return fmt.Errorf("audit.backend %q is not one of sqlite, redis, none", c.Audit.Backend)
	}

	if c.Ewelink.RateLimit < 0 {
		return fmt.Errorf("ewelink.rate_limit must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.IdleTimeoutRaw != "" {
		cfg.Sessions.IdleTimeout, err = time.ParseDuration(cfg.Sessions.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Sessions.IdleTimeoutRaw, err)
		}
	}

	if cfg.Sessions.SweepIntervalRaw != "" {
		cfg.Sessions.SweepInterval, err = time.ParseDuration(cfg.Sessions.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Sessions.SweepIntervalRaw, err)
		}
	}

	if cfg.Ewelink.TimeoutRaw != "" {
		cfg.Ewelink.Timeout, err = time.ParseDuration(cfg.Ewelink.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing ewelink timeout %q: %w", cfg.Ewelink.TimeoutRaw, err)
		}
	}

	return nil
}

// BaseURL returns the externally reachable URL of the gateway, without a trailing slash.
func (c *Config) BaseURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	if c.Tailscale.Enabled {
		scheme := "http"
		if c.Tailscale.HTTPS || c.Tailscale.Funnel {
			scheme = "https"
		}
		return scheme + "://" + c.Tailscale.Hostname
	}
	addr := c.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "localhost:" + addr[strings.LastIndex(addr, ":")+1:]
	}
	return "http://" + addr
}
