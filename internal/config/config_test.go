// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  public_url: "https://home.example.com/"

database:
  path: "./test.db"

sessions:
  idle_timeout: "12h"
  sweep_interval: "30m"
  strict_lifecycle: true

ewelink:
  app_id: "app-123"
  app_secret: "secret"
  region: "eu"
  timeout: "5s"
  rate_limit: 2.5

audit:
  backend: "redis"
  redis:
    addr: "localhost:6379"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Sessions.IdleTimeout != 12*time.Hour {
		t.Errorf("Sessions.IdleTimeout = %v, want %v", cfg.Sessions.IdleTimeout, 12*time.Hour)
	}
	if cfg.Sessions.SweepInterval != 30*time.Minute {
		t.Errorf("Sessions.SweepInterval = %v, want %v", cfg.Sessions.SweepInterval, 30*time.Minute)
	}
	if !cfg.Sessions.StrictLifecycle {
		t.Error("Sessions.StrictLifecycle = false, want true")
	}
	if cfg.Ewelink.Region != "eu" {
		t.Errorf("Ewelink.Region = %q, want %q", cfg.Ewelink.Region, "eu")
	}
	if cfg.Ewelink.Timeout != 5*time.Second {
		t.Errorf("Ewelink.Timeout = %v, want %v", cfg.Ewelink.Timeout, 5*time.Second)
	}
	if cfg.Ewelink.RateBurst != 1 {
		t.Errorf("Ewelink.RateBurst = %d, want 1", cfg.Ewelink.RateBurst)
	}
	if cfg.Audit.Backend != "redis" {
		t.Errorf("Audit.Backend = %q, want %q", cfg.Audit.Backend, "redis")
	}
	if cfg.Audit.Redis.Stream != DefaultAuditStream {
		t.Errorf("Audit.Redis.Stream = %q, want %q", cfg.Audit.Redis.Stream, DefaultAuditStream)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
	if got := cfg.BaseURL(); got != "https://home.example.com" {
		t.Errorf("BaseURL() = %q, want %q", got, "https://home.example.com")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "gateway.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sessions.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("Sessions.IdleTimeout = %v, want %v", cfg.Sessions.IdleTimeout, DefaultIdleTimeout)
	}
	if cfg.Sessions.SweepInterval != DefaultSweepInterval {
		t.Errorf("Sessions.SweepInterval = %v, want %v", cfg.Sessions.SweepInterval, DefaultSweepInterval)
	}
	if cfg.Audit.Backend != "sqlite" {
		t.Errorf("Audit.Backend = %q, want sqlite", cfg.Audit.Backend)
	}
	if cfg.Audit.QueueSize != DefaultAuditQueueSize {
		t.Errorf("Audit.QueueSize = %d, want %d", cfg.Audit.QueueSize, DefaultAuditQueueSize)
	}
	if cfg.Ewelink.Region != DefaultEwelinkRegion {
		t.Errorf("Ewelink.Region = %q, want %q", cfg.Ewelink.Region, DefaultEwelinkRegion)
	}
	if got := cfg.BaseURL(); got != "http://localhost:8080" {
		t.Errorf("BaseURL() = %q, want %q", got, "http://localhost:8080")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "/tmp/gw.db"

[sessions]
idle_timeout = "2h"

[audit]
backend = "none"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Sessions.IdleTimeout != 2*time.Hour {
		t.Errorf("Sessions.IdleTimeout = %v, want %v", cfg.Sessions.IdleTimeout, 2*time.Hour)
	}
	if cfg.Audit.Backend != "none" {
		t.Errorf("Audit.Backend = %q, want none", cfg.Audit.Backend)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_EWELINK_SECRET", "from-env")
	t.Setenv("TEST_JWT_SECRET", strings.Repeat("k", 32))

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "gw.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
ewelink:
  app_secret: "${TEST_EWELINK_SECRET}"
  app_id: "${TEST_UNSET_VAR_FOR_GATEWAY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Ewelink.AppSecret != "from-env" {
		t.Errorf("Ewelink.AppSecret = %q, want %q", cfg.Ewelink.AppSecret, "from-env")
	}
	if cfg.Ewelink.AppID != "" {
		t.Errorf("Ewelink.AppID = %q, want empty", cfg.Ewelink.AppID)
	}
	if len(cfg.Auth.JWTSecret) != 32 {
		t.Errorf("len(Auth.JWTSecret) = %d, want 32", len(cfg.Auth.JWTSecret))
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http addr",
			content: "database:\n  path: gw.db\n",
			wantErr: "server.http_addr is required",
		},
		{
			name:    "missing database path",
			content: "server:\n  http_addr: \":8080\"\n",
			wantErr: "database.path is required",
		},
		{
			name:    "tailscale without hostname",
			content: "tailscale:\n  enabled: true\ndatabase:\n  path: gw.db\n",
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "short jwt secret",
			content: "server:\n  http_addr: \":8080\"\ndatabase:\n  path: gw.db\nauth:\n  jwt_secret: short\n",
			wantErr: "at least 32 bytes",
		},
		{
			name:    "bad duration",
			content: "server:\n  http_addr: \":8080\"\ndatabase:\n  path: gw.db\nsessions:\n  idle_timeout: forever\n",
			wantErr: "parsing idle_timeout",
		},
		{
			name:    "redis without addr",
			content: "server:\n  http_addr: \":8080\"\ndatabase:\n  path: gw.db\naudit:\n  backend: redis\n",
			wantErr: "audit.redis.addr is required",
		},
		{
			name:    "unknown audit backend",
			content: "server:\n  http_addr: \":8080\"\ndatabase:\n  path: gw.db\naudit:\n  backend: kafka\n",
			wantErr: "audit.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %q, want reading config file", err.Error())
	}
}

func TestBaseURL_Tailscale(t *testing.T) {
	cfg := &Config{Tailscale: TailscaleConfig{Enabled: true, Hostname: "smarthome", Funnel: true}}
	if got := cfg.BaseURL(); got != "https://smarthome" {
		t.Errorf("BaseURL() = %q, want %q", got, "https://smarthome")
	}
}
