// Package config handles configuration loading for ewelink-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension)
// with environment variable expansion, duration parsing, defaults and
// validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from EWELINK_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/ewelink-gateway/gateway.yaml
//  3. ~/.config/ewelink-gateway/gateway.yaml
//
// # Environment Variable Expansion
//
//	ewelink:
//	  app_secret: "${EWELINK_APP_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  public_url: "https://home.example.com"
//
//	database:
//	  path: "/var/lib/ewelink-gateway/gateway.db"
//
//	auth:
//	  jwt_secret: "${EWELINK_GATEWAY_JWT_SECRET}"  # guards /mcp/cleanup and session status
//
//	sessions:
//	  idle_timeout: "24h"
//	  sweep_interval: "1h"
//	  strict_lifecycle: false
//
//	ewelink:
//	  app_id: "..."
//	  region: "us"          # us, eu, as, cn
//	  timeout: "15s"
//	  rate_limit: 5         # requests/second, 0 disables
//
//	audit:
//	  backend: "sqlite"     # sqlite, redis, none
//	  redis:
//	    addr: "localhost:6379"
//	    stream: "ewelink:audit"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
