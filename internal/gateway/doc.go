// Package gateway orchestrates the ewelink-gateway server components.
//
// # Overview
//
// The Gateway owns every long-lived component and wires them together:
//
//	store.SQLiteStore     directory, device credentials, audit log
//	session.Registry      live MCP sessions with an idle sweeper
//	audit.Recorder        async audit writer (sqlite, redis or none)
//	devices.Client        eWeLink cloud client, or devices.Unconfigured
//	mcp.Dispatcher        JSON-RPC method table
//	transport.Server      chi router for /mcp, discovery and ops endpoints
//	metrics.Metrics       Prometheus collectors, optionally served
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run listens on server.http_addr, or joins the tailnet via tsnet when
// tailscale.enabled is set. On shutdown the HTTP server stops accepting
// requests, the sweeper stops, pending last-active updates and audit events
// drain, and the store closes.
//
// # Operator Auth
//
// With auth.jwt_secret set, the session status and cleanup endpoints require
// a bearer token whose subject is an active global admin. Without it those
// endpoints are open and a warning is logged at startup.
package gateway
