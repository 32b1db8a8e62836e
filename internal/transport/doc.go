// Package transport serves the gateway over HTTP.
//
// Routes:
//
//	GET|POST|OPTIONS /mcp/{tenantId}/{principalId}   MCP endpoint
//	GET              /mcp/discover?email=&tenantDomain=
//	GET              /mcp/sessions/{sessionId}/status
//	POST             /mcp/cleanup
//	GET              /health
//
// Every request to the MCP endpoint resolves the caller from the path before
// anything else happens. The Mcp-Session-Id header resumes a session owned by
// the same principal; without it a new session is created and its id is
// returned in the same header. POST bodies carry exactly one JSON-RPC 2.0
// message; batches are rejected. Notifications are answered with 204.
//
// Audit events emitted while a request is handled are collected on the
// request context and handed to the Recorder once the handler returns.
package transport
