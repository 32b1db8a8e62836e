// Package session tracks MCP sessions across otherwise stateless HTTP requests.
//
// A Session is created when a request arrives without an Mcp-Session-Id
// header and is bound to the identity resolved for that request. Every later
// request carrying the id refreshes its activity time through Registry.Get.
// Sessions idle longer than the configured timeout (24h by default) are
// removed by Registry.Sweep, which Registry.Start runs on a ticker.
//
// Sessions live only in memory; clients re-initialize after a restart.
package session
