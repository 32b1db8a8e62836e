// Package devices talks to the eWeLink device cloud on behalf of MCP callers.
//
// Provider is the narrow contract the MCP tools use: list, get, status and
// control. Client implements it against the eWeLink v2 open API. Expired
// tokens are refreshed through golang.org/x/oauth2 when a token endpoint is
// configured, and the refreshed token is written back through TokenSaver.
// Requests are throttled with golang.org/x/time/rate.
//
// LookupCredential maps a missing credential to ErrNotLinked so tools can
// report "eWeLink account not connected" as a tool-level error.
package devices
