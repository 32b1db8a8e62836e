// Package identity resolves MCP endpoint path segments into a typed caller.
//
// Every MCP request addresses /mcp/{tenant}/{principal}. The Resolver turns
// that pair into exactly one of:
//
//   - GlobalAdmin: tenant segment "global", active global admin account
//   - TenantAdmin: approved tenant, active admin account in that tenant
//   - TenantUser: approved tenant, active user account in that tenant
//
// Identity is a sealed interface; downstream code type-switches over the
// three variants. Resolution failures are *ResolveError values that match
// ErrNotFound or ErrForbidden with errors.Is.
package identity
