// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The package splits its surface into narrow interfaces so callers depend
// only on what they use:
//
//   - Directory: tenant and account lookups for identity resolution and discovery
//   - AccountWriter: tenant/account creation used by bootstrap and tests
//   - CredentialStore: eWeLink tokens linked to a principal
//   - AuditStore: append-only audit log
//
// SQLiteStore implements all of them (the Store interface). MockStore is an
// in-memory implementation with the same semantics for tests.
//
// # Data Models
//
//   - Tenant: customer organization with an approval status
//     (pending, approved, rejected, suspended)
//   - Account: global admin, tenant admin or tenant user, each in its own
//     table, with an active/inactive status and last-active timestamp
//   - DeviceCredential: OAuth access/refresh token for the device cloud
//   - AuditEntry: who did what to which resource
//
// # Timestamps
//
// All timestamps are stored as RFC3339 TEXT in UTC.
//
// # Errors
//
// Lookups return ErrNotFound for missing rows and inserts return ErrDuplicate
// on key conflicts. Other errors are wrapped with context.
package store
