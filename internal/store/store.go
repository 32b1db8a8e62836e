// ABOUTME: Store interfaces and data types for ewelink-gateway persistence
// ABOUTME: Defines tenants, accounts, device credentials and the Directory contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting an entity whose key already exists
var ErrDuplicate = errors.New("already exists")

// TenantStatus is the approval state of a tenant.
type TenantStatus string

const (
	TenantPending   TenantStatus = "pending"
	TenantApproved  TenantStatus = "approved"
	TenantRejected  TenantStatus = "rejected"
	TenantSuspended TenantStatus = "suspended"
)

// AccountStatus is the activation state of an admin or user account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// AccountKind distinguishes the three account tables.
type AccountKind string

const (
	KindGlobalAdmin AccountKind = "global_admin"
	KindTenantAdmin AccountKind = "tenant_admin"
	KindTenantUser  AccountKind = "tenant_user"
)

// Tenant is an isolated customer organization.
type Tenant struct {
	ID        string
	Name      string
	Domain    string
	Status    TenantStatus
	CreatedAt time.Time
}

// Account is a global admin, tenant admin or tenant user record.
// TenantID is empty for global admins.
type Account struct {
	ID           string
	Kind         AccountKind
	TenantID     string
	Email        string
	Name         string
	Status       AccountStatus
	CreatedAt    time.Time
	LastActiveAt *time.Time
}

// Active reports whether the account may be used.
func (a *Account) Active() bool {
	return a.Status == AccountActive
}

// DeviceCredential is the eWeLink OAuth token linked to a principal.
type DeviceCredential struct {
	PrincipalID  string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Region       string
	UpdatedAt    time.Time
}

// TenantFilter narrows ListTenants results. Zero values match everything.
type TenantFilter struct {
	Status *TenantStatus
	Domain string
}

// Directory is the read side of the account records used for identity
// resolution, discovery and admin tools.
type Directory interface {
	GetGlobalAdmin(ctx context.Context, id string) (*Account, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantAdmin(ctx context.Context, id, tenantID string) (*Account, error)
	GetTenantUser(ctx context.Context, id, tenantID string) (*Account, error)

	ListTenants(ctx context.Context, f TenantFilter) ([]Tenant, error)
	ListTenantUsers(ctx context.Context, tenantID string) ([]Account, error)
	FindAccountsByEmail(ctx context.Context, email string) ([]Account, error)

	// TouchLastActive records that an account opened an MCP session.
	TouchLastActive(ctx context.Context, kind AccountKind, id string, at time.Time) error
}

// AccountWriter creates and updates directory records. Used by the CLI
// bootstrap and by tests; the MCP surface never writes accounts.
type AccountWriter interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error
	CreateAccount(ctx context.Context, a *Account) error
	UpdateAccountStatus(ctx context.Context, kind AccountKind, id string, status AccountStatus) error
}

// CredentialStore persists device cloud tokens per principal.
type CredentialStore interface {
	GetDeviceCredential(ctx context.Context, principalID string) (*DeviceCredential, error)
	SaveDeviceCredential(ctx context.Context, c *DeviceCredential) error
	DeleteDeviceCredential(ctx context.Context, principalID string) error
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the gateway persists.
type Store interface {
	Directory
	AccountWriter
	CredentialStore
	AuditStore
	Close() error
}

// Ensure implementations satisfy the interfaces.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MockStore)(nil)
)
