// ABOUTME: Typed caller identities for MCP endpoints
// ABOUTME: A closed set of three variants produced only by the Resolver

package identity

import "github.com/2389/ewelink-gateway/internal/store"

// GlobalTenant is the tenant path segment addressing global administrators.
const GlobalTenant = "global"

// Kind names an identity variant.
type Kind string

const (
	KindGlobalAdmin Kind = "global_admin"
	KindTenantAdmin Kind = "tenant_admin"
	KindTenantUser  Kind = "tenant_user"
)

// Identity is the resolved caller. The unexported method seals the set of
// implementations to GlobalAdmin, TenantAdmin and TenantUser.
type Identity interface {
	PrincipalID() string
	Kind() Kind
	// TenantID is empty for global administrators.
	TenantID() string

	sealed()
}

// GlobalAdmin may address any tenant.
type GlobalAdmin struct {
	ID string
}

// TenantAdmin administers exactly one approved tenant.
type TenantAdmin struct {
	ID     string
	Tenant string
}

// TenantUser belongs to exactly one approved tenant.
type TenantUser struct {
	ID     string
	Tenant string
}

func (g GlobalAdmin) PrincipalID() string { return g.ID }
func (g GlobalAdmin) Kind() Kind          { return KindGlobalAdmin }
func (g GlobalAdmin) TenantID() string    { return "" }
func (GlobalAdmin) sealed()               {}

func (a TenantAdmin) PrincipalID() string { return a.ID }
func (a TenantAdmin) Kind() Kind          { return KindTenantAdmin }
func (a TenantAdmin) TenantID() string    { return a.Tenant }
func (TenantAdmin) sealed()               {}

func (u TenantUser) PrincipalID() string { return u.ID }
func (u TenantUser) Kind() Kind          { return KindTenantUser }
func (u TenantUser) TenantID() string    { return u.Tenant }
func (TenantUser) sealed()               {}

// AccountKind maps an identity to the directory table that holds it.
func AccountKind(id Identity) store.AccountKind {
	switch id.(type) {
	case GlobalAdmin:
		return store.KindGlobalAdmin
	case TenantAdmin:
		return store.KindTenantAdmin
	case TenantUser:
		return store.KindTenantUser
	default:
		panic("identity: unknown variant")
	}
}
