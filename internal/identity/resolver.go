// ABOUTME: Resolves (tenant, principal) path segments into a typed Identity
// ABOUTME: Checks tenant approval and account status in a fixed order

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/ewelink-gateway/internal/store"
)

var (
	// ErrNotFound matches resolution failures where the tenant or principal does not exist.
	ErrNotFound = errors.New("identity not found")
	// ErrForbidden matches resolution failures where the caller exists but may not connect.
	ErrForbidden = errors.New("identity forbidden")
)

// ResolveError is a typed resolution failure carrying a human-readable reason.
type ResolveError struct {
	Kind   error // ErrNotFound or ErrForbidden
	Reason string
}

func (e *ResolveError) Error() string {
	return e.Reason
}

// Is lets errors.Is match against ErrNotFound / ErrForbidden.
func (e *ResolveError) Is(target error) bool {
	return target == e.Kind
}

func notFound(reason string) error {
	return &ResolveError{Kind: ErrNotFound, Reason: reason}
}

func forbidden(reason string) error {
	return &ResolveError{Kind: ErrForbidden, Reason: reason}
}

// Directory is the subset of the account store the resolver reads.
type Directory interface {
	GetGlobalAdmin(ctx context.Context, id string) (*store.Account, error)
	GetTenant(ctx context.Context, id string) (*store.Tenant, error)
	GetTenantAdmin(ctx context.Context, id, tenantID string) (*store.Account, error)
	GetTenantUser(ctx context.Context, id, tenantID string) (*store.Account, error)
}

// Resolver classifies callers. It has no side effects.
type Resolver struct {
	dir Directory
}

// NewResolver creates a Resolver backed by the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve maps path segments to an Identity. The lookup order is:
// global admin (when tenantSegment is "global"), tenant, tenant admin,
// tenant user. Failures are *ResolveError values matching ErrNotFound or
// ErrForbidden; any other error is a directory failure.
func (r *Resolver) Resolve(ctx context.Context, tenantSegment, principalSegment string) (Identity, error) {
	if tenantSegment == "" || principalSegment == "" {
		return nil, notFound("tenant and principal are required")
	}

	if tenantSegment == GlobalTenant {
		admin, err := r.dir.GetGlobalAdmin(ctx, principalSegment)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, notFound("global admin not found")
			}
			return nil, fmt.Errorf("looking up global admin: %w", err)
		}
		if !admin.Active() {
			return nil, forbidden("global admin inactive")
		}
		return GlobalAdmin{ID: admin.ID}, nil
	}

	tenant, err := r.dir.GetTenant(ctx, tenantSegment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("tenant not found")
		}
		return nil, fmt.Errorf("looking up tenant: %w", err)
	}
	if tenant.Status != store.TenantApproved {
		return nil, forbidden("tenant not approved")
	}

	admin, err := r.dir.GetTenantAdmin(ctx, principalSegment, tenant.ID)
	switch {
	case err == nil:
		if !admin.Active() {
			return nil, forbidden("tenant admin inactive")
		}
		return TenantAdmin{ID: admin.ID, Tenant: tenant.ID}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up tenant admin: %w", err)
	}

	user, err := r.dir.GetTenantUser(ctx, principalSegment, tenant.ID)
	switch {
	case err == nil:
		if !user.Active() {
			return nil, forbidden("tenant user inactive")
		}
		return TenantUser{ID: user.ID, Tenant: tenant.ID}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up tenant user: %w", err)
	}

	return nil, notFound("principal not in tenant")
}
