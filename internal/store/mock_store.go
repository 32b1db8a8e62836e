// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant                  // keyed by tenant ID
	accounts    map[AccountKind]map[string]*Account // keyed by kind, then account ID
	credentials map[string]*DeviceCredential        // keyed by principal ID
	audit       []AuditEntry
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		tenants: make(map[string]*Tenant),
		accounts: map[AccountKind]map[string]*Account{
			KindGlobalAdmin: make(map[string]*Account),
			KindTenantAdmin: make(map[string]*Account),
			KindTenantUser:  make(map[string]*Account),
		},
		credentials: make(map[string]*DeviceCredential),
	}
}

// CreateTenant stores a new tenant.
func (m *MockStore) CreateTenant(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := m.tenants[t.ID]; exists {
		return ErrDuplicate
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TenantPending
	}
	t.Domain = strings.ToLower(t.Domain)

	// Make a copy to avoid external modification
	c := *t
	m.tenants[c.ID] = &c
	return nil
}

// UpdateTenantStatus changes a tenant's approval status.
func (m *MockStore) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

// GetTenant retrieves a tenant by ID.
func (m *MockStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ListTenants returns tenants matching the filter ordered by name.
func (m *MockStore) ListTenants(ctx context.Context, f TenantFilter) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := []Tenant{}
	for _, t := range m.tenants {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Domain != "" && t.Domain != strings.ToLower(f.Domain) {
			continue
		}
		tenants = append(tenants, *t)
	}
	sort.Slice(tenants, func(i, j int) bool {
		if tenants[i].Name != tenants[j].Name {
			return tenants[i].Name < tenants[j].Name
		}
		return tenants[i].ID < tenants[j].ID
	})
	return tenants, nil
}

// CreateAccount stores a new account under its kind.
func (m *MockStore) CreateAccount(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.accounts[a.Kind]
	if !ok {
		return fmt.Errorf("unknown account kind %q", a.Kind)
	}
	if a.Kind != KindGlobalAdmin {
		if _, ok := m.tenants[a.TenantID]; !ok {
			return fmt.Errorf("inserting %s: tenant %q does not exist", a.Kind, a.TenantID)
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if _, exists := byID[a.ID]; exists {
		return ErrDuplicate
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = AccountActive
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))

	c := *a
	byID[c.ID] = &c
	return nil
}

// UpdateAccountStatus activates or deactivates an account.
func (m *MockStore) UpdateAccountStatus(ctx context.Context, kind AccountKind, id string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[kind][id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

func (m *MockStore) getAccount(kind AccountKind, id, tenantID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[kind][id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetGlobalAdmin retrieves a global admin by ID.
func (m *MockStore) GetGlobalAdmin(ctx context.Context, id string) (*Account, error) {
	return m.getAccount(KindGlobalAdmin, id, "")
}

// GetTenantAdmin retrieves a tenant admin by ID scoped to a tenant.
func (m *MockStore) GetTenantAdmin(ctx context.Context, id, tenantID string) (*Account, error) {
	return m.getAccount(KindTenantAdmin, id, tenantID)
}

// GetTenantUser retrieves a tenant user by ID scoped to a tenant.
func (m *MockStore) GetTenantUser(ctx context.Context, id, tenantID string) (*Account, error) {
	return m.getAccount(KindTenantUser, id, tenantID)
}

// ListTenantUsers returns every user of a tenant ordered by email.
func (m *MockStore) ListTenantUsers(ctx context.Context, tenantID string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := []Account{}
	for _, a := range m.accounts[KindTenantUser] {
		if a.TenantID == tenantID {
			users = append(users, *a)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// FindAccountsByEmail returns matching accounts, global admins first.
func (m *MockStore) FindAccountsByEmail(ctx context.Context, email string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	accounts := []Account{}
	for _, kind := range []AccountKind{KindGlobalAdmin, KindTenantAdmin, KindTenantUser} {
		var found []Account
		for _, a := range m.accounts[kind] {
			if a.Email == email {
				found = append(found, *a)
			}
		}
		sort.Slice(found, func(i, j int) bool { return found[i].TenantID < found[j].TenantID })
		accounts = append(accounts, found...)
	}
	return accounts, nil
}

// TouchLastActive sets the last active time for an account.
func (m *MockStore) TouchLastActive(ctx context.Context, kind AccountKind, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[kind][id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	a.LastActiveAt = &t
	return nil
}

// GetDeviceCredential returns the linked device cloud token for a principal.
func (m *MockStore) GetDeviceCredential(ctx context.Context, principalID string) (*DeviceCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// SaveDeviceCredential inserts or replaces a principal's device cloud token.
func (m *MockStore) SaveDeviceCredential(ctx context.Context, c *DeviceCredential) error {
	if c.PrincipalID == "" {
		return fmt.Errorf("principal id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c.UpdatedAt = time.Now().UTC()
	saved := *c
	m.credentials[c.PrincipalID] = &saved
	return nil
}

// DeleteDeviceCredential unlinks a principal's device cloud account.
func (m *MockStore) DeleteDeviceCredential(ctx context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[principalID]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, principalID)
	return nil
}

// AppendAuditLog appends an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns audit entries matching the filter, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if f.ActorID != nil && e.ActorID != *f.ActorID {
			continue
		}
		if f.TenantID != nil && e.TenantID != *f.TenantID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
