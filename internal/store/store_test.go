// ABOUTME: Shared helpers and directory tests for the SQLite store
// ABOUTME: Covers tenants, accounts, email lookup and last-active tracking

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func seedTenant(t *testing.T, s AccountWriter, id string, status TenantStatus) *Tenant {
	t.Helper()
	tenant := &Tenant{ID: id, Name: "Tenant " + id, Domain: id + ".example.com", Status: status}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func seedAccount(t *testing.T, s AccountWriter, kind AccountKind, id, tenantID, email string) *Account {
	t.Helper()
	a := &Account{ID: id, Kind: kind, TenantID: tenantID, Email: email, Name: id}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func TestStore_CreateAndGetTenant(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tenant := &Tenant{Name: "Acme", Domain: "ACME.example.com", Status: TenantApproved}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	assert.NotEmpty(t, tenant.ID)

	got, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, "acme.example.com", got.Domain)
	assert.Equal(t, TenantApproved, got.Status)

	_, err = store.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateTenant_DefaultsToPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tenant := &Tenant{ID: "t1", Name: "Pending"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	got, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TenantPending, got.Status)

	err = store.CreateTenant(ctx, &Tenant{ID: "t1", Name: "Again"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestStore_ListTenants(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTenant(t, store, "b", TenantApproved)
	seedTenant(t, store, "a", TenantApproved)
	seedTenant(t, store, "c", TenantSuspended)

	all, err := store.ListTenants(ctx, TenantFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	approved := TenantApproved
	onlyApproved, err := store.ListTenants(ctx, TenantFilter{Status: &approved})
	require.NoError(t, err)
	assert.Len(t, onlyApproved, 2)

	byDomain, err := store.ListTenants(ctx, TenantFilter{Domain: "C.example.com"})
	require.NoError(t, err)
	require.Len(t, byDomain, 1)
	assert.Equal(t, "c", byDomain[0].ID)
}

func TestStore_UpdateTenantStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTenant(t, store, "t1", TenantPending)
	require.NoError(t, store.UpdateTenantStatus(ctx, "t1", TenantApproved))

	got, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TenantApproved, got.Status)

	assert.ErrorIs(t, store.UpdateTenantStatus(ctx, "nope", TenantApproved), ErrNotFound)
}

func TestStore_Accounts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTenant(t, store, "t1", TenantApproved)
	seedTenant(t, store, "t2", TenantApproved)
	seedAccount(t, store, KindGlobalAdmin, "g1", "", "Root@Example.com")
	seedAccount(t, store, KindTenantAdmin, "a1", "t1", "admin@example.com")
	seedAccount(t, store, KindTenantUser, "u1", "t1", "user@example.com")

	t.Run("global admin", func(t *testing.T) {
		a, err := store.GetGlobalAdmin(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, KindGlobalAdmin, a.Kind)
		assert.Equal(t, "root@example.com", a.Email)
		assert.True(t, a.Active())
		assert.Empty(t, a.TenantID)
		assert.Nil(t, a.LastActiveAt)
	})

	t.Run("tenant admin scoped to tenant", func(t *testing.T) {
		a, err := store.GetTenantAdmin(ctx, "a1", "t1")
		require.NoError(t, err)
		assert.Equal(t, KindTenantAdmin, a.Kind)
		assert.Equal(t, "t1", a.TenantID)

		_, err = store.GetTenantAdmin(ctx, "a1", "t2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("tenant user is not a tenant admin", func(t *testing.T) {
		_, err := store.GetTenantAdmin(ctx, "u1", "t1")
		assert.ErrorIs(t, err, ErrNotFound)

		u, err := store.GetTenantUser(ctx, "u1", "t1")
		require.NoError(t, err)
		assert.Equal(t, KindTenantUser, u.Kind)
	})

	t.Run("inactive status round trips", func(t *testing.T) {
		require.NoError(t, store.UpdateAccountStatus(ctx, KindTenantUser, "u1", AccountInactive))
		u, err := store.GetTenantUser(ctx, "u1", "t1")
		require.NoError(t, err)
		assert.False(t, u.Active())
	})
}

func TestStore_CreateAccount_Validation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.CreateAccount(ctx, &Account{Kind: KindTenantUser, Email: "x@example.com"})
	assert.Error(t, err)

	err = store.CreateAccount(ctx, &Account{Kind: KindGlobalAdmin, TenantID: "t1", Email: "x@example.com"})
	assert.Error(t, err)

	err = store.CreateAccount(ctx, &Account{Kind: "robot", Email: "x@example.com"})
	assert.Error(t, err)

	err = store.CreateAccount(ctx, &Account{Kind: KindTenantUser, TenantID: "no-such-tenant", Email: "x@example.com"})
	assert.Error(t, err)
}

func TestStore_ListTenantUsers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTenant(t, store, "t1", TenantApproved)
	seedTenant(t, store, "t2", TenantApproved)
	seedAccount(t, store, KindTenantUser, "u2", "t1", "zed@example.com")
	seedAccount(t, store, KindTenantUser, "u1", "t1", "amy@example.com")
	seedAccount(t, store, KindTenantUser, "u3", "t2", "bob@example.com")
	seedAccount(t, store, KindTenantAdmin, "a1", "t1", "admin@example.com")

	users, err := store.ListTenantUsers(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "amy@example.com", users[0].Email)
	assert.Equal(t, "zed@example.com", users[1].Email)

	none, err := store.ListTenantUsers(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_FindAccountsByEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTenant(t, store, "t1", TenantApproved)
	seedTenant(t, store, "t2", TenantApproved)
	seedAccount(t, store, KindGlobalAdmin, "g1", "", "pat@example.com")
	seedAccount(t, store, KindTenantAdmin, "a1", "t2", "pat@example.com")
	seedAccount(t, store, KindTenantUser, "u1", "t1", "pat@example.com")
	seedAccount(t, store, KindTenantUser, "u2", "t1", "other@example.com")

	accounts, err := store.FindAccountsByEmail(ctx, " PAT@example.com ")
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, KindGlobalAdmin, accounts[0].Kind)
	assert.Equal(t, KindTenantAdmin, accounts[1].Kind)
	assert.Equal(t, KindTenantUser, accounts[2].Kind)
}

func TestStore_TouchLastActive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedAccount(t, store, KindGlobalAdmin, "g1", "", "root@example.com")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.TouchLastActive(ctx, KindGlobalAdmin, "g1", at))

	a, err := store.GetGlobalAdmin(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, a.LastActiveAt)
	assert.True(t, at.Equal(*a.LastActiveAt))

	assert.ErrorIs(t, store.TouchLastActive(ctx, KindTenantUser, "g1", at), ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "gateway.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	seedTenant(t, s1, "t1", TenantApproved)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, TenantApproved, got.Status)
}
