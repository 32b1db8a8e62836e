// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Keeps the mock's directory semantics in line with SQLiteStore

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Directory(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	seedTenant(t, m, "t1", TenantApproved)
	seedTenant(t, m, "t2", TenantPending)
	seedAccount(t, m, KindGlobalAdmin, "g1", "", "root@example.com")
	seedAccount(t, m, KindTenantAdmin, "a1", "t1", "Admin@Example.com")
	seedAccount(t, m, KindTenantUser, "u1", "t1", "admin@example.com")

	_, err := m.GetTenantAdmin(ctx, "a1", "t2")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := m.GetTenantAdmin(ctx, "a1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", a.Email)

	// returned values are copies
	a.Status = AccountInactive
	again, err := m.GetTenantAdmin(ctx, "a1", "t1")
	require.NoError(t, err)
	assert.True(t, again.Active())

	accounts, err := m.FindAccountsByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, KindTenantAdmin, accounts[0].Kind)

	approved := TenantApproved
	tenants, err := m.ListTenants(ctx, TenantFilter{Status: &approved})
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "t1", tenants[0].ID)

	err = m.CreateAccount(ctx, &Account{Kind: KindTenantUser, TenantID: "missing", Email: "x@example.com"})
	assert.Error(t, err)
}

func TestMockStore_TouchAndCredentials(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	seedAccount(t, m, KindGlobalAdmin, "g1", "", "root@example.com")
	now := time.Now()
	require.NoError(t, m.TouchLastActive(ctx, KindGlobalAdmin, "g1", now))

	g, err := m.GetGlobalAdmin(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, g.LastActiveAt)
	assert.True(t, now.Equal(*g.LastActiveAt))

	require.NoError(t, m.SaveDeviceCredential(ctx, &DeviceCredential{PrincipalID: "g1", AccessToken: "tok"}))
	c, err := m.GetDeviceCredential(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "tok", c.AccessToken)

	require.NoError(t, m.DeleteDeviceCredential(ctx, "g1"))
	_, err = m.GetDeviceCredential(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_AuditLog(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.AppendAuditLog(ctx, &AuditEntry{ActorID: "u1", Action: AuditDeviceControl}))
	require.NoError(t, m.AppendAuditLog(ctx, &AuditEntry{ActorID: "u2", Action: AuditResourceRead}))

	entries, err := m.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u2", entries[0].ActorID)
	assert.NotEmpty(t, entries[0].ID)

	action := AuditDeviceControl
	filtered, err := m.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "u1", filtered[0].ActorID)
}
