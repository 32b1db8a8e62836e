// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		ActorKind: KindTenantUser,
		ActorID:   "user-123",
		TenantID:  "tenant-1",
		Action:    AuditDeviceControl,
		Resource:  "device/1000abc",
		Detail:    map[string]any{"switch": "on"},
	}

	require.NoError(t, store.AppendAuditLog(ctx, entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tenant-1", entries[0].TenantID)
	assert.Equal(t, KindTenantUser, entries[0].ActorKind)
	assert.Equal(t, "on", entries[0].Detail["switch"])
}

func TestAuditStore_List_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, action := range []AuditAction{AuditSessionCreate, AuditDeviceControl, AuditTenantsList} {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
			ActorKind: KindGlobalAdmin,
			ActorID:   "admin-1",
			Action:    action,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, AuditTenantsList, entries[0].Action)
	assert.Empty(t, entries[0].TenantID)
}

func TestAuditStore_List_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	seed := []AuditEntry{
		{ActorKind: KindTenantUser, ActorID: "u1", TenantID: "t1", Action: AuditDeviceControl, Timestamp: base},
		{ActorKind: KindTenantUser, ActorID: "u2", TenantID: "t1", Action: AuditResourceRead, Timestamp: base.Add(10 * time.Minute)},
		{ActorKind: KindTenantAdmin, ActorID: "a1", TenantID: "t2", Action: AuditTenantUsersList, Timestamp: base.Add(20 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, store.AppendAuditLog(ctx, &seed[i]))
	}

	t.Run("by actor", func(t *testing.T) {
		actor := "u2"
		entries, err := store.ListAuditLog(ctx, AuditFilter{ActorID: &actor})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, AuditResourceRead, entries[0].Action)
	})

	t.Run("by tenant", func(t *testing.T) {
		tenant := "t1"
		entries, err := store.ListAuditLog(ctx, AuditFilter{TenantID: &tenant})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by action", func(t *testing.T) {
		action := AuditTenantUsersList
		entries, err := store.ListAuditLog(ctx, AuditFilter{Action: &action})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a1", entries[0].ActorID)
	})

	t.Run("by time window", func(t *testing.T) {
		since := base.Add(5 * time.Minute)
		until := base.Add(15 * time.Minute)
		entries, err := store.ListAuditLog(ctx, AuditFilter{Since: &since, Until: &until})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "u2", entries[0].ActorID)
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := store.ListAuditLog(ctx, AuditFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
