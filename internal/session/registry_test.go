// ABOUTME: Tests for the MCP session registry and session state
// ABOUTME: Validates touch-on-get, idle sweeps, handshake state, notifications and concurrency

package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingActivity struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingActivity) TouchLastActive(ctx context.Context, kind store.AccountKind, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, string(kind)+":"+id)
	return r.err
}

func (r *recordingActivity) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type countingObserver struct {
	mu      sync.Mutex
	created int
	expired int
}

func (o *countingObserver) SessionCreated(identity.Kind) {
	o.mu.Lock()
	o.created++
	o.mu.Unlock()
}

func (o *countingObserver) SessionsExpired(n int) {
	o.mu.Lock()
	o.expired += n
	o.mu.Unlock()
}

var testUser = identity.TenantUser{ID: "alice", Tenant: "acme"}

func TestRegistry_CreateAndGet(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	defer r.Close()

	s := r.Create(testUser)
	assert.True(t, strings.HasPrefix(s.ID(), IDPrefix))
	assert.Equal(t, StateUninitialized, s.State())
	assert.Equal(t, testUser, s.Identity())

	clock.Advance(time.Second)
	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.False(t, got.LastActivity().Before(got.CreatedAt()))
	assert.Equal(t, clock.Now(), got.LastActivity())
	assert.Equal(t, int64(1), got.Snapshot().RequestCount)

	_, ok = r.Get("mcp-unknown")
	assert.False(t, ok)
}

func TestRegistry_GetImmediatelyAfterCreate(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	s := r.Create(testUser)
	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.False(t, got.LastActivity().Before(got.CreatedAt()))
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := r.Create(testUser).ID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 500, r.Count())
}

func TestRegistry_Sweep(t *testing.T) {
	clock := newFakeClock()
	obs := &countingObserver{}
	r := NewRegistry(WithClock(clock.Now), WithObserver(obs))
	defer r.Close()

	stale := r.Create(testUser)
	clock.Advance(24 * time.Hour)
	fresh := r.Create(identity.GlobalAdmin{ID: "root"})
	clock.Advance(time.Hour)

	// stale is 25h idle, fresh is 1h idle
	removed := r.Sweep(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := r.Peek(stale.ID())
	assert.False(t, ok)
	_, ok = r.Peek(fresh.ID())
	assert.True(t, ok)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, obs.expired)
	assert.Equal(t, 2, obs.created)
}

func TestRegistry_GetKeepsSessionAlive(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	defer r.Close()

	s := r.Create(testUser)
	clock.Advance(20 * time.Hour)
	_, ok := r.Get(s.ID())
	require.True(t, ok)
	clock.Advance(20 * time.Hour)

	assert.Equal(t, 0, r.Sweep(24*time.Hour))
	_, ok = r.Peek(s.ID())
	assert.True(t, ok)
}

func TestRegistry_PeekDoesNotTouch(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	defer r.Close()

	s := r.Create(testUser)
	created := s.LastActivity()
	clock.Advance(time.Hour)

	got, ok := r.Peek(s.ID())
	require.True(t, ok)
	assert.Equal(t, created, got.LastActivity())
}

func TestRegistry_Resume(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	defer r.Close()

	s := r.Create(testUser)
	clock.Advance(time.Minute)

	got, err := r.Resume(s.ID(), identity.TenantUser{ID: "alice", Tenant: "acme"})
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, clock.Now(), got.LastActivity())

	clock.Advance(time.Minute)
	_, err = r.Resume(s.ID(), identity.TenantUser{ID: "bob", Tenant: "acme"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resume(s.ID(), identity.TenantAdmin{ID: "alice", Tenant: "acme"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotEqual(t, clock.Now(), s.LastActivity())

	_, err = r.Resume("mcp-missing", testUser)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ActivityNotification(t *testing.T) {
	activity := &recordingActivity{}
	r := NewRegistry(WithActivityRecorder(activity))
	defer r.Close()

	r.Create(identity.TenantAdmin{ID: "boss", Tenant: "acme"})
	r.WaitNotifications(context.Background())

	assert.Equal(t, []string{"tenant_admin:boss"}, activity.Calls())
}

func TestRegistry_ActivityFailureDoesNotFailCreate(t *testing.T) {
	activity := &recordingActivity{err: errors.New("directory down")}
	r := NewRegistry(WithActivityRecorder(activity))
	defer r.Close()

	s := r.Create(testUser)
	r.WaitNotifications(context.Background())

	_, ok := r.Get(s.ID())
	assert.True(t, ok)
	assert.Len(t, activity.Calls(), 1)
}

func TestRegistry_StartSweepsPeriodically(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.Create(testUser)
	r.Start(context.Background(), 5*time.Millisecond, time.Millisecond)

	assert.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_StopsOnContextCancel(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, time.Hour, time.Hour)
	cancel()

	// Close after cancel must not block or panic
	r.Close()
	r.Close()
}

func TestRegistry_StartNonPositiveInterval(t *testing.T) {
	assert.Equal(t, DefaultSweepInterval, sweepInterval(0))
	assert.Equal(t, DefaultSweepInterval, sweepInterval(-time.Second))
	assert.Equal(t, time.Minute, sweepInterval(time.Minute))

	for _, interval := range []time.Duration{0, -time.Second} {
		r := NewRegistry()
		r.Create(testUser)
		ctx, cancel := context.WithCancel(context.Background())
		r.Start(ctx, interval, time.Millisecond)

		// the sweeper is alive but its first tick is an hour away
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, r.Count(), "interval %v", interval)

		cancel()
		r.Close()
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	var wg sync.WaitGroup
	ids := make(chan string, 100)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ids <- r.Create(testUser).ID()
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Sweep(time.Hour)
			}
		}()
	}

	wg.Wait()
	close(ids)

	for id := range ids {
		s, ok := r.Get(id)
		require.True(t, ok, "session %s was swept while active", id)
		assert.Equal(t, id, s.ID())
	}
}

func TestSession_Handshake(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	t.Run("initialized before initialize is ignored", func(t *testing.T) {
		s := r.Create(testUser)
		assert.False(t, s.MarkInitialized())
		assert.Equal(t, StateUninitialized, s.State())
	})

	t.Run("initialize then initialized", func(t *testing.T) {
		s := r.Create(testUser)
		caps := json.RawMessage(`{"roots":{"listChanged":true}}`)
		s.RecordInitialize("2025-03-26", caps, &ClientInfo{Name: "agent", Version: "1.0"})
		assert.Equal(t, StateUninitialized, s.State())

		assert.True(t, s.MarkInitialized())
		assert.Equal(t, StateInitialized, s.State())

		snap := s.Snapshot()
		assert.Equal(t, "2025-03-26", snap.ProtocolVersion)
		require.NotNil(t, snap.ClientInfo)
		assert.Equal(t, "agent", snap.ClientInfo.Name)
		assert.JSONEq(t, string(caps), string(snap.ClientCapabilities))
		assert.Equal(t, identity.KindTenantUser, snap.IdentityKind)
		assert.Equal(t, "acme", snap.TenantID)
	})
}

func TestSnapshot_JSON(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	s := r.Create(identity.GlobalAdmin{ID: "root"})
	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.ID(), decoded["sessionId"])
	assert.Equal(t, "uninitialized", decoded["state"])
	assert.Equal(t, "global_admin", decoded["identityKind"])
	assert.NotContains(t, decoded, "tenantId")
	assert.NotContains(t, decoded, "clientInfo")
}
