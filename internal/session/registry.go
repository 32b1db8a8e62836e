// ABOUTME: In-memory registry of live MCP sessions with idle expiry
// ABOUTME: Create/Get/Sweep are safe for concurrent use; a ticker drives periodic sweeps

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/store"
)

// IDPrefix is prepended to every generated session id.
const IDPrefix = "mcp-"

// DefaultSweepInterval is used by Start when the interval is not positive.
const DefaultSweepInterval = time.Hour

const defaultNotifyTimeout = 5 * time.Second

// ErrNotFound is returned by Resume for unknown sessions and for sessions
// bound to a different principal.
var ErrNotFound = errors.New("session not found")

// ActivityRecorder receives best-effort "last active" notifications when a
// session is created.
type ActivityRecorder interface {
	TouchLastActive(ctx context.Context, kind store.AccountKind, id string, at time.Time) error
}

// Observer is notified of registry lifecycle events.
type Observer interface {
	SessionCreated(kind identity.Kind)
	SessionsExpired(n int)
}

// Registry owns every live session. Lookups touch the session's activity
// time while holding the registry read lock, so a concurrent Sweep (which
// takes the write lock) never evicts a session mid-lookup.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now           func() time.Time
	activity      ActivityRecorder
	observer      Observer
	notifyTimeout time.Duration
	logger        *slog.Logger

	notifyWG  sync.WaitGroup
	closeMu   sync.Mutex
	done      chan struct{}
	closed    bool
	sweeperOn bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithActivityRecorder sets the directory notified when sessions are created.
func WithActivityRecorder(a ActivityRecorder) Option {
	return func(r *Registry) { r.activity = a }
}

// WithObserver sets a lifecycle observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNotifyTimeout bounds each activity notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(r *Registry) { r.notifyTimeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:      make(map[string]*Session),
		now:           time.Now,
		notifyTimeout: defaultNotifyTimeout,
		logger:        slog.Default(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "sessions")
	return r
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return IDPrefix + id.String()
}

// Create stores a new uninitialized session for the identity and returns it.
// The directory's last-active timestamp is updated asynchronously; failures
// are logged and never affect the caller.
func (r *Registry) Create(ident identity.Identity) *Session {
	now := r.now()
	s := newSession(newID(), ident, now)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.logger.Info("MCP session created",
		"session_id", s.id,
		"principal_id", ident.PrincipalID(),
		"kind", ident.Kind(),
		"tenant_id", ident.TenantID(),
	)

	if r.observer != nil {
		r.observer.SessionCreated(ident.Kind())
	}
	if r.activity != nil {
		r.notifyActive(ident, now)
	}
	return s
}

func (r *Registry) notifyActive(ident identity.Identity, at time.Time) {
	r.notifyWG.Add(1)
	go func() {
		defer r.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()

		if err := r.activity.TouchLastActive(ctx, identity.AccountKind(ident), ident.PrincipalID(), at); err != nil {
			r.logger.Warn("failed to record last active",
				"principal_id", ident.PrincipalID(),
				"kind", ident.Kind(),
				"error", err,
			)
		}
	}()
}

// Get returns the live session for id and refreshes its activity time.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	s.touch(r.now())
	return s, true
}

// Resume is Get restricted to the principal the session was created for.
// A session owned by someone else is reported as ErrNotFound and is not touched.
func (r *Registry) Resume(id string, ident identity.Identity) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || !samePrincipal(s.identity, ident) {
		return nil, ErrNotFound
	}
	s.touch(r.now())
	return s, nil
}

func samePrincipal(a, b identity.Identity) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind() == b.Kind() && a.PrincipalID() == b.PrincipalID() && a.TenantID() == b.TenantID()
}

// Peek returns the session for id without touching it.
func (r *Registry) Peek(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than idleTimeout and returns how
// many were removed.
func (r *Registry) Sweep(idleTimeout time.Duration) int {
	r.mu.Lock()
	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if s.idleSince(now) > idleTimeout {
			delete(r.sessions, id)
			removed++
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Info("expired MCP sessions", "removed", removed, "remaining", remaining)
		if r.observer != nil {
			r.observer.SessionsExpired(removed)
		}
	}
	return removed
}

// Start runs Sweep every interval until ctx is cancelled or Close is called.
// A non-positive interval means DefaultSweepInterval. Calling Start more than
// once has no effect.
func (r *Registry) Start(ctx context.Context, interval, idleTimeout time.Duration) {
	interval = sweepInterval(interval)

	r.closeMu.Lock()
	if r.sweeperOn || r.closed {
		r.closeMu.Unlock()
		return
	}
	r.sweeperOn = true
	r.closeMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(idleTimeout)
			case <-ctx.Done():
				return
			case <-r.done:
				return
			}
		}
	}()
}

func sweepInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultSweepInterval
	}
	return d
}

// Close stops the sweeper. It does not wait and is safe to call multiple times.
func (r *Registry) Close() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}

// WaitNotifications blocks until in-flight activity notifications finish or
// ctx is done.
func (r *Registry) WaitNotifications(ctx context.Context) {
	finished := make(chan struct{})
	go func() {
		r.notifyWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}
}
