// ABOUTME: Asynchronous audit recorder with a bounded queue and pluggable sinks
// ABOUTME: Record never blocks the caller; sink failures are logged, not returned

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/store"
)

// Event is one auditable action taken by an identity.
type Event struct {
	Actor    identity.Identity
	Action   store.AuditAction
	Resource string
	Detail   map[string]any
	At       time.Time
}

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Discard is a Sink that drops every event.
type Discard struct{}

// Write implements Sink.
func (Discard) Write(context.Context, Event) error { return nil }

const writeTimeout = 5 * time.Second

// Recorder queues events and writes them to a Sink on one worker goroutine.
type Recorder struct {
	sink    Sink
	queue   chan Event
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts a recorder writing to sink with room for queueSize
// pending events.
func NewRecorder(sink Sink, queueSize int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	r := &Recorder{
		sink:   sink,
		queue:  make(chan Event, queueSize),
		logger: logger.With("component", "audit"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event. When the queue is full the event is dropped
// and a warning is logged.
func (r *Recorder) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("audit recorder closed, dropping event", "action", ev.Action)
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping event",
			"action", ev.Action,
			"resource", ev.Resource,
		)
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.sink.Write(ctx, ev)
		cancel()

		if err != nil {
			r.failed.Add(1)
			r.logger.Error("failed to write audit event",
				"action", ev.Action,
				"resource", ev.Resource,
				"error", err,
			)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed returns how many events the sink rejected.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// Close stops accepting events and waits for the queue to drain or ctx to end.
// Safe to call multiple times.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
