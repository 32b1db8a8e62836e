// ABOUTME: Request-scoped collector for audit events emitted while handling a request
// ABOUTME: The transport flushes collected events to the Recorder after the response is written

package audit

import (
	"context"
	"sync"
)

type deferredKey struct{}

// Deferred collects events for one request.
type Deferred struct {
	mu     sync.Mutex
	events []Event
}

// WithDeferred returns a context carrying a fresh collector.
func WithDeferred(ctx context.Context) (context.Context, *Deferred) {
	d := &Deferred{}
	return context.WithValue(ctx, deferredKey{}, d), d
}

// Defer adds ev to the collector in ctx. Reports false when ctx has no
// collector, in which case the event is discarded.
func Defer(ctx context.Context, ev Event) bool {
	d, ok := ctx.Value(deferredKey{}).(*Deferred)
	if !ok || d == nil {
		return false
	}
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	return true
}

// Events returns a copy of the collected events.
func (d *Deferred) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Flush hands every collected event to rec and empties the collector.
func (d *Deferred) Flush(rec *Recorder) int {
	d.mu.Lock()
	events := d.events
	d.events = nil
	d.mu.Unlock()

	if rec == nil {
		return 0
	}
	for _, ev := range events {
		rec.Record(ev)
	}
	return len(events)
}
