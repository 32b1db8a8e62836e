// ABOUTME: Audit sinks backed by the SQLite audit_log table or a Redis stream
// ABOUTME: The Redis sink appends one XADD entry per event to a capped stream

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/store"
)

// StoreSink writes events to the store's audit log.
type StoreSink struct {
	store store.AuditStore
}

// NewStoreSink creates a sink writing to s.
func NewStoreSink(s store.AuditStore) *StoreSink {
	return &StoreSink{store: s}
}

// Write implements Sink.
func (s *StoreSink) Write(ctx context.Context, ev Event) error {
	entry := &store.AuditEntry{
		Action:    ev.Action,
		Resource:  ev.Resource,
		Timestamp: ev.At,
		Detail:    ev.Detail,
	}
	if ev.Actor != nil {
		entry.ActorKind = identity.AccountKind(ev.Actor)
		entry.ActorID = ev.Actor.PrincipalID()
		entry.TenantID = ev.Actor.TenantID()
	}
	return s.store.AppendAuditLog(ctx, entry)
}

// DefaultStreamMaxLen caps the Redis audit stream (approximate trimming).
const DefaultStreamMaxLen = 100000

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	Client redis.UniversalClient
	Stream string
	MaxLen int64
}

// NewRedisSink creates a sink appending to cfg.Stream.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis stream is required")
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultStreamMaxLen
	}
	return &RedisSink{client: cfg.Client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, ev Event) error {
	values := map[string]any{
		"action":   string(ev.Action),
		"resource": ev.Resource,
		"ts":       ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Actor != nil {
		values["actor_kind"] = string(ev.Actor.Kind())
		values["actor_id"] = ev.Actor.PrincipalID()
		values["tenant_id"] = ev.Actor.TenantID()
	}
	if ev.Detail != nil {
		data, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		values["detail"] = string(data)
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to stream %s: %w", s.stream, err)
	}
	return nil
}
