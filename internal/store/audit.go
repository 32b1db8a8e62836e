// ABOUTME: Audit log entity and store methods for tracking MCP actions
// ABOUTME: Records which identity did what to which resource for compliance and debugging

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditSessionCreate    AuditAction = "session.create"
	AuditSessionsCleanup  AuditAction = "sessions.cleanup"
	AuditDeviceControl    AuditAction = "device.control"
	AuditTenantsList      AuditAction = "tenants.list"
	AuditTenantUsersList  AuditAction = "tenant_users.list"
	AuditResourceRead     AuditAction = "resource.read"
	AuditCredentialLinked AuditAction = "credential.link"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string         // UUID v4
	ActorKind AccountKind    // identity class of the actor
	ActorID   string         // who performed the action
	TenantID  string         // tenant scope, empty for global
	Action    AuditAction    // what action was performed
	Resource  string         // affected resource, e.g. "device/1000abc"
	Timestamp time.Time      // when it happened
	Detail    map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since    *time.Time
	Until    *time.Time
	ActorID  *string
	TenantID *string
	Action   *AuditAction
	Limit    int // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	var tenantID *string
	if e.TenantID != "" {
		tenantID = &e.TenantID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor_kind, actor_id, tenant_id, action, resource, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.ActorKind),
		e.ActorID,
		tenantID,
		string(e.Action),
		e.Resource,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorID,
		"action", e.Action,
		"resource", e.Resource,
	)
	return nil
}

func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var kind, action, ts string
	var tenantID, detailJSON *string

	if err := scanner.Scan(&e.ID, &kind, &e.ActorID, &tenantID, &action, &e.Resource, &ts, &detailJSON); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.ActorKind = AccountKind(kind)
	e.Action = AuditAction(action)
	if tenantID != nil {
		e.TenantID = *tenantID
	}

	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, actor_kind, actor_id, tenant_id, action, resource, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor_id = ?)
	  AND (? IS NULL OR tenant_id = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var since, until, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.Until != nil {
		v := formatTime(*f.Until)
		until = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		until, until,
		f.ActorID, f.ActorID,
		f.TenantID, f.TenantID,
		action, action,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
