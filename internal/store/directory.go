// ABOUTME: Tenant and account directory queries for SQLiteStore
// ABOUTME: Backs identity resolution, discovery, admin tool listings and last-active tracking

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// accountTable maps an account kind to its table name.
func accountTable(kind AccountKind) (string, error) {
	switch kind {
	case KindGlobalAdmin:
		return "global_admins", nil
	case KindTenantAdmin:
		return "tenant_admins", nil
	case KindTenantUser:
		return "tenant_users", nil
	default:
		return "", fmt.Errorf("unknown account kind %q", kind)
	}
}

// CreateTenant inserts a tenant. ID and CreatedAt are generated if empty.
func (s *SQLiteStore) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TenantPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, domain, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, strings.ToLower(t.Domain), string(t.Status), formatTime(t.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}

	s.logger.Debug("created tenant", "id", t.ID, "status", t.Status)
	return nil
}

// UpdateTenantStatus changes a tenant's approval status.
func (s *SQLiteStore) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating tenant status: %w", err)
	}
	return requireAffected(res)
}

// GetTenant retrieves a tenant by ID.
func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, domain, status, created_at FROM tenants WHERE id = ?`, id)

	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTenants returns tenants matching the filter ordered by name.
func (s *SQLiteStore) ListTenants(ctx context.Context, f TenantFilter) ([]Tenant, error) {
	var status, domain *string
	if f.Status != nil {
		v := string(*f.Status)
		status = &v
	}
	if f.Domain != "" {
		v := strings.ToLower(f.Domain)
		domain = &v
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, domain, status, created_at
		FROM tenants
		WHERE (? IS NULL OR status = ?)
		  AND (? IS NULL OR domain = ?)
		ORDER BY name, id
	`, status, status, domain, domain)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tenants := []Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return tenants, nil
}

func scanTenant(scanner interface{ Scan(dest ...any) error }) (Tenant, error) {
	var t Tenant
	var status, createdAt string
	if err := scanner.Scan(&t.ID, &t.Name, &t.Domain, &status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scanning tenant: %w", err)
	}
	t.Status = TenantStatus(status)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, fmt.Errorf("parsing tenant created_at: %w", err)
	}
	return t, nil
}

// CreateAccount inserts an account into the table for its kind.
// ID and CreatedAt are generated if empty; Status defaults to active.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *Account) error {
	table, err := accountTable(a.Kind)
	if err != nil {
		return err
	}
	if a.Kind == KindGlobalAdmin && a.TenantID != "" {
		return fmt.Errorf("global admin cannot belong to tenant %q", a.TenantID)
	}
	if a.Kind != KindGlobalAdmin && a.TenantID == "" {
		return fmt.Errorf("%s requires a tenant id", a.Kind)
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = AccountActive
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))

	if a.Kind == KindGlobalAdmin {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO global_admins (id, email, name, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.Email, a.Name, string(a.Status), formatTime(a.CreatedAt),
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO `+table+` (id, tenant_id, email, name, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.TenantID, a.Email, a.Name, string(a.Status), formatTime(a.CreatedAt),
		)
	}
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("inserting %s: tenant %q does not exist", a.Kind, a.TenantID)
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting %s: %w", a.Kind, err)
	}

	s.logger.Debug("created account", "id", a.ID, "kind", a.Kind, "tenant_id", a.TenantID)
	return nil
}

// UpdateAccountStatus activates or deactivates an account.
func (s *SQLiteStore) UpdateAccountStatus(ctx context.Context, kind AccountKind, id string, status AccountStatus) error {
	table, err := accountTable(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating %s status: %w", kind, err)
	}
	return requireAffected(res)
}

// GetGlobalAdmin retrieves a global admin by ID.
func (s *SQLiteStore) GetGlobalAdmin(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, '', email, name, status, created_at, last_active_at
		FROM global_admins WHERE id = ?`, id)
	return scanAccountRow(row, KindGlobalAdmin)
}

// GetTenantAdmin retrieves a tenant admin by ID scoped to a tenant.
func (s *SQLiteStore) GetTenantAdmin(ctx context.Context, id, tenantID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, name, status, created_at, last_active_at
		FROM tenant_admins WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanAccountRow(row, KindTenantAdmin)
}

// GetTenantUser retrieves a tenant user by ID scoped to a tenant.
func (s *SQLiteStore) GetTenantUser(ctx context.Context, id, tenantID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, name, status, created_at, last_active_at
		FROM tenant_users WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanAccountRow(row, KindTenantUser)
}

// ListTenantUsers returns every user of a tenant ordered by email.
func (s *SQLiteStore) ListTenantUsers(ctx context.Context, tenantID string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, name, status, created_at, last_active_at
		FROM tenant_users WHERE tenant_id = ?
		ORDER BY email`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying tenant users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectAccounts(rows, KindTenantUser)
}

// FindAccountsByEmail returns every account across the three tables whose
// email matches, global admins first.
func (s *SQLiteStore) FindAccountsByEmail(ctx context.Context, email string) ([]Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	accounts := []Account{}

	queries := []struct {
		kind  AccountKind
		query string
	}{
		{KindGlobalAdmin, `SELECT id, '', email, name, status, created_at, last_active_at FROM global_admins WHERE email = ?`},
		{KindTenantAdmin, `SELECT id, tenant_id, email, name, status, created_at, last_active_at FROM tenant_admins WHERE email = ? ORDER BY tenant_id`},
		{KindTenantUser, `SELECT id, tenant_id, email, name, status, created_at, last_active_at FROM tenant_users WHERE email = ? ORDER BY tenant_id`},
	}

	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query, email)
		if err != nil {
			return nil, fmt.Errorf("querying %s by email: %w", q.kind, err)
		}
		found, err := collectAccounts(rows, q.kind)
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, found...)
	}

	return accounts, nil
}

// TouchLastActive sets last_active_at for an account.
func (s *SQLiteStore) TouchLastActive(ctx context.Context, kind AccountKind, id string, at time.Time) error {
	table, err := accountTable(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET last_active_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating last_active_at: %w", err)
	}
	return requireAffected(res)
}

func scanAccountRow(row *sql.Row, kind AccountKind) (*Account, error) {
	a, err := scanAccount(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAccount(scanner interface{ Scan(dest ...any) error }, kind AccountKind) (Account, error) {
	a := Account{Kind: kind}
	var status, createdAt string
	var lastActive sql.NullString

	if err := scanner.Scan(&a.ID, &a.TenantID, &a.Email, &a.Name, &status, &createdAt, &lastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scanning %s: %w", kind, err)
	}
	a.Status = AccountStatus(status)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.LastActiveAt, err = parseNullableTime(lastActive); err != nil {
		return a, fmt.Errorf("parsing last_active_at: %w", err)
	}
	return a, nil
}

func collectAccounts(rows *sql.Rows, kind AccountKind) ([]Account, error) {
	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows, kind)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", kind, err)
	}
	return accounts, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
