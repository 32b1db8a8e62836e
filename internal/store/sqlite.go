// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema and runs idempotent migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			domain     TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (status IN ('pending', 'approved', 'rejected', 'suspended'))
		);

		CREATE INDEX IF NOT EXISTS idx_tenants_domain ON tenants(domain);

		CREATE TABLE IF NOT EXISTS global_admins (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL UNIQUE,
			name           TEXT NOT NULL,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			last_active_at TEXT,

			CHECK (status IN ('active', 'inactive'))
		);

		CREATE TABLE IF NOT EXISTS tenant_admins (
			id             TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			email          TEXT NOT NULL,
			name           TEXT NOT NULL,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			last_active_at TEXT,

			CHECK (status IN ('active', 'inactive'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_admins_email ON tenant_admins(tenant_id, email);

		CREATE TABLE IF NOT EXISTS tenant_users (
			id             TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			email          TEXT NOT NULL,
			name           TEXT NOT NULL,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			last_active_at TEXT,

			CHECK (status IN ('active', 'inactive'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_users_email ON tenant_users(tenant_id, email);

		CREATE TABLE IF NOT EXISTS device_credentials (
			principal_id  TEXT PRIMARY KEY,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expiry        TEXT,
			region        TEXT NOT NULL DEFAULT '',
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id   TEXT PRIMARY KEY,
			actor_kind TEXT NOT NULL,
			actor_id   TEXT NOT NULL,
			tenant_id  TEXT,
			action     TEXT NOT NULL,
			resource   TEXT NOT NULL DEFAULT '',
			ts         TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('device_credentials') WHERE name = 'region'`,
			apply:  `ALTER TABLE device_credentials ADD COLUMN region TEXT NOT NULL DEFAULT ''`,
			column: "device_credentials.region",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('audit_log') WHERE name = 'tenant_id'`,
			apply:  `ALTER TABLE audit_log ADD COLUMN tenant_id TEXT`,
			column: "audit_log.tenant_id",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime converts an optional TEXT column into a *time.Time.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
