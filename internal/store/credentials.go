// ABOUTME: Device cloud credential persistence for SQLiteStore
// ABOUTME: One eWeLink OAuth token per principal, upserted on link and refresh

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetDeviceCredential returns the linked device cloud token for a principal.
func (s *SQLiteStore) GetDeviceCredential(ctx context.Context, principalID string) (*DeviceCredential, error) {
	var c DeviceCredential
	var expiry sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, access_token, refresh_token, expiry, region, updated_at
		FROM device_credentials WHERE principal_id = ?`, principalID,
	).Scan(&c.PrincipalID, &c.AccessToken, &c.RefreshToken, &expiry, &c.Region, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device credential: %w", err)
	}

	exp, err := parseNullableTime(expiry)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry: %w", err)
	}
	if exp != nil {
		c.Expiry = *exp
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// SaveDeviceCredential inserts or replaces a principal's device cloud token.
func (s *SQLiteStore) SaveDeviceCredential(ctx context.Context, c *DeviceCredential) error {
	if c.PrincipalID == "" {
		return fmt.Errorf("principal id is required")
	}
	c.UpdatedAt = time.Now().UTC()

	var expiry *string
	if !c.Expiry.IsZero() {
		v := formatTime(c.Expiry)
		expiry = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_credentials (principal_id, access_token, refresh_token, expiry, region, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			region = excluded.region,
			updated_at = excluded.updated_at
	`, c.PrincipalID, c.AccessToken, c.RefreshToken, expiry, c.Region, formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving device credential: %w", err)
	}

	s.logger.Debug("saved device credential", "principal_id", c.PrincipalID)
	return nil
}

// DeleteDeviceCredential unlinks a principal's device cloud account.
func (s *SQLiteStore) DeleteDeviceCredential(ctx context.Context, principalID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM device_credentials WHERE principal_id = ?`, principalID)
	if err != nil {
		return fmt.Errorf("deleting device credential: %w", err)
	}
	return requireAffected(res)
}
