package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
)

const deviceColumns = `id, user_id, device_id, ip, user_agent, geo, is_active, last_login_at, last_used_at, created_at`

// UpsertDeviceSession creates the (user, device) row or refreshes its
// metadata, reactivating it if a device-scoped logout had deactivated
// it. Returns the stored row.
func (s *Storage) UpsertDeviceSession(ctx context.Context, ds *accounts.DeviceSession) (*accounts.DeviceSession, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO device_sessions (user_id, device_id, ip, user_agent, geo, is_active, last_login_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			ip = excluded.ip,
			user_agent = excluded.user_agent,
			geo = excluded.geo,
			is_active = 1,
			last_login_at = excluded.last_login_at,
			last_used_at = excluded.last_used_at
	`

	_, err := s.db.ExecContext(ctx, query,
		ds.UserID, ds.DeviceID, ds.IP, ds.UserAgent, ds.Geo, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device session: %w", err)
	}

	return s.GetDeviceSession(ctx, ds.UserID, ds.DeviceID)
}

// GetDeviceSession returns the row for (userID, deviceID), active or
// not.
func (s *Storage) GetDeviceSession(ctx context.Context, userID int64, deviceID string) (*accounts.DeviceSession, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_sessions WHERE user_id = ? AND device_id = ?`
	return scanDeviceSession(s.db.QueryRowContext(ctx, query, userID, deviceID))
}

// ListDeviceSessions returns the user's device sessions, most recently
// used first.
func (s *Storage) ListDeviceSessions(ctx context.Context, userID int64) ([]accounts.DeviceSession, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_sessions WHERE user_id = ? ORDER BY last_used_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var sessions []accounts.DeviceSession
	for rows.Next() {
		ds, err := scanDeviceSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return sessions, nil
}

// TouchDeviceSession refreshes activity metadata and lastUsedAt.
func (s *Storage) TouchDeviceSession(ctx context.Context, id int64, ip, userAgent, geo string, at time.Time) error {
	query := `
		UPDATE device_sessions SET ip = ?, user_agent = ?, geo = ?, last_used_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query, ip, userAgent, geo, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch device session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateDeviceSession marks one (user, device) pairing inactive.
func (s *Storage) DeactivateDeviceSession(ctx context.Context, userID int64, deviceID string) error {
	query := `UPDATE device_sessions SET is_active = 0, last_used_at = ? WHERE user_id = ? AND device_id = ?`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to deactivate device session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAllDeviceSessions marks every pairing of the user inactive.
func (s *Storage) DeactivateAllDeviceSessions(ctx context.Context, userID int64) error {
	query := `UPDATE device_sessions SET is_active = 0, last_used_at = ? WHERE user_id = ?`

	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to deactivate device sessions: %w", err)
	}
	return nil
}

func scanDeviceSession(row rowScanner) (*accounts.DeviceSession, error) {
	var ds accounts.DeviceSession

	err := row.Scan(
		&ds.ID,
		&ds.UserID,
		&ds.DeviceID,
		&ds.IP,
		&ds.UserAgent,
		&ds.Geo,
		&ds.IsActive,
		&ds.LastLoginAt,
		&ds.LastUsedAt,
		&ds.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan device session: %w", err)
	}
	return &ds, nil
}
