package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
)

const tokenColumns = `id, jti, user_id, device_session_id, remember_me, expires_at, revoked, revoked_at, last_used_at, created_at`

// CreateRefreshToken appends a ledger row and fills rec.ID.
func (s *Storage) CreateRefreshToken(ctx context.Context, rec *accounts.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (jti, user_id, device_session_id, remember_me, expires_at, revoked, revoked_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.JTI,
		rec.UserID,
		rec.DeviceSessionID,
		rec.RememberMe,
		rec.ExpiresAt,
		rec.LastUsedAt,
		rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read token id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetRefreshToken returns the ledger row for a jti, revoked or not.
func (s *Storage) GetRefreshToken(ctx context.Context, jti string) (*accounts.RefreshTokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE jti = ?`
	return scanToken(s.db.QueryRowContext(ctx, query, jti))
}

// RevokeRefreshToken flips revoked under the condition revoked = 0 and
// reports whether this call made the transition. Two racing rotations
// of the same token therefore produce exactly one winner; revocation is
// never undone.
func (s *Storage) RevokeRefreshToken(ctx context.Context, jti string, at time.Time) (bool, error) {
	query := `UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE jti = ? AND revoked = 0`

	res, err := s.db.ExecContext(ctx, query, at, jti)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// TouchRefreshToken updates lastUsedAt.
func (s *Storage) TouchRefreshToken(ctx context.Context, jti string, at time.Time) error {
	query := `UPDATE refresh_tokens SET last_used_at = ? WHERE jti = ?`

	res, err := s.db.ExecContext(ctx, query, at, jti)
	if err != nil {
		return fmt.Errorf("failed to touch refresh token: %w", err)
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

// RevokeUserTokens revokes every live ledger row of the user.
func (s *Storage) RevokeUserTokens(ctx context.Context, userID int64, at time.Time) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0`

	res, err := s.db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// RevokeDeviceTokens revokes every live ledger row bound to one device
// session of the user.
func (s *Storage) RevokeDeviceTokens(ctx context.Context, userID int64, deviceSessionID int64, at time.Time) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = 1, revoked_at = ?
		WHERE user_id = ? AND device_session_id = ? AND revoked = 0`

	res, err := s.db.ExecContext(ctx, query, at, userID, deviceSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke device tokens: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// EnforceTokenCap revokes the oldest live rows beyond max, ordered by
// creation time, and returns how many were revoked.
func (s *Storage) EnforceTokenCap(ctx context.Context, userID int64, max int, at time.Time) (int64, error) {
	if max <= 0 {
		return 0, errors.New("token cap must be positive")
	}

	query := `
		UPDATE refresh_tokens SET revoked = 1, revoked_at = ?
		WHERE revoked = 0 AND id IN (
			SELECT id FROM refresh_tokens
			WHERE user_id = ? AND revoked = 0
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`

	res, err := s.db.ExecContext(ctx, query, at, userID, max)
	if err != nil {
		return 0, fmt.Errorf("failed to enforce token cap: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// PurgeExpiredTokens hard-deletes rows whose expiry passed before the
// cutoff; a retention job calls this, never the request path.
func (s *Storage) PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < ?`

	res, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func scanToken(row rowScanner) (*accounts.RefreshTokenRecord, error) {
	var (
		rec       accounts.RefreshTokenRecord
		revokedAt sql.NullTime
	)

	err := row.Scan(
		&rec.ID,
		&rec.JTI,
		&rec.UserID,
		&rec.DeviceSessionID,
		&rec.RememberMe,
		&rec.ExpiresAt,
		&rec.Revoked,
		&revokedAt,
		&rec.LastUsedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan refresh token: %w", err)
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}
