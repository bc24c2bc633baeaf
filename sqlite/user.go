package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
)

const userColumns = `id, uuid, login, email, password_hash, role, avatar_url,
	two_factor_enabled, two_factor_secret, two_factor_pending_secret,
	is_deleted, deleted_at, created_at, updated_at`

// CreateUser inserts a user row and fills u.ID.
func (s *Storage) CreateUser(ctx context.Context, u *accounts.User) error {
	query := `
		INSERT INTO users (uuid, login, email, password_hash, role, avatar_url,
			two_factor_enabled, two_factor_secret, two_factor_pending_secret,
			is_deleted, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		u.UUID,
		u.Login,
		u.Email,
		u.PasswordHash,
		string(u.Role),
		u.AvatarURL,
		u.TwoFactorEnabled,
		u.TwoFactorSecretEnc,
		u.TwoFactorPendingEnc,
		u.IsDeleted,
		u.DeletedAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUserByID returns the user row with the given internal id, deleted
// or not.
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*accounts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUUID returns the non-deleted user with the given uuid.
func (s *Storage) GetUserByUUID(ctx context.Context, uuid string) (*accounts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE uuid = ? AND is_deleted = 0`
	return scanUser(s.db.QueryRowContext(ctx, query, uuid))
}

// GetUserByEmail returns the non-deleted user with the given email,
// matched case-insensitively.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*accounts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower(?) AND is_deleted = 0`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// GetUserByLogin returns the non-deleted user with the given login,
// matched case-insensitively.
func (s *Storage) GetUserByLogin(ctx context.Context, login string) (*accounts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(login) = lower(?) AND is_deleted = 0`
	return scanUser(s.db.QueryRowContext(ctx, query, login))
}

// GetDeletedUserByEmail resolves a soft-deleted row for the restore
// flow. The newest deleted row wins when several share an email.
func (s *Storage) GetDeletedUserByEmail(ctx context.Context, email string) (*accounts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE lower(email) = lower(?) AND is_deleted = 1
		ORDER BY deleted_at DESC LIMIT 1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// SetPasswordHash replaces the stored password hash.
func (s *Storage) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		hash, time.Now().UTC(), userID)
}

// SetAvatarURL updates the user's avatar pointer.
func (s *Storage) SetAvatarURL(ctx context.Context, userID int64, url string) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET avatar_url = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		url, time.Now().UTC(), userID)
}

// SetTwoFactorPending stores an encrypted pending TOTP secret.
func (s *Storage) SetTwoFactorPending(ctx context.Context, userID int64, encSecret string) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET two_factor_pending_secret = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		encSecret, time.Now().UTC(), userID)
}

// ActivateTwoFactor promotes the pending secret to the live secret and
// flips two_factor_enabled in one statement. Fails when no pending
// secret exists.
func (s *Storage) ActivateTwoFactor(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET two_factor_secret = two_factor_pending_secret,
			two_factor_pending_secret = NULL,
			two_factor_enabled = 1,
			updated_at = ?
		WHERE id = ? AND is_deleted = 0 AND two_factor_pending_secret IS NOT NULL`,
		time.Now().UTC(), userID)
}

// DisableTwoFactor clears both secrets and the enabled flag.
func (s *Storage) DisableTwoFactor(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET two_factor_secret = NULL,
			two_factor_pending_secret = NULL,
			two_factor_enabled = 0,
			updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		time.Now().UTC(), userID)
}

// RestoreUser clears the soft-delete flags on a deleted row.
func (s *Storage) RestoreUser(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, userID,
		`UPDATE users SET is_deleted = 0, deleted_at = NULL, updated_at = ?
		WHERE id = ? AND is_deleted = 1`,
		time.Now().UTC(), userID)
}

// PurgeAgedGuests hard-deletes guest rows created before the cutoff.
func (s *Storage) PurgeAgedGuests(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM users WHERE role = 'guest' AND created_at < ?`

	res, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge aged guests: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (s *Storage) updateUser(ctx context.Context, userID int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update user %d: %w", userID, err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*accounts.User, error) {
	var (
		u         accounts.User
		role      string
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&u.ID,
		&u.UUID,
		&u.Login,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.AvatarURL,
		&u.TwoFactorEnabled,
		&u.TwoFactorSecretEnc,
		&u.TwoFactorPendingEnc,
		&u.IsDeleted,
		&deletedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.Role = accounts.Role(role)
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}
