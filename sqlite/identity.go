package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
)

const linkColumns = `id, user_id, provider, provider_id, email, enabled, created_at, updated_at`

// GetLink returns the link for (provider, providerID) regardless of its
// enabled flag; the caller decides what a disabled row means.
func (s *Storage) GetLink(ctx context.Context, provider accounts.Provider, providerID string) (*accounts.IdentityLink, error) {
	query := `SELECT ` + linkColumns + ` FROM identity_links WHERE provider = ? AND provider_id = ?`
	return scanLink(s.db.QueryRowContext(ctx, query, string(provider), providerID))
}

// GetUserLink returns the user's link for one provider.
func (s *Storage) GetUserLink(ctx context.Context, userID int64, provider accounts.Provider) (*accounts.IdentityLink, error) {
	query := `SELECT ` + linkColumns + ` FROM identity_links WHERE user_id = ? AND provider = ?`
	return scanLink(s.db.QueryRowContext(ctx, query, userID, string(provider)))
}

// ListLinks returns all of the user's links, newest first.
func (s *Storage) ListLinks(ctx context.Context, userID int64) ([]accounts.IdentityLink, error) {
	query := `SELECT ` + linkColumns + ` FROM identity_links WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var links []accounts.IdentityLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return links, nil
}

// UpsertLink inserts the link or re-enables and updates the existing row
// for (user_id, provider). A conflicting (provider, provider_id) owned
// by another user yields ErrDuplicate.
func (s *Storage) UpsertLink(ctx context.Context, link *accounts.IdentityLink) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO identity_links (user_id, provider, provider_id, email, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_id = excluded.provider_id,
			email = excluded.email,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		link.UserID,
		string(link.Provider),
		link.ProviderID,
		link.Email,
		link.Enabled,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to upsert link: %w", err)
	}
	return nil
}

// DisableLink flips enabled=false; the row persists for history.
func (s *Storage) DisableLink(ctx context.Context, userID int64, provider accounts.Provider) error {
	query := `UPDATE identity_links SET enabled = 0, updated_at = ? WHERE user_id = ? AND provider = ?`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID, string(provider))
	if err != nil {
		return fmt.Errorf("failed to disable link: %w", err)
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

// CreateUserWithIdentity inserts the user and its first link in one
// transaction; both succeed or neither does.
func (s *Storage) CreateUserWithIdentity(ctx context.Context, u *accounts.User, link *accounts.IdentityLink) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (uuid, login, email, password_hash, role, avatar_url,
				two_factor_enabled, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			u.UUID, u.Login, u.Email, u.PasswordHash, string(u.Role), u.AvatarURL,
			u.CreatedAt, u.UpdatedAt,
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
		link.UserID = id

		return insertLink(ctx, tx, link)
	})
}

// ConvertGuestWithIdentity promotes a guest row and inserts the link in
// one transaction. When the row is not a live guest, or the link
// conflicts, nothing changes.
func (s *Storage) ConvertGuestWithIdentity(ctx context.Context, guestID int64, login, email string, link *accounts.IdentityLink) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET login = ?, email = ?, role = 'user', updated_at = ?
			WHERE id = ? AND role = 'guest' AND is_deleted = 0`,
			login, email, time.Now().UTC(), guestID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to promote guest: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		link.UserID = guestID
		return insertLink(ctx, tx, link)
	})
}

// SoftDeleteAccount flags the user deleted and cascades: every link
// disabled, every device session deactivated, every live ledger row
// revoked. One transaction.
func (s *Storage) SoftDeleteAccount(ctx context.Context, userID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx, `
			UPDATE users SET is_deleted = 1, deleted_at = ?, updated_at = ?
			WHERE id = ? AND is_deleted = 0`,
			now, now, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to soft-delete user: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE identity_links SET enabled = 0, updated_at = ? WHERE user_id = ?`,
			now, userID,
		); err != nil {
			return fmt.Errorf("failed to disable links: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE device_sessions SET is_active = 0, last_used_at = ? WHERE user_id = ?`,
			now, userID,
		); err != nil {
			return fmt.Errorf("failed to deactivate device sessions: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0`,
			now, userID,
		); err != nil {
			return fmt.Errorf("failed to revoke tokens: %w", err)
		}
		return nil
	})
}

func insertLink(ctx context.Context, tx *sql.Tx, link *accounts.IdentityLink) error {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO identity_links (user_id, provider, provider_id, email, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		link.UserID, string(link.Provider), link.ProviderID, link.Email, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read link id: %w", err)
	}
	link.ID = id
	link.Enabled = true
	return nil
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanLink(row rowScanner) (*accounts.IdentityLink, error) {
	var (
		link     accounts.IdentityLink
		provider string
	)

	err := row.Scan(
		&link.ID,
		&link.UserID,
		&provider,
		&link.ProviderID,
		&link.Email,
		&link.Enabled,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}

	link.Provider = accounts.Provider(provider)
	return &link, nil
}
