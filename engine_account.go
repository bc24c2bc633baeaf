package goAccounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/internal/transient"
	"github.com/MrEthical07/goAccounts/password"
	"github.com/google/uuid"
)

// Register stages a password account and mails a confirmation code to
// the address. No user row exists until ConfirmRegister succeeds, so an
// unconfirmed registration never occupies the email or login.
func (e *Engine) Register(ctx context.Context, login, email, pass, captchaToken string, meta ClientMeta) error {
	email = normalizeEmail(email)
	login = strings.TrimSpace(login)
	if err := validateRegistration(login, email); err != nil {
		return err
	}

	if err := e.verifyCaptcha(ctx, captchaToken, meta.IP); err != nil {
		return err
	}

	if err := e.checkIdentityFree(ctx, login, email); err != nil {
		return err
	}

	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return fmt.Errorf("%w: password too short", ErrValidation)
		}
		return wrapBackend(err)
	}

	payload, err := transient.EncodePendingSignup(&transient.PendingSignup{
		Email:        email,
		Login:        login,
		PasswordHash: hash,
	})
	if err != nil {
		return wrapBackend(err)
	}
	if err := e.transient.SaveStaged(ctx, string(PurposeRegister), email, payload, e.config.Confirm.StagingTTL); err != nil {
		return wrapBackend(err)
	}

	return e.requestConfirmation(ctx, PurposeRegister, email, email)
}

// ConfirmRegister verifies the mailed code, creates the user row and
// establishes the first session.
func (e *Engine) ConfirmRegister(ctx context.Context, email, code string, rememberMe bool, meta ClientMeta) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}

	if err := e.verifyConfirmation(ctx, PurposeRegister, email, code); err != nil {
		return nil, err
	}

	payload, err := e.transient.TakeStaged(ctx, string(PurposeRegister), email)
	if err != nil {
		if errors.Is(err, transient.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, wrapBackend(err)
	}
	pending, err := transient.DecodePendingSignup(payload)
	if err != nil {
		return nil, ErrInvalidToken
	}

	now := e.now().UTC()
	user := &User{
		UUID:         uuid.NewString(),
		Login:        pending.Login,
		Email:        strptr(pending.Email),
		PasswordHash: strptr(pending.PasswordHash),
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// claimed while the code was in flight
			return nil, fmt.Errorf("%w: email or login already in use", ErrConflict)
		}
		return nil, wrapBackend(err)
	}

	sess, err := e.establishSession(ctx, user, meta, rememberMe)
	if err != nil {
		e.emitAudit(ctx, audit.EventRegister, false, user.UUID, meta, "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, audit.EventRegister, true, user.UUID, meta, "", nil, nil)
	return sess, nil
}

// RequestAccountDelete mails the confirmation code gating soft deletion.
func (e *Engine) RequestAccountDelete(ctx context.Context, userUUID string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}
	if user.Role == RoleGuest {
		return ErrGuestNotAllowed
	}
	if user.Email == nil {
		return fmt.Errorf("%w: account has no email for confirmation", ErrValidation)
	}

	return e.requestConfirmation(ctx, PurposeDeleteAccount, user.UUID, *user.Email)
}

// ConfirmAccountDelete verifies the code and soft-deletes the account:
// the user flag, every link, every device session and every ledger row
// transition in one transaction. The row remains restorable.
func (e *Engine) ConfirmAccountDelete(ctx context.Context, userUUID, code string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}

	if err := e.verifyConfirmation(ctx, PurposeDeleteAccount, user.UUID, code); err != nil {
		return err
	}

	if err := e.identities.SoftDeleteAccount(ctx, user.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAccountDeleted
		}
		return wrapBackend(err)
	}

	e.emitAudit(ctx, audit.EventAccountDelete, true, user.UUID, ClientMeta{}, "", nil, nil)
	return nil
}

// RequestAccountRestore mails a confirmation code to the email of a
// soft-deleted account. Unknown addresses report not-found: restore is
// the one flow where revealing absence beats a silent dead end.
func (e *Engine) RequestAccountRestore(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email required", ErrValidation)
	}

	user, err := e.users.GetDeletedUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return wrapBackend(err)
	}

	return e.requestConfirmation(ctx, PurposeRestoreAccount, email, *user.Email)
}

// ConfirmAccountRestore verifies the code and clears the deleted flag.
// Fails with conflict when the email or login was claimed by another
// account while this one was deleted.
func (e *Engine) ConfirmAccountRestore(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)

	if err := e.verifyConfirmation(ctx, PurposeRestoreAccount, email, code); err != nil {
		return err
	}

	user, err := e.users.GetDeletedUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return wrapBackend(err)
	}

	if err := e.users.RestoreUser(ctx, user.ID); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("%w: email or login claimed while deleted", ErrConflict)
		}
		return wrapBackend(err)
	}

	e.emitAudit(ctx, audit.EventAccountRestore, true, user.UUID, ClientMeta{}, "", nil, nil)
	return nil
}

func validateRegistration(login, email string) error {
	if len(login) < 3 || len(login) > 32 {
		return fmt.Errorf("%w: login must be 3-32 characters", ErrValidation)
	}
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return nil
}

func (e *Engine) checkIdentityFree(ctx context.Context, login, email string) error {
	if _, err := e.users.GetUserByEmail(ctx, email); err == nil {
		return fmt.Errorf("%w: email already in use", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return wrapBackend(err)
	}
	if _, err := e.users.GetUserByLogin(ctx, login); err == nil {
		return fmt.Errorf("%w: login already in use", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return wrapBackend(err)
	}
	return nil
}
