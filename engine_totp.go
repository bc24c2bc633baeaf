package goAccounts

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goAccounts/internal/audit"
)

// RequestTwoFactorSetup starts two-factor enrollment by mailing a
// confirmation code to the account email. Requires an authenticated,
// non-guest user without an active enrollment.
func (e *Engine) RequestTwoFactorSetup(ctx context.Context, userUUID string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}
	if user.Role == RoleGuest {
		return ErrGuestNotAllowed
	}
	if user.TwoFactorEnabled {
		return ErrTwoFactorAlreadyOn
	}
	if user.Email == nil {
		return fmt.Errorf("%w: account has no email for confirmation", ErrValidation)
	}

	return e.requestConfirmation(ctx, PurposeSetupTwoFactor, user.UUID, *user.Email)
}

// ConfirmTwoFactorSetup verifies the mailed code and returns the shared
// secret plus an enrollment URI for authenticator apps. A pending secret
// from an earlier unfinished setup is reused, so re-running setup does
// not invalidate a QR code the user already scanned.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userUUID, code string) (*TwoFactorSetup, error) {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyOn
	}

	if err := e.verifyConfirmation(ctx, PurposeSetupTwoFactor, user.UUID, code); err != nil {
		return nil, err
	}

	var secretBase32 string
	if user.TwoFactorPendingEnc != nil {
		raw, err := e.secrets.Open(*user.TwoFactorPendingEnc)
		if err != nil {
			return nil, wrapBackend(err)
		}
		secretBase32 = e.totp.EncodeSecret(raw)
	} else {
		raw, encoded, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, wrapBackend(err)
		}
		sealed, err := e.secrets.Seal(raw)
		if err != nil {
			return nil, wrapBackend(err)
		}
		if err := e.users.SetTwoFactorPending(ctx, user.ID, sealed); err != nil {
			return nil, wrapBackend(err)
		}
		secretBase32 = encoded
	}

	account := user.Login
	if user.Email != nil {
		account = *user.Email
	}
	return &TwoFactorSetup{
		Secret:        secretBase32,
		EnrollmentURI: e.totp.ProvisionURI(secretBase32, account),
	}, nil
}

// ActivateTwoFactor promotes the pending secret once the user proves
// possession with a valid TOTP code. Every existing session is
// terminated so stolen credentials predating the change die with it.
func (e *Engine) ActivateTwoFactor(ctx context.Context, userUUID, totpCode string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return ErrTwoFactorAlreadyOn
	}
	if user.TwoFactorPendingEnc == nil {
		return fmt.Errorf("%w: no pending two-factor enrollment", ErrValidation)
	}

	secret, err := e.secrets.Open(*user.TwoFactorPendingEnc)
	if err != nil {
		return wrapBackend(err)
	}
	ok, err := e.totp.VerifyCode(secret, totpCode, e.now())
	if err != nil {
		return wrapBackend(err)
	}
	if !ok {
		return ErrInvalidToken
	}

	if err := e.users.ActivateTwoFactor(ctx, user.ID); err != nil {
		return wrapBackend(err)
	}
	if err := e.logoutAllForUser(ctx, user); err != nil {
		e.warnf("session invalidation after 2fa enable failed for %s: %v", user.UUID, err)
	}

	e.emitAudit(ctx, audit.EventTwoFactorEnable, true, user.UUID, ClientMeta{}, "", nil, nil)
	return nil
}

// RequestTwoFactorDisable mails the confirmation code gating two-factor
// removal.
func (e *Engine) RequestTwoFactorDisable(ctx context.Context, userUUID string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if user.Email == nil {
		return fmt.Errorf("%w: account has no email for confirmation", ErrValidation)
	}

	return e.requestConfirmation(ctx, PurposeDisableTwoFactor, user.UUID, *user.Email)
}

// ConfirmTwoFactorDisable verifies the code and clears the enrollment.
func (e *Engine) ConfirmTwoFactorDisable(ctx context.Context, userUUID, code string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if err := e.verifyConfirmation(ctx, PurposeDisableTwoFactor, user.UUID, code); err != nil {
		return err
	}

	if err := e.users.DisableTwoFactor(ctx, user.ID); err != nil {
		return wrapBackend(err)
	}

	e.emitAudit(ctx, audit.EventTwoFactorDisable, true, user.UUID, ClientMeta{}, "", nil, nil)
	return nil
}
