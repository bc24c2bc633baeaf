package goAccounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccounts/internal"
	"github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/internal/rate"
	"github.com/MrEthical07/goAccounts/internal/transient"
)

// loginChallengePurpose keys the staged 2FA login state. Internal: never
// exposed as a ConfirmPurpose because no mailed code is involved.
const loginChallengePurpose = "login2fa"

// Login authenticates by email and password. When the account has
// two-factor enabled no tokens are issued; the returned nonce must be
// replayed to ConfirmLogin2FA together with a TOTP code.
//
// Unknown email, password-less account and wrong password are
// indistinguishable to the caller, and every such failure counts against
// the (email, ip) attempt budget.
func (e *Engine) Login(ctx context.Context, email, pass string, rememberMe bool, meta ClientMeta) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}

	if err := e.rateLimiter.CheckLogin(ctx, email, meta.IP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, audit.EventLogin, false, "", meta, "", ErrRateLimited, map[string]string{"email": email})
			return nil, ErrRateLimited
		}
		return nil, wrapBackend(err)
	}

	if pass == "" {
		return nil, e.failLogin(ctx, email, meta, "", "empty_password")
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.failLogin(ctx, email, meta, "", "unknown_email")
		}
		return nil, wrapBackend(err)
	}
	if user.PasswordHash == nil {
		return nil, e.failLogin(ctx, email, meta, user.UUID, "no_password")
	}

	ok, err := e.passwordHash.Verify(pass, *user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, email, meta, user.UUID, "password_mismatch")
	}
	e.maybeUpgradeHash(ctx, user, pass)
	pass = ""

	if user.TwoFactorEnabled {
		nonce, err := internal.NewNonce()
		if err != nil {
			return nil, wrapBackend(err)
		}
		payload, err := transient.EncodeLoginChallenge(&transient.LoginChallenge{
			UserUUID:   user.UUID,
			RememberMe: rememberMe,
			IP:         meta.IP,
			UserAgent:  meta.UserAgent,
			IssuedAt:   e.now().Unix(),
		})
		if err != nil {
			return nil, wrapBackend(err)
		}
		if err := e.transient.SaveStaged(ctx, loginChallengePurpose, nonce, payload, e.config.TOTP.ChallengeTTL); err != nil {
			return nil, wrapBackend(err)
		}
		return &LoginResult{TwoFactorRequired: true, TwoFactorNonce: nonce}, nil
	}

	if err := e.rateLimiter.ResetLogin(ctx, email, meta.IP); err != nil {
		e.warnf("login limiter reset failed for %s: %v", email, err)
	}

	sess, err := e.establishSession(ctx, user, meta, rememberMe)
	if err != nil {
		e.emitAudit(ctx, audit.EventLogin, false, user.UUID, meta, "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, audit.EventLogin, true, user.UUID, meta, "", nil, nil)
	return &LoginResult{Session: sess}, nil
}

// ConfirmLogin2FA completes a two-factor login. A wrong code leaves the
// staged nonce intact until its own TTL, so the caller may retry within
// the attempt budget.
func (e *Engine) ConfirmLogin2FA(ctx context.Context, nonce, code string, meta ClientMeta) (*Session, error) {
	if nonce == "" {
		return nil, fmt.Errorf("%w: nonce required", ErrValidation)
	}
	if len(code) != e.config.TOTP.Digits || !isNumericString(code) {
		return nil, fmt.Errorf("%w: malformed code", ErrValidation)
	}

	if err := e.rateLimiter.CheckConfirm(ctx, nonce); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, ErrRateLimited
		}
		return nil, wrapBackend(err)
	}

	payload, err := e.transient.GetStaged(ctx, loginChallengePurpose, nonce)
	if err != nil {
		if errors.Is(err, transient.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, wrapBackend(err)
	}
	challenge, err := transient.DecodeLoginChallenge(payload)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := e.users.GetUserByUUID(ctx, challenge.UserUUID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecretEnc == nil {
		return nil, ErrTwoFactorNotEnabled
	}

	secret, err := e.secrets.Open(*user.TwoFactorSecretEnc)
	if err != nil {
		return nil, wrapBackend(err)
	}

	ok, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return nil, wrapBackend(err)
	}
	if !ok {
		if incErr := e.rateLimiter.IncrementConfirm(ctx, nonce); incErr != nil && !errors.Is(incErr, rate.ErrRateLimited) {
			e.warnf("2fa limiter increment failed: %v", incErr)
		}
		e.emitAudit(ctx, audit.EventLogin2FA, false, user.UUID, meta, "", ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	if err := e.transient.DeleteStaged(ctx, loginChallengePurpose, nonce); err != nil {
		e.warnf("login challenge cleanup failed: %v", err)
	}
	if err := e.rateLimiter.ResetConfirm(ctx, nonce); err != nil {
		e.warnf("2fa limiter reset failed: %v", err)
	}
	// the login succeeded; clear the password-attempt budget the same way
	// a plain login does, keyed by the ip the challenge was issued to
	if user.Email != nil {
		if err := e.rateLimiter.ResetLogin(ctx, normalizeEmail(*user.Email), challenge.IP); err != nil {
			e.warnf("login limiter reset failed for %s: %v", user.UUID, err)
		}
	}

	sess, err := e.establishSession(ctx, user, meta, challenge.RememberMe)
	if err != nil {
		e.emitAudit(ctx, audit.EventLogin2FA, false, user.UUID, meta, "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, audit.EventLogin2FA, true, user.UUID, meta, "", nil, nil)
	return sess, nil
}

// LoginRetryAfter reports how long the (email, ip) pair remains blocked,
// for the Retry-After hint on 429 responses.
func (e *Engine) LoginRetryAfter(ctx context.Context, email, ip string) (time.Duration, error) {
	retry, err := e.rateLimiter.RetryAfter(ctx, normalizeEmail(email), ip)
	if err != nil {
		return 0, wrapBackend(err)
	}
	return retry, nil
}

// failLogin records a failed attempt against the budget and returns the
// generic credentials error, or ErrRateLimited when this attempt
// exhausted the budget.
func (e *Engine) failLogin(ctx context.Context, email string, meta ClientMeta, userUUID, reason string) error {
	outcome := error(ErrInvalidCredentials)
	if err := e.rateLimiter.IncrementLogin(ctx, email, meta.IP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			outcome = ErrRateLimited
		} else {
			e.warnf("login limiter increment failed for %s: %v", email, err)
		}
	}
	e.emitAudit(ctx, audit.EventLogin, false, userUUID, meta, "", outcome, map[string]string{
		"email":  email,
		"reason": reason,
	})
	return outcome
}

// maybeUpgradeHash rehashes the password when parameters have changed
// since the stored hash was minted. Best effort: never blocks login.
func (e *Engine) maybeUpgradeHash(ctx context.Context, user *User, pass string) {
	needs, err := e.passwordHash.NeedsUpgrade(*user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.passwordHash.Hash(pass)
	if err != nil {
		e.warnf("password hash upgrade generation failed for %s", user.UUID)
		return
	}
	if err := e.users.SetPasswordHash(ctx, user.ID, upgraded); err != nil {
		e.warnf("password hash upgrade update failed for %s", user.UUID)
	}
}
