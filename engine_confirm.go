package goAccounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAccounts/internal"
	"github.com/MrEthical07/goAccounts/internal/rate"
	"github.com/MrEthical07/goAccounts/internal/transient"
)

const confirmCodeDigits = 6

// requestConfirmation generates a 6-digit code, stores its hash under
// (purpose, subject) and mails it. Mail failure is reported through the
// Warn hook but never fails the request, so a caller cannot probe for
// delivery outcomes.
func (e *Engine) requestConfirmation(ctx context.Context, purpose ConfirmPurpose, subject, email string) error {
	code, err := internal.NewOTP(confirmCodeDigits)
	if err != nil {
		return wrapBackend(err)
	}

	if err := e.transient.SaveCode(ctx, string(purpose), subject, code, e.config.Confirm.CodeTTL); err != nil {
		return wrapBackend(err)
	}

	if e.mailer == nil {
		e.warnf("no mailer configured, %s code for %s not dispatched", purpose, subject)
		return nil
	}
	if err := e.mailer.SendCode(ctx, email, purpose, code); err != nil {
		e.warnf("%s code dispatch to %s failed: %v", purpose, email, err)
	}
	return nil
}

// verifyConfirmation consumes a submitted code. Expired, missing and
// mismatched codes all surface as ErrInvalidToken so the response never
// reveals which check failed. Success is single use.
func (e *Engine) verifyConfirmation(ctx context.Context, purpose ConfirmPurpose, subject, code string) error {
	if len(code) != confirmCodeDigits || !isNumericString(code) {
		return fmt.Errorf("%w: malformed confirmation code", ErrValidation)
	}

	limiterKey := string(purpose) + ":" + subject
	if err := e.rateLimiter.CheckConfirm(ctx, limiterKey); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return ErrRateLimited
		}
		return wrapBackend(err)
	}

	err := e.transient.ConsumeCode(ctx, string(purpose), subject, code, e.config.Confirm.MaxAttempts)
	switch {
	case err == nil:
		if resetErr := e.rateLimiter.ResetConfirm(ctx, limiterKey); resetErr != nil {
			e.warnf("confirm limiter reset failed for %s: %v", limiterKey, resetErr)
		}
		return nil
	case errors.Is(err, transient.ErrCodeMismatch):
		if incErr := e.rateLimiter.IncrementConfirm(ctx, limiterKey); incErr != nil && !errors.Is(incErr, rate.ErrRateLimited) {
			e.warnf("confirm limiter increment failed for %s: %v", limiterKey, incErr)
		}
		return ErrInvalidToken
	case errors.Is(err, transient.ErrAttemptsExceeded):
		return ErrRateLimited
	case errors.Is(err, transient.ErrNotFound):
		return ErrInvalidToken
	default:
		return wrapBackend(err)
	}
}
