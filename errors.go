package goAccounts

import (
	"errors"
	"net/http"
)

// Sentinel errors returned by Engine operations. Callers classify with
// errors.Is; ErrorStatus maps them onto HTTP status codes for transports.
var (
	// ErrInvalidCredentials covers unknown email, password-less accounts
	// and wrong passwords alike, so responses never reveal which it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers malformed, forged and expired tokens as well
	// as codes and nonces that do not match.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrSessionTerminated is returned when a refresh token's ledger row
	// exists but has been revoked, or the device session was deactivated.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrDeviceRequired is returned when a request carries no device id.
	ErrDeviceRequired = errors.New("device id required")

	// ErrTwoFactorRequired signals that password verification succeeded
	// but the account has two-factor enabled; the caller must complete
	// the login with ConfirmLogin2FA.
	ErrTwoFactorRequired = errors.New("two-factor confirmation required")

	// ErrTwoFactorNotEnabled is returned by two-factor operations on
	// accounts that have no active enrollment.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")

	// ErrTwoFactorAlreadyOn is returned by setup operations on accounts
	// that already have an active enrollment.
	ErrTwoFactorAlreadyOn = errors.New("two-factor already enabled")

	// ErrGuestNotAllowed is returned when a guest account invokes an
	// operation reserved for registered users.
	ErrGuestNotAllowed = errors.New("operation not available to guests")

	// ErrUserNotFound is returned by lookups that legitimately reveal
	// absence, such as restore of an unknown account.
	ErrUserNotFound = errors.New("user not found")

	// ErrConflict is returned when a uniqueness rule would be violated:
	// duplicate email or login, or a provider identity already bound to
	// another account.
	ErrConflict = errors.New("conflict")

	// ErrProviderLinked is returned when linking a provider the account
	// already has an active link for, with a different provider identity.
	ErrProviderLinked = errors.New("provider already linked")

	// ErrLastLoginMethod is returned when disabling an identity link
	// would leave the account with no way to sign in.
	ErrLastLoginMethod = errors.New("cannot remove last login method")

	// ErrRateLimited is returned before credentials are examined when an
	// attempt window is exhausted.
	ErrRateLimited = errors.New("too many attempts")

	// ErrCaptchaRequired is returned in hardened mode when no captcha
	// token accompanies an account-creating operation.
	ErrCaptchaRequired = errors.New("captcha required")

	// ErrCaptchaFailed is returned when the captcha verifier rejects the
	// supplied token.
	ErrCaptchaFailed = errors.New("captcha verification failed")

	// ErrValidation is returned for malformed input: bad email shape,
	// short password, unknown provider, non-numeric code.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedProvider is returned for provider names outside the
	// configured set.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrAccountDeleted is returned when an operation targets a
	// soft-deleted account outside the restore flow.
	ErrAccountDeleted = errors.New("account deleted")

	// ErrBackend wraps storage, Redis and provider transport failures.
	ErrBackend = errors.New("backend failure")

	// ErrNotFound and ErrDuplicate are the store error contract: every
	// Storage implementation reports misses and uniqueness violations
	// with errors matching these via errors.Is. The engine translates
	// them before they reach a transport.
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// ErrorStatus maps an Engine error onto an HTTP status code. Unrecognized
// errors map to 500 so transports fail closed.
func ErrorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnsupportedProvider),
		errors.Is(err, ErrCaptchaRequired),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorAlreadyOn),
		errors.Is(err, ErrLastLoginMethod):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrDeviceRequired),
		errors.Is(err, ErrSessionTerminated),
		errors.Is(err, ErrTwoFactorRequired),
		errors.Is(err, ErrCaptchaFailed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrGuestNotAllowed),
		errors.Is(err, ErrAccountDeleted):
		return http.StatusForbidden
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrProviderLinked):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorStatusText pairs ErrorStatus with a message safe to return to the
// client: the matched sentinel's text, or a generic message for 500s so
// backend detail never leaks.
func ErrorStatusText(err error) (int, string) {
	status := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		return status, "internal error"
	}
	for _, sentinel := range []error{
		ErrInvalidCredentials, ErrInvalidToken, ErrSessionTerminated,
		ErrDeviceRequired, ErrTwoFactorRequired, ErrTwoFactorNotEnabled,
		ErrTwoFactorAlreadyOn, ErrGuestNotAllowed, ErrUserNotFound,
		ErrConflict, ErrProviderLinked, ErrLastLoginMethod, ErrRateLimited,
		ErrCaptchaRequired, ErrCaptchaFailed, ErrValidation,
		ErrUnsupportedProvider, ErrAccountDeleted,
	} {
		if errors.Is(err, sentinel) {
			return status, sentinel.Error()
		}
	}
	return status, err.Error()
}
