package goAccounts

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/google/uuid"
)

// BootstrapGuest establishes an anonymous session. A caller presenting a
// valid guest token from an earlier visit reuses the same user row;
// otherwise a fresh guest user is provisioned with synthetic login and
// email values that bypass the usual uniqueness rules. Guests never hold
// ledger-backed refresh tokens: the long-lived guest token itself is the
// renewal credential, replayed to this method on the next visit.
func (e *Engine) BootstrapGuest(ctx context.Context, guestToken string, meta ClientMeta) (*GuestResult, error) {
	if !e.config.Guest.Enabled {
		return nil, ErrGuestNotAllowed
	}

	if guestToken != "" {
		if result, ok := e.resumeGuest(ctx, guestToken, meta); ok {
			return result, nil
		}
		// fall through: an expired or stale guest token starts over
	}

	now := e.now().UTC()
	guestUUID := uuid.NewString()
	user := &User{
		UUID:      guestUUID,
		Login:     "guest_" + guestUUID,
		Email:     strptr("guest_" + guestUUID + "@guest.invalid"),
		Role:      RoleGuest,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		return nil, wrapBackend(err)
	}

	result, err := e.issueGuestTokens(user)
	if err != nil {
		return nil, err
	}
	result.Created = true

	e.emitAudit(ctx, audit.EventGuestBootstrap, true, user.UUID, meta, "", nil, nil)
	return result, nil
}

// resumeGuest tries to recognize a returning guest. Any failure reports
// not-ok so the caller provisions a fresh guest instead of erroring.
func (e *Engine) resumeGuest(ctx context.Context, guestToken string, meta ClientMeta) (*GuestResult, bool) {
	claims, err := e.jwtManager.ParseGuest(guestToken)
	if err != nil {
		return nil, false
	}

	user, err := e.users.GetUserByUUID(ctx, claims.UID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.warnf("guest lookup failed: %v", err)
		}
		return nil, false
	}
	if user.Role != RoleGuest {
		// promoted since the token was minted; the caller must log in
		return nil, false
	}

	result, err := e.issueGuestTokens(user)
	if err != nil {
		return nil, false
	}

	e.emitAudit(ctx, audit.EventGuestBootstrap, true, user.UUID, meta, "", nil, nil)
	return result, true
}

func (e *Engine) issueGuestTokens(user *User) (*GuestResult, error) {
	access, err := e.jwtManager.CreateAccess(user.UUID, string(user.Role))
	if err != nil {
		return nil, wrapBackend(err)
	}
	csrf, err := e.jwtManager.CreateCSRF(user.UUID, string(user.Role))
	if err != nil {
		return nil, wrapBackend(err)
	}
	guestTok, err := e.jwtManager.CreateGuest(user.UUID)
	if err != nil {
		return nil, wrapBackend(err)
	}
	return &GuestResult{
		UserUUID:    user.UUID,
		AccessToken: access,
		CSRFToken:   csrf,
		GuestToken:  guestTok,
	}, nil
}

func strptr(s string) *string {
	return &s
}
