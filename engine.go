package goAccounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/internal/rate"
	"github.com/MrEthical07/goAccounts/internal/transient"
	"github.com/MrEthical07/goAccounts/jwt"
	"github.com/MrEthical07/goAccounts/password"
)

// Engine is the session orchestrator. It is the only component that
// touches more than one store per operation; everything below it is a
// single-concern collaborator. Configure via Builder, then treat as
// immutable.
type Engine struct {
	config Config

	users      UserStore
	identities IdentityStore
	devices    DeviceSessionStore
	tokens     RefreshTokenStore

	transient    *transient.Store
	rateLimiter  *rate.Limiter
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	totp         *totpManager
	secrets      *secretBox

	providers ProviderClient
	mailer    Mailer
	captcha   CaptchaVerifier
	geo       GeoResolver
	avatars   AvatarStore

	audit *audit.Dispatcher
	warn  func(format string, args ...any)
	now   func() time.Time
}

// Close stops background workers. Safe on a nil receiver.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// ValidateAccess verifies an access token and returns its subject. No
// store is consulted: validity ends with the token's own expiry.
func (e *Engine) ValidateAccess(tokenStr string) (userUUID string, role Role, err error) {
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	return claims.UID, Role(claims.Role), nil
}

// ValidateCSRF verifies a CSRF token and checks it belongs to the given
// user, for double-submit checks on state-changing calls.
func (e *Engine) ValidateCSRF(tokenStr, userUUID string) error {
	claims, err := e.jwtManager.ParseCSRF(tokenStr)
	if err != nil {
		return ErrInvalidToken
	}
	if claims.UID != userUUID {
		return ErrInvalidToken
	}
	return nil
}

// ListDeviceSessions returns every device pairing of the user, active
// and inactive, newest login first per store ordering.
func (e *Engine) ListDeviceSessions(ctx context.Context, userUUID string) ([]DeviceSession, error) {
	user, err := e.users.GetUserByUUID(ctx, userUUID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return e.devices.ListDeviceSessions(ctx, user.ID)
}

// ListProviderLinks returns the user's identity links, including
// disabled rows.
func (e *Engine) ListProviderLinks(ctx context.Context, userUUID string) ([]IdentityLink, error) {
	user, err := e.users.GetUserByUUID(ctx, userUUID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return e.identities.ListLinks(ctx, user.ID)
}

// PurgeAgedGuests hard-deletes guest rows older than the configured
// retention. Intended for an out-of-band retention job.
func (e *Engine) PurgeAgedGuests(ctx context.Context) (int64, error) {
	return e.users.PurgeAgedGuests(ctx, e.now().Add(-e.config.Guest.Retention))
}

// PurgeExpiredTokens removes ledger rows whose expiry has passed.
// Intended for the same out-of-band job as PurgeAgedGuests.
func (e *Engine) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return e.tokens.PurgeExpiredTokens(ctx, e.now())
}

/*
====================================
SHARED SESSION TAIL
====================================
*/

// establishSession is the shared tail of every login path: resolve the
// device session, record a ledger row, enforce the per-user cap and mint
// the token triple. The caller has already authenticated the user.
func (e *Engine) establishSession(ctx context.Context, user *User, meta ClientMeta, rememberMe bool) (*Session, error) {
	if meta.DeviceID == "" {
		return nil, ErrDeviceRequired
	}

	e.resolveGeo(ctx, &meta)

	ds, err := e.devices.UpsertDeviceSession(ctx, &DeviceSession{
		UserID:    user.ID,
		DeviceID:  meta.DeviceID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Geo:       meta.Geo,
	})
	if err != nil {
		return nil, wrapBackend(err)
	}

	refreshToken, jti, expiresAt, err := e.jwtManager.CreateRefresh(user.UUID, rememberMe)
	if err != nil {
		return nil, wrapBackend(err)
	}
	now := e.now().UTC()
	if err := e.tokens.CreateRefreshToken(ctx, &RefreshTokenRecord{
		JTI:             jti,
		UserID:          user.ID,
		DeviceSessionID: ds.ID,
		RememberMe:      rememberMe,
		ExpiresAt:       expiresAt,
		LastUsedAt:      now,
		CreatedAt:       now,
	}); err != nil {
		return nil, wrapBackend(err)
	}
	if _, err := e.tokens.EnforceTokenCap(ctx, user.ID, e.config.Security.MaxRefreshTokens, now); err != nil {
		return nil, wrapBackend(err)
	}

	access, err := e.jwtManager.CreateAccess(user.UUID, string(user.Role))
	if err != nil {
		return nil, wrapBackend(err)
	}
	csrf, err := e.jwtManager.CreateCSRF(user.UUID, string(user.Role))
	if err != nil {
		return nil, wrapBackend(err)
	}

	return &Session{
		UserUUID:         user.UUID,
		Role:             user.Role,
		AccessToken:      access,
		CSRFToken:        csrf,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: expiresAt,
		RememberMe:       rememberMe,
	}, nil
}

// resolveGeo fills meta.Geo from the resolver. Best effort: failures and
// empty results leave it blank.
func (e *Engine) resolveGeo(ctx context.Context, meta *ClientMeta) {
	if e.geo == nil || meta.Geo != "" || meta.IP == "" {
		return
	}
	geo, err := e.geo.Resolve(ctx, meta.IP)
	if err != nil {
		e.warnf("geo lookup failed for %s: %v", meta.IP, err)
		return
	}
	meta.Geo = geo
}

func (e *Engine) warnf(format string, args ...any) {
	if e == nil || e.warn == nil {
		return
	}
	e.warn(format, args...)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userUUID string, meta ClientMeta, provider Provider, opErr error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	event := audit.Event{
		Timestamp: e.now(),
		EventType: eventType,
		UserUUID:  userUUID,
		DeviceID:  meta.DeviceID,
		Provider:  string(provider),
		IP:        meta.IP,
		Success:   success,
		Metadata:  metadata,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	e.audit.Emit(ctx, event)
}

func wrapBackend(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
