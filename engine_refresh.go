package goAccounts

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccounts/internal/audit"
)

// Refresh validates a refresh token against the ledger and the device
// session, touches activity metadata, and rotates the token when its
// remaining lifetime has dropped below the configured threshold. A fresh
// access and CSRF token pair is minted on every successful call whether
// or not rotation happened.
//
// The rejection ladder is deliberate: forged or expired signatures are
// "invalid token"; a missing, revoked or wrong-device ledger row is
// "session terminated" so a replayed token after logout reads
// differently to the client than ordinary expiry.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*RefreshResult, error) {
	if meta.DeviceID == "" {
		return nil, ErrDeviceRequired
	}
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	rec, err := e.tokens.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionTerminated
		}
		return nil, wrapBackend(err)
	}
	if rec.Revoked {
		e.emitAudit(ctx, audit.EventRefresh, false, claims.UID, meta, "", ErrSessionTerminated, map[string]string{"reason": "revoked"})
		return nil, ErrSessionTerminated
	}

	user, err := e.users.GetUserByUUID(ctx, claims.UID)
	if err != nil {
		return nil, ErrSessionTerminated
	}
	if rec.UserID != user.ID {
		return nil, ErrSessionTerminated
	}

	ds, err := e.devices.GetDeviceSession(ctx, user.ID, meta.DeviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionTerminated
		}
		return nil, wrapBackend(err)
	}
	if !ds.IsActive || ds.ID != rec.DeviceSessionID {
		e.emitAudit(ctx, audit.EventRefresh, false, user.UUID, meta, "", ErrSessionTerminated, map[string]string{"reason": "device_mismatch"})
		return nil, ErrSessionTerminated
	}

	now := e.now()
	if now.After(rec.ExpiresAt) {
		if _, revErr := e.tokens.RevokeRefreshToken(ctx, rec.JTI, now); revErr != nil {
			e.warnf("expired token revocation failed: %v", revErr)
		}
		return nil, ErrInvalidToken
	}

	e.resolveGeo(ctx, &meta)
	if err := e.devices.TouchDeviceSession(ctx, ds.ID, meta.IP, meta.UserAgent, meta.Geo, now); err != nil {
		e.warnf("device session touch failed: %v", err)
	}
	if err := e.tokens.TouchRefreshToken(ctx, rec.JTI, now); err != nil {
		e.warnf("refresh token touch failed: %v", err)
	}

	result := &RefreshResult{}

	if rec.ExpiresAt.Sub(now) < e.config.JWT.RotationThreshold {
		// Conditional revoke: of two concurrent refreshes only one wins
		// the rotation, the loser reads as a terminated session.
		won, err := e.tokens.RevokeRefreshToken(ctx, rec.JTI, now)
		if err != nil {
			return nil, wrapBackend(err)
		}
		if !won {
			return nil, ErrSessionTerminated
		}

		newToken, jti, expiresAt, err := e.jwtManager.CreateRefresh(user.UUID, rec.RememberMe)
		if err != nil {
			return nil, wrapBackend(err)
		}
		if err := e.tokens.CreateRefreshToken(ctx, &RefreshTokenRecord{
			JTI:             jti,
			UserID:          user.ID,
			DeviceSessionID: rec.DeviceSessionID,
			RememberMe:      rec.RememberMe,
			ExpiresAt:       expiresAt,
			LastUsedAt:      now.UTC(),
			CreatedAt:       now.UTC(),
		}); err != nil {
			return nil, wrapBackend(err)
		}
		if _, err := e.tokens.EnforceTokenCap(ctx, user.ID, e.config.Security.MaxRefreshTokens, now); err != nil {
			return nil, wrapBackend(err)
		}

		result.Rotated = true
		result.RefreshToken = newToken
		result.RefreshExpiresAt = expiresAt
		e.emitAudit(ctx, audit.EventRotate, true, user.UUID, meta, "", nil, nil)
	}

	access, err := e.jwtManager.CreateAccess(user.UUID, string(user.Role))
	if err != nil {
		return nil, wrapBackend(err)
	}
	csrf, err := e.jwtManager.CreateCSRF(user.UUID, string(user.Role))
	if err != nil {
		return nil, wrapBackend(err)
	}
	result.AccessToken = access
	result.CSRFToken = csrf

	e.emitAudit(ctx, audit.EventRefresh, true, user.UUID, meta, "", nil, nil)
	return result, nil
}

// Logout terminates the (user, device) pairing: every ledger row bound
// to the device session is revoked and the session is deactivated. A
// refresh token replayed afterwards reads "session terminated".
func (e *Engine) Logout(ctx context.Context, userUUID string, meta ClientMeta) error {
	if meta.DeviceID == "" {
		return ErrDeviceRequired
	}

	user, err := e.users.GetUserByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return wrapBackend(err)
	}

	ds, err := e.devices.GetDeviceSession(ctx, user.ID, meta.DeviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// nothing to terminate
			return nil
		}
		return wrapBackend(err)
	}

	if _, err := e.tokens.RevokeDeviceTokens(ctx, user.ID, ds.ID, e.now()); err != nil {
		return wrapBackend(err)
	}
	if err := e.devices.DeactivateDeviceSession(ctx, user.ID, meta.DeviceID); err != nil {
		return wrapBackend(err)
	}

	e.emitAudit(ctx, audit.EventLogout, true, user.UUID, meta, "", nil, nil)
	return nil
}

// LogoutAll terminates every session of the user across all devices.
func (e *Engine) LogoutAll(ctx context.Context, userUUID string) error {
	user, err := e.users.GetUserByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return wrapBackend(err)
	}
	return e.logoutAllForUser(ctx, user)
}

func (e *Engine) logoutAllForUser(ctx context.Context, user *User) error {
	if _, err := e.tokens.RevokeUserTokens(ctx, user.ID, e.now()); err != nil {
		return wrapBackend(err)
	}
	if err := e.devices.DeactivateAllDeviceSessions(ctx, user.ID); err != nil {
		return wrapBackend(err)
	}
	e.emitAudit(ctx, audit.EventLogoutAll, true, user.UUID, ClientMeta{}, "", nil, nil)
	return nil
}
