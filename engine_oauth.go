package goAccounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goAccounts/internal"
	"github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/internal/transient"
	"github.com/google/uuid"
)

// OAuthLogin authenticates via an external provider's authorization
// code. Identity resolution order: an existing link wins; otherwise a
// live guest presented through guestToken is promoted in one transaction
// with the link insert; otherwise a fresh account is created. Account
// creation is gated by the captcha verifier in hardened mode.
func (e *Engine) OAuthLogin(ctx context.Context, provider Provider, authCode, captchaToken, guestToken string, rememberMe bool, meta ClientMeta) (*Session, error) {
	if authCode == "" {
		return nil, fmt.Errorf("%w: authorization code required", ErrValidation)
	}
	if meta.DeviceID == "" {
		return nil, ErrDeviceRequired
	}

	profile, err := e.fetchProviderProfile(ctx, provider, authCode)
	if err != nil {
		return nil, err
	}

	user, err := e.resolveOAuthUser(ctx, provider, profile, captchaToken, guestToken, meta)
	if err != nil {
		e.emitAudit(ctx, audit.EventProviderLogin, false, "", meta, provider, err, nil)
		return nil, err
	}
	if user.Role == RoleGuest {
		// conversion did not take; never issue a full session to a guest row
		return nil, ErrGuestNotAllowed
	}

	e.fetchAvatarAsync(user, profile.PictureURL)

	sess, err := e.establishSession(ctx, user, meta, rememberMe)
	if err != nil {
		e.emitAudit(ctx, audit.EventProviderLogin, false, user.UUID, meta, provider, err, nil)
		return nil, err
	}

	e.emitAudit(ctx, audit.EventProviderLogin, true, user.UUID, meta, provider, nil, nil)
	return sess, nil
}

// LinkProvider connects an external identity to the authenticated user.
// When the account email differs from the provider email, the link is
// staged and a confirmation code is sent to the provider address;
// ConfirmLinkProvider completes it.
func (e *Engine) LinkProvider(ctx context.Context, userUUID string, provider Provider, authCode string) (*LinkResult, error) {
	if authCode == "" {
		return nil, fmt.Errorf("%w: authorization code required", ErrValidation)
	}

	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	if user.Role == RoleGuest {
		return nil, ErrGuestNotAllowed
	}

	profile, err := e.fetchProviderProfile(ctx, provider, authCode)
	if err != nil {
		return nil, err
	}

	existing, err := e.identities.GetLink(ctx, provider, profile.ProviderID)
	switch {
	case err == nil && existing.UserID != user.ID:
		return nil, fmt.Errorf("%w: identity already bound to another account", ErrConflict)
	case err == nil:
		// same identity, idempotent; re-enable if it was disabled and
		// keep the email snapshot current
		if !existing.Enabled || existing.Email != profile.Email {
			existing.Enabled = true
			existing.Email = profile.Email
			if err := e.identities.UpsertLink(ctx, existing); err != nil {
				return nil, wrapBackend(err)
			}
		}
		return &LinkResult{Linked: true, Provider: provider}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, wrapBackend(err)
	}

	mine, err := e.identities.GetUserLink(ctx, user.ID, provider)
	if err == nil && mine.Enabled && mine.ProviderID != profile.ProviderID {
		return nil, fmt.Errorf("%w: a different %s identity is linked", ErrProviderLinked, provider)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, wrapBackend(err)
	}

	if user.Email != nil && normalizeEmail(*user.Email) == profile.Email {
		if err := e.writeLink(ctx, user.ID, provider, profile); err != nil {
			return nil, err
		}
		e.emitAudit(ctx, audit.EventProviderLink, true, user.UUID, ClientMeta{}, provider, nil, nil)
		return &LinkResult{Linked: true, Provider: provider}, nil
	}

	payload, err := transient.EncodePendingLink(&transient.PendingLink{
		Provider:   string(provider),
		ProviderID: profile.ProviderID,
		Email:      profile.Email,
	})
	if err != nil {
		return nil, wrapBackend(err)
	}
	if err := e.transient.SaveStaged(ctx, string(PurposeLinkProvider), user.UUID, payload, e.config.Confirm.StagingTTL); err != nil {
		return nil, wrapBackend(err)
	}
	if err := e.requestConfirmation(ctx, PurposeLinkProvider, user.UUID, profile.Email); err != nil {
		return nil, err
	}

	return &LinkResult{ConfirmationRequired: true, Provider: provider}, nil
}

// ConfirmLinkProvider completes a staged link once the code mailed to
// the provider address is verified.
func (e *Engine) ConfirmLinkProvider(ctx context.Context, userUUID, code string) (*LinkResult, error) {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	if err := e.verifyConfirmation(ctx, PurposeLinkProvider, user.UUID, code); err != nil {
		return nil, err
	}

	payload, err := e.transient.TakeStaged(ctx, string(PurposeLinkProvider), user.UUID)
	if err != nil {
		if errors.Is(err, transient.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, wrapBackend(err)
	}
	pending, err := transient.DecodePendingLink(payload)
	if err != nil {
		return nil, ErrInvalidToken
	}

	provider := Provider(pending.Provider)
	// the identity may have been claimed while the code was in flight
	existing, err := e.identities.GetLink(ctx, provider, pending.ProviderID)
	if err == nil && existing.UserID != user.ID {
		return nil, fmt.Errorf("%w: identity already bound to another account", ErrConflict)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, wrapBackend(err)
	}

	if err := e.writeLink(ctx, user.ID, provider, &ProviderProfile{
		ProviderID: pending.ProviderID,
		Email:      pending.Email,
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, audit.EventProviderLink, true, user.UUID, ClientMeta{}, provider, nil, nil)
	return &LinkResult{Linked: true, Provider: provider}, nil
}

// RequestDisableProvider mails a confirmation code gating the unlink of
// one provider. Refused when the link is the account's only way in.
func (e *Engine) RequestDisableProvider(ctx context.Context, userUUID string, provider Provider) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}

	link, err := e.identities.GetUserLink(ctx, user.ID, provider)
	if err != nil || !link.Enabled {
		if err != nil && !errors.Is(err, ErrNotFound) {
			return wrapBackend(err)
		}
		return fmt.Errorf("%w: provider not linked", ErrValidation)
	}

	if err := e.ensureNotLastMethod(ctx, user, provider); err != nil {
		return err
	}
	if user.Email == nil {
		return fmt.Errorf("%w: account has no email for confirmation", ErrValidation)
	}

	return e.requestConfirmation(ctx, PurposeDisableProvider, disableSubject(user.UUID, provider), *user.Email)
}

// ConfirmDisableProvider verifies the code and flips the link off. The
// row persists for history.
func (e *Engine) ConfirmDisableProvider(ctx context.Context, userUUID string, provider Provider, code string) error {
	user, err := e.activeUser(ctx, userUUID)
	if err != nil {
		return err
	}

	if err := e.verifyConfirmation(ctx, PurposeDisableProvider, disableSubject(user.UUID, provider), code); err != nil {
		return err
	}
	if err := e.ensureNotLastMethod(ctx, user, provider); err != nil {
		return err
	}

	if err := e.identities.DisableLink(ctx, user.ID, provider); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: provider not linked", ErrValidation)
		}
		return wrapBackend(err)
	}

	e.emitAudit(ctx, audit.EventProviderUnlink, true, user.UUID, ClientMeta{}, provider, nil, nil)
	return nil
}

/*
====================================
RESOLUTION HELPERS
====================================
*/

func (e *Engine) fetchProviderProfile(ctx context.Context, provider Provider, authCode string) (*ProviderProfile, error) {
	if !KnownProvider(provider) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	profile, err := e.providers.Exchange(ctx, provider, authCode)
	if err != nil {
		return nil, err
	}
	if profile.Email == "" || !profile.EmailVerified {
		return nil, fmt.Errorf("%w: provider returned no verified email", ErrValidation)
	}
	profile.Email = normalizeEmail(profile.Email)
	return profile, nil
}

func (e *Engine) resolveOAuthUser(ctx context.Context, provider Provider, profile *ProviderProfile, captchaToken, guestToken string, meta ClientMeta) (*User, error) {
	link, err := e.identities.GetLink(ctx, provider, profile.ProviderID)
	if err == nil {
		user, err := e.users.GetUserByID(ctx, link.UserID)
		if err != nil {
			return nil, wrapBackend(err)
		}
		if user.IsDeleted {
			return nil, ErrAccountDeleted
		}
		if !link.Enabled || link.Email != profile.Email {
			// a successful exchange proves control; re-enable on login
			// and keep the email snapshot current
			link.Enabled = true
			link.Email = profile.Email
			if err := e.identities.UpsertLink(ctx, link); err != nil {
				return nil, wrapBackend(err)
			}
		}
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, wrapBackend(err)
	}

	// account-creating path from here on
	if err := e.verifyCaptcha(ctx, captchaToken, meta.IP); err != nil {
		return nil, err
	}

	if guestToken != "" {
		if user, ok, err := e.convertGuest(ctx, provider, profile, guestToken, meta); err != nil {
			return nil, err
		} else if ok {
			return user, nil
		}
	}

	return e.createOAuthUser(ctx, provider, profile, meta)
}

// convertGuest promotes the guest referenced by guestToken, inserting
// the identity link in the same transaction. Not-ok means there was no
// live guest to convert; the caller falls through to account creation.
func (e *Engine) convertGuest(ctx context.Context, provider Provider, profile *ProviderProfile, guestToken string, meta ClientMeta) (*User, bool, error) {
	claims, err := e.jwtManager.ParseGuest(guestToken)
	if err != nil {
		return nil, false, nil
	}
	guest, err := e.users.GetUserByUUID(ctx, claims.UID)
	if err != nil || guest.Role != RoleGuest {
		return nil, false, nil
	}

	login, err := e.generateLogin(ctx, profile)
	if err != nil {
		return nil, false, err
	}

	err = e.identities.ConvertGuestWithIdentity(ctx, guest.ID, login, profile.Email, &IdentityLink{
		Provider:   provider,
		ProviderID: profile.ProviderID,
		Email:      profile.Email,
		Enabled:    true,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// converted concurrently; fall through
			return nil, false, nil
		}
		if errors.Is(err, ErrDuplicate) {
			return nil, false, fmt.Errorf("%w: email or login already in use", ErrConflict)
		}
		return nil, false, wrapBackend(err)
	}

	user, err := e.users.GetUserByID(ctx, guest.ID)
	if err != nil {
		return nil, false, wrapBackend(err)
	}

	e.emitAudit(ctx, audit.EventGuestConvert, true, user.UUID, meta, provider, nil, nil)
	return user, true, nil
}

func (e *Engine) createOAuthUser(ctx context.Context, provider Provider, profile *ProviderProfile, meta ClientMeta) (*User, error) {
	login, err := e.generateLogin(ctx, profile)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	user := &User{
		UUID:      uuid.NewString(),
		Login:     login,
		Email:     strptr(profile.Email),
		Role:      RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = e.identities.CreateUserWithIdentity(ctx, user, &IdentityLink{
		Provider:   provider,
		ProviderID: profile.ProviderID,
		Email:      profile.Email,
		Enabled:    true,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, fmt.Errorf("%w: email or login already in use", ErrConflict)
		}
		return nil, wrapBackend(err)
	}
	return user, nil
}

// generateLogin derives a login from the provider display name or email
// local part, resolving collisions with a numeric suffix.
func (e *Engine) generateLogin(ctx context.Context, profile *ProviderProfile) (string, error) {
	base := sanitizeLogin(profile.DisplayName)
	if base == "" {
		local, _, _ := strings.Cut(profile.Email, "@")
		base = sanitizeLogin(local)
	}
	if base == "" {
		base = "user"
	}

	for i := 0; i < 50; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		_, err := e.users.GetUserByLogin(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", wrapBackend(err)
		}
	}

	// pathological collision density; fall back to a random suffix
	nonce, err := internal.NewNonce()
	if err != nil {
		return "", wrapBackend(err)
	}
	return base + "_" + strings.ToLower(nonce[:8]), nil
}

func sanitizeLogin(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}

func (e *Engine) verifyCaptcha(ctx context.Context, token, ip string) error {
	if !e.config.OAuth.RequireCaptcha {
		return nil
	}
	if e.captcha == nil {
		e.warnf("captcha required but no verifier configured")
		return ErrCaptchaRequired
	}
	if token == "" {
		return ErrCaptchaRequired
	}
	ok, err := e.captcha.Verify(ctx, token, ip)
	if err != nil {
		return wrapBackend(err)
	}
	if !ok {
		return ErrCaptchaFailed
	}
	return nil
}

func (e *Engine) writeLink(ctx context.Context, userID int64, provider Provider, profile *ProviderProfile) error {
	err := e.identities.UpsertLink(ctx, &IdentityLink{
		UserID:     userID,
		Provider:   provider,
		ProviderID: profile.ProviderID,
		Email:      profile.Email,
		Enabled:    true,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("%w: identity already bound to another account", ErrConflict)
		}
		return wrapBackend(err)
	}
	return nil
}

// ensureNotLastMethod refuses to disable the only remaining way to sign
// in: the user needs a password or at least one other enabled link.
func (e *Engine) ensureNotLastMethod(ctx context.Context, user *User, provider Provider) error {
	if user.PasswordHash != nil {
		return nil
	}
	links, err := e.identities.ListLinks(ctx, user.ID)
	if err != nil {
		return wrapBackend(err)
	}
	for _, l := range links {
		if l.Enabled && l.Provider != provider {
			return nil
		}
	}
	return ErrLastLoginMethod
}

// fetchAvatarAsync rehosts the provider picture when the user has no
// avatar yet. Fire-and-forget; failures are only warned about.
func (e *Engine) fetchAvatarAsync(user *User, pictureURL string) {
	if e.avatars == nil || pictureURL == "" || user.AvatarURL != nil {
		return
	}
	userUUID, userID := user.UUID, user.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		hosted, err := e.avatars.Store(ctx, userUUID, pictureURL)
		if err != nil || hosted == "" {
			e.warnf("avatar fetch failed for %s: %v", userUUID, err)
			return
		}
		if err := e.users.SetAvatarURL(ctx, userID, hosted); err != nil {
			e.warnf("avatar update failed for %s: %v", userUUID, err)
		}
	}()
}

func (e *Engine) activeUser(ctx context.Context, userUUID string) (*User, error) {
	if userUUID == "" {
		return nil, fmt.Errorf("%w: user uuid required", ErrValidation)
	}
	user, err := e.users.GetUserByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapBackend(err)
	}
	return user, nil
}

func disableSubject(userUUID string, provider Provider) string {
	return userUUID + ":" + string(provider)
}
