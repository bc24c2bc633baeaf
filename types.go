package goAccounts

import (
	"context"
	"time"
)

// Role is the authorization tier stored on a user row.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Provider names an external identity provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderGitHub   Provider = "github"
	ProviderYandex   Provider = "yandex"
	ProviderTelegram Provider = "telegram"
)

// KnownProvider reports whether p is part of the provider enum.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderGoogle, ProviderGitHub, ProviderYandex, ProviderTelegram:
		return true
	}
	return false
}

// ConfirmPurpose namespaces confirmation codes and staged payloads so a
// code requested for one flow can never satisfy another.
type ConfirmPurpose string

const (
	PurposeRegister         ConfirmPurpose = "register"
	PurposeSetupTwoFactor   ConfirmPurpose = "setupTotp"
	PurposeDisableTwoFactor ConfirmPurpose = "disableTotp"
	PurposeLinkProvider     ConfirmPurpose = "linkProvider"
	PurposeDisableProvider  ConfirmPurpose = "disableProvider"
	PurposeDeleteAccount    ConfirmPurpose = "deleteAccount"
	PurposeRestoreAccount   ConfirmPurpose = "restoreAccount"
)

// User is one identity record. Email and PasswordHash are nil for
// pure-OAuth accounts; guests carry synthetic login/email values.
type User struct {
	ID           int64
	UUID         string
	Login        string
	Email        *string
	PasswordHash *string
	Role         Role
	AvatarURL    *string

	TwoFactorEnabled    bool
	TwoFactorSecretEnc  *string
	TwoFactorPendingEnc *string

	IsDeleted bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityLink binds one external provider identity to one user.
type IdentityLink struct {
	ID         int64
	UserID     int64
	Provider   Provider
	ProviderID string
	Email      string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DeviceSession is the pairing of one user and one client device.
type DeviceSession struct {
	ID          int64
	UserID      int64
	DeviceID    string
	IP          string
	UserAgent   string
	Geo         string
	IsActive    bool
	LastLoginAt time.Time
	LastUsedAt  time.Time
	CreatedAt   time.Time
}

// RefreshTokenRecord is one row in the refresh token ledger. The signed
// refresh token carries the JTI; the row is the source of validity.
type RefreshTokenRecord struct {
	ID              int64
	JTI             string
	UserID          int64
	DeviceSessionID int64
	RememberMe      bool
	ExpiresAt       time.Time
	Revoked         bool
	RevokedAt       *time.Time
	LastUsedAt      time.Time
	CreatedAt       time.Time
}

// ClientMeta carries per-request client attributes. DeviceID is mandatory
// on every auth-sensitive operation; Geo is filled by the engine when a
// GeoResolver is configured.
type ClientMeta struct {
	DeviceID  string
	IP        string
	UserAgent string
	Geo       string
}

// Session is an established credential set for one (user, device) pair.
type Session struct {
	UserUUID         string
	Role             Role
	AccessToken      string
	CSRFToken        string
	RefreshToken     string
	RefreshExpiresAt time.Time
	RememberMe       bool
}

// LoginResult is the outcome of a password login. When the account has
// two-factor enabled, Session is nil and TwoFactorNonce must be replayed
// to ConfirmLogin2FA together with a TOTP code.
type LoginResult struct {
	TwoFactorRequired bool
	TwoFactorNonce    string
	Session           *Session
}

// RefreshResult is the outcome of a refresh call. RefreshToken is empty
// unless the ledger record was rotated.
type RefreshResult struct {
	AccessToken      string
	CSRFToken        string
	Rotated          bool
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// GuestResult is the outcome of a guest bootstrap. GuestToken identifies
// the guest across visits; Created is false for a returning guest.
type GuestResult struct {
	UserUUID    string
	AccessToken string
	CSRFToken   string
	GuestToken  string
	Created     bool
}

// LinkResult is the outcome of a provider link request. When the account
// email differs from the provider email the link is staged instead of
// written and ConfirmationRequired is true.
type LinkResult struct {
	Linked               bool
	ConfirmationRequired bool
	Provider             Provider
}

// TwoFactorSetup is returned once a setup confirmation code is verified.
type TwoFactorSetup struct {
	Secret        string
	EnrollmentURI string
}

// UserStore persists user rows. Lookups by email and login match
// case-insensitively among non-deleted rows only.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUUID(ctx context.Context, uuid string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByLogin(ctx context.Context, login string) (*User, error)
	// GetDeletedUserByEmail resolves a soft-deleted row for the restore
	// flow; active rows are not returned.
	GetDeletedUserByEmail(ctx context.Context, email string) (*User, error)

	SetPasswordHash(ctx context.Context, userID int64, hash string) error
	SetAvatarURL(ctx context.Context, userID int64, url string) error
	SetTwoFactorPending(ctx context.Context, userID int64, encSecret string) error
	// ActivateTwoFactor promotes the pending secret to the live secret
	// and clears the pending field in one statement.
	ActivateTwoFactor(ctx context.Context, userID int64) error
	DisableTwoFactor(ctx context.Context, userID int64) error

	RestoreUser(ctx context.Context, userID int64) error
	// PurgeAgedGuests hard-deletes guest rows created before the cutoff.
	// Called by an out-of-band retention job, never on the request path.
	PurgeAgedGuests(ctx context.Context, before time.Time) (int64, error)
}

// IdentityStore persists identity links. The multi-row mutations run as
// single transactions against the same database as UserStore.
type IdentityStore interface {
	GetLink(ctx context.Context, provider Provider, providerID string) (*IdentityLink, error)
	GetUserLink(ctx context.Context, userID int64, provider Provider) (*IdentityLink, error)
	ListLinks(ctx context.Context, userID int64) ([]IdentityLink, error)
	UpsertLink(ctx context.Context, link *IdentityLink) error
	DisableLink(ctx context.Context, userID int64, provider Provider) error

	// CreateUserWithIdentity inserts the user and its first link in one
	// transaction.
	CreateUserWithIdentity(ctx context.Context, u *User, link *IdentityLink) error
	// ConvertGuestWithIdentity promotes a guest row (login, email, role)
	// and inserts the link in one transaction; on any failure the guest
	// row is left untouched.
	ConvertGuestWithIdentity(ctx context.Context, guestID int64, login, email string, link *IdentityLink) error

	// SoftDeleteAccount flags the user deleted, disables every link,
	// deactivates every device session and revokes every ledger row in
	// one transaction.
	SoftDeleteAccount(ctx context.Context, userID int64) error
}

// DeviceSessionStore persists (user, device) pairings.
type DeviceSessionStore interface {
	// UpsertDeviceSession creates the row for (UserID, DeviceID) or
	// refreshes its metadata, lastLoginAt and active flag.
	UpsertDeviceSession(ctx context.Context, s *DeviceSession) (*DeviceSession, error)
	GetDeviceSession(ctx context.Context, userID int64, deviceID string) (*DeviceSession, error)
	ListDeviceSessions(ctx context.Context, userID int64) ([]DeviceSession, error)
	// TouchDeviceSession updates activity metadata and lastUsedAt.
	TouchDeviceSession(ctx context.Context, id int64, ip, userAgent, geo string, at time.Time) error
	DeactivateDeviceSession(ctx context.Context, userID int64, deviceID string) error
	DeactivateAllDeviceSessions(ctx context.Context, userID int64) error
}

// RefreshTokenStore persists the refresh token ledger. Revocation is
// monotonic: no method ever clears a revoked flag.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, rec *RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, jti string) (*RefreshTokenRecord, error)
	// RevokeRefreshToken flips revoked via a conditional update and
	// reports whether this call made the transition. A false return with
	// nil error means another caller revoked the row first.
	RevokeRefreshToken(ctx context.Context, jti string, at time.Time) (bool, error)
	TouchRefreshToken(ctx context.Context, jti string, at time.Time) error
	RevokeUserTokens(ctx context.Context, userID int64, at time.Time) (int64, error)
	RevokeDeviceTokens(ctx context.Context, userID int64, deviceSessionID int64, at time.Time) (int64, error)
	// EnforceTokenCap revokes the oldest non-revoked rows beyond max,
	// ordered by creation time.
	EnforceTokenCap(ctx context.Context, userID int64, max int, at time.Time) (int64, error)
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// Storage bundles the four store interfaces. The sqlite package provides
// one implementation backed by a single database.
type Storage interface {
	UserStore
	IdentityStore
	DeviceSessionStore
	RefreshTokenStore
}

// ProviderProfile is the normalized shape of an external identity.
type ProviderProfile struct {
	ProviderID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	PictureURL    string
}

// ProviderClient exchanges an authorization code for a provider profile.
// Implementations must enforce a request timeout and reject non-bearer
// token types. A default implementation is provided by NewProviderHTTP.
type ProviderClient interface {
	Exchange(ctx context.Context, provider Provider, authCode string) (*ProviderProfile, error)
}

// Mailer dispatches confirmation codes. A failure is reported to the
// Warn hook but does not fail the requesting operation.
type Mailer interface {
	SendCode(ctx context.Context, email string, purpose ConfirmPurpose, code string) error
}

// CaptchaVerifier validates a captcha token in hardened mode.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// GeoResolver maps an IP to a location string. Best effort: errors and
// empty results degrade to "".
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (string, error)
}

// AvatarStore rehosts a remote avatar image and returns its new URL.
// Called asynchronously; failures are swallowed.
type AvatarStore interface {
	Store(ctx context.Context, userUUID, sourceURL string) (string, error)
}
