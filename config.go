package goAccounts

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Config carries every tunable of the engine, grouped by concern. Zero
// values are filled by ApplyDefaults; Validate rejects configurations the
// engine cannot run safely with.
type Config struct {
	JWT      JWTConfig
	Cookies  CookieConfig
	Password PasswordConfig
	TOTP     TOTPConfig
	OAuth    OAuthConfig
	Confirm  ConfirmConfig
	Guest    GuestConfig
	Security SecurityConfig
	Audit    AuditConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token issuer. Refresh lifetime has two
// classes selected by the rememberMe flag at login.
type JWTConfig struct {
	Secret            []byte
	Issuer            string
	AccessTTL         time.Duration
	CSRFTTL           time.Duration
	RefreshTTL        time.Duration // rememberMe=false
	RefreshTTLLong    time.Duration // rememberMe=true
	GuestTTL          time.Duration
	RotationThreshold time.Duration // rotate when remaining lifetime drops below
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig shapes the refresh and guest cookies built by the engine.
type CookieConfig struct {
	RefreshName string
	GuestName   string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures two-factor enrollment and verification.
// SecretKey encrypts TOTP secrets at rest and must be 32 bytes.
type TOTPConfig struct {
	Issuer       string
	Digits       int
	Period       int
	Skew         int
	SecretKey    []byte
	ChallengeTTL time.Duration // staged login nonce lifetime
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthProviderConfig holds one provider's application credentials.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// OAuthConfig configures the external identity provider protocol.
type OAuthConfig struct {
	Providers      map[Provider]OAuthProviderConfig
	RequestTimeout time.Duration
	// RequireCaptcha gates account-creating OAuth logins behind the
	// captcha verifier (hardened mode).
	RequireCaptcha bool
}

/*
====================================
CONFIRMATION CONFIG
====================================
*/

// ConfirmConfig configures the shared confirmation-code primitive.
type ConfirmConfig struct {
	CodeTTL     time.Duration
	StagingTTL  time.Duration
	MaxAttempts int
	RedisPrefix string
}

/*
====================================
GUEST CONFIG
====================================
*/

// GuestConfig configures guest bootstrap and retention.
type GuestConfig struct {
	Enabled bool
	// Retention is the age beyond which PurgeAgedGuests removes rows.
	Retention time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds attempt-limiting policy and the refresh cap.
type SecurityConfig struct {
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	MaxConfirmAttempts int
	ConfirmWindow      time.Duration
	MaxRefreshTokens   int // non-revoked ledger rows per user
	ProductionMode     bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:            "goAccounts",
			AccessTTL:         5 * time.Minute,
			CSRFTTL:           5 * time.Minute,
			RefreshTTL:        24 * time.Hour,
			RefreshTTLLong:    30 * 24 * time.Hour,
			GuestTTL:          90 * 24 * time.Hour,
			RotationThreshold: 10 * time.Minute,
		},
		Cookies: CookieConfig{
			RefreshName: "refreshToken",
			GuestName:   GuestTokenName,
			Path:        "/api",
			Secure:      true,
			SameSite:    http.SameSiteStrictMode,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		TOTP: TOTPConfig{
			Issuer:       "goAccounts",
			Digits:       6,
			Period:       30,
			Skew:         1,
			ChallengeTTL: 3 * time.Minute,
		},
		OAuth: OAuthConfig{
			RequestTimeout: 10 * time.Second,
		},
		Confirm: ConfirmConfig{
			CodeTTL:     15 * time.Minute,
			StagingTTL:  15 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "acc",
		},
		Guest: GuestConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:   5,
			LoginWindow:        15 * time.Minute,
			MaxConfirmAttempts: 5,
			ConfirmWindow:      15 * time.Minute,
			MaxRefreshTokens:   10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// ApplyDefaults fills every zero-valued field with its default. Explicit
// settings are never overridden.
func (c *Config) ApplyDefaults() {
	d := defaultConfig()

	if c.JWT.Issuer == "" {
		c.JWT.Issuer = d.JWT.Issuer
	}
	if c.JWT.AccessTTL == 0 {
		c.JWT.AccessTTL = d.JWT.AccessTTL
	}
	if c.JWT.CSRFTTL == 0 {
		c.JWT.CSRFTTL = d.JWT.CSRFTTL
	}
	if c.JWT.RefreshTTL == 0 {
		c.JWT.RefreshTTL = d.JWT.RefreshTTL
	}
	if c.JWT.RefreshTTLLong == 0 {
		c.JWT.RefreshTTLLong = d.JWT.RefreshTTLLong
	}
	if c.JWT.GuestTTL == 0 {
		c.JWT.GuestTTL = d.JWT.GuestTTL
	}
	if c.JWT.RotationThreshold == 0 {
		c.JWT.RotationThreshold = d.JWT.RotationThreshold
	}

	if c.Cookies.RefreshName == "" {
		c.Cookies.RefreshName = d.Cookies.RefreshName
	}
	if c.Cookies.GuestName == "" {
		c.Cookies.GuestName = d.Cookies.GuestName
	}
	if c.Cookies.Path == "" {
		c.Cookies.Path = d.Cookies.Path
	}
	if c.Cookies.SameSite == 0 {
		c.Cookies.SameSite = d.Cookies.SameSite
	}

	if c.Password.Memory == 0 {
		c.Password.Memory = d.Password.Memory
	}
	if c.Password.Time == 0 {
		c.Password.Time = d.Password.Time
	}
	if c.Password.Parallelism == 0 {
		c.Password.Parallelism = d.Password.Parallelism
	}
	if c.Password.SaltLength == 0 {
		c.Password.SaltLength = d.Password.SaltLength
	}
	if c.Password.KeyLength == 0 {
		c.Password.KeyLength = d.Password.KeyLength
	}
	if c.Password.MinLength == 0 {
		c.Password.MinLength = d.Password.MinLength
	}

	if c.TOTP.Issuer == "" {
		c.TOTP.Issuer = d.TOTP.Issuer
	}
	if c.TOTP.Digits == 0 {
		c.TOTP.Digits = d.TOTP.Digits
	}
	if c.TOTP.Period == 0 {
		c.TOTP.Period = d.TOTP.Period
	}
	if c.TOTP.Skew == 0 {
		c.TOTP.Skew = d.TOTP.Skew
	}
	if c.TOTP.ChallengeTTL == 0 {
		c.TOTP.ChallengeTTL = d.TOTP.ChallengeTTL
	}

	if c.OAuth.RequestTimeout == 0 {
		c.OAuth.RequestTimeout = d.OAuth.RequestTimeout
	}

	if c.Confirm.CodeTTL == 0 {
		c.Confirm.CodeTTL = d.Confirm.CodeTTL
	}
	if c.Confirm.StagingTTL == 0 {
		c.Confirm.StagingTTL = d.Confirm.StagingTTL
	}
	if c.Confirm.MaxAttempts == 0 {
		c.Confirm.MaxAttempts = d.Confirm.MaxAttempts
	}
	if c.Confirm.RedisPrefix == "" {
		c.Confirm.RedisPrefix = d.Confirm.RedisPrefix
	}

	if c.Guest.Retention == 0 {
		c.Guest.Retention = d.Guest.Retention
	}

	if c.Security.MaxLoginAttempts == 0 {
		c.Security.MaxLoginAttempts = d.Security.MaxLoginAttempts
	}
	if c.Security.LoginWindow == 0 {
		c.Security.LoginWindow = d.Security.LoginWindow
	}
	if c.Security.MaxConfirmAttempts == 0 {
		c.Security.MaxConfirmAttempts = d.Security.MaxConfirmAttempts
	}
	if c.Security.ConfirmWindow == 0 {
		c.Security.ConfirmWindow = d.Security.ConfirmWindow
	}
	if c.Security.MaxRefreshTokens == 0 {
		c.Security.MaxRefreshTokens = d.Security.MaxRefreshTokens
	}

	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = d.Audit.BufferSize
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found, or nil.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.CSRFTTL <= 0 {
		return errors.New("JWT CSRFTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTLLong < c.JWT.RefreshTTL {
		return errors.New("JWT RefreshTTLLong must be >= RefreshTTL")
	}
	if c.JWT.RotationThreshold <= 0 {
		return errors.New("JWT RotationThreshold must be > 0")
	}
	if c.JWT.RotationThreshold >= c.JWT.RefreshTTL {
		return errors.New("JWT RotationThreshold must be below RefreshTTL")
	}

	// Cookies
	if c.Cookies.Path == "" {
		return errors.New("Cookies Path must not be empty")
	}
	if c.Cookies.RefreshName == c.Cookies.GuestName {
		return errors.New("Cookies RefreshName and GuestName must differ")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// TOTP
	if c.TOTP.Digits != 6 {
		return errors.New("TOTP Digits must be 6")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if len(c.TOTP.SecretKey) != 32 {
		return errors.New("TOTP SecretKey must be exactly 32 bytes")
	}
	if c.TOTP.ChallengeTTL <= 0 {
		return errors.New("TOTP ChallengeTTL must be > 0")
	}

	// OAuth
	if c.OAuth.RequestTimeout <= 0 {
		return errors.New("OAuth RequestTimeout must be > 0")
	}
	for p, pc := range c.OAuth.Providers {
		if !KnownProvider(p) {
			return fmt.Errorf("OAuth Providers contains unknown provider %q", p)
		}
		if pc.ClientID == "" || pc.ClientSecret == "" {
			return fmt.Errorf("OAuth provider %q requires ClientID and ClientSecret", p)
		}
	}

	// Confirmation
	if c.Confirm.CodeTTL <= 0 {
		return errors.New("Confirm CodeTTL must be > 0")
	}
	if c.Confirm.StagingTTL <= 0 {
		return errors.New("Confirm StagingTTL must be > 0")
	}
	if c.Confirm.MaxAttempts <= 0 {
		return errors.New("Confirm MaxAttempts must be > 0")
	}

	// Guest
	if c.Guest.Enabled && c.Guest.Retention <= 0 {
		return errors.New("Guest Retention must be > 0 when guests are enabled")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginWindow <= 0 {
		return errors.New("LoginWindow must be > 0")
	}
	if c.Security.MaxConfirmAttempts <= 0 {
		return errors.New("MaxConfirmAttempts must be > 0")
	}
	if c.Security.ConfirmWindow <= 0 {
		return errors.New("ConfirmWindow must be > 0")
	}
	if c.Security.MaxRefreshTokens <= 0 {
		return errors.New("MaxRefreshTokens must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if !c.Cookies.Secure {
			return errors.New("ProductionMode requires secure cookies")
		}
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KiB")
		}
		if c.Confirm.CodeTTL > 15*time.Minute {
			return errors.New("ProductionMode requires Confirm CodeTTL <= 15m")
		}
	}

	return nil
}
