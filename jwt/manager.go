package jwt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUse discriminates the token kinds minted by the Manager.
type TokenUse string

const (
	UseAccess  TokenUse = "access"
	UseCSRF    TokenUse = "csrf"
	UseRefresh TokenUse = "refresh"
	UseGuest   TokenUse = "guest"
)

// ErrInvalidToken covers every parse failure: bad signature, wrong
// algorithm, expiry, malformed claims, wrong token use.
var ErrInvalidToken = errors.New("invalid token")

// Config carries the signing material and per-kind lifetimes.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	CSRFTTL    time.Duration
	RefreshTTL time.Duration // rememberMe=false
	LongTTL    time.Duration // rememberMe=true
	GuestTTL   time.Duration
	Leeway     time.Duration
}

// Claims is the claim set shared by all token kinds. Role is empty on
// refresh and guest tokens; ID (jti) is set on refresh tokens only.
type Claims struct {
	UID  string   `json:"uid"`
	Role string   `json:"role,omitempty"`
	Use  TokenUse `json:"use"`
	jwt.RegisteredClaims
}

// Manager mints and verifies tokens. Safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.CSRFTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.LongTTL == 0 {
		cfg.LongTTL = cfg.RefreshTTL
	}
	if cfg.GuestTTL == 0 {
		cfg.GuestTTL = cfg.LongTTL
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// CreateAccess mints a short-lived access token carrying uid and role.
func (m *Manager) CreateAccess(uid, role string) (string, error) {
	return m.sign(uid, role, UseAccess, "", m.config.AccessTTL)
}

// CreateCSRF mints the double-submit CSRF token paired with a refresh
// cookie. Never stored server-side.
func (m *Manager) CreateCSRF(uid, role string) (string, error) {
	return m.sign(uid, role, UseCSRF, "", m.config.CSRFTTL)
}

// CreateRefresh mints a refresh token with a random per-issuance jti and
// a lifetime class selected by rememberMe. The jti is the ledger key.
func (m *Manager) CreateRefresh(uid string, rememberMe bool) (token, jti string, expiresAt time.Time, err error) {
	jti, err = newJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	ttl := m.config.RefreshTTL
	if rememberMe {
		ttl = m.config.LongTTL
	}
	expiresAt = time.Now().Add(ttl)
	token, err = m.sign(uid, "", UseRefresh, jti, ttl)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// CreateGuest mints the long-lived guest identity token set as the guest
// cookie.
func (m *Manager) CreateGuest(uid string) (string, error) {
	return m.sign(uid, "", UseGuest, "", m.config.GuestTTL)
}

// ParseAccess verifies an access token and returns its claims.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	return m.parse(token, UseAccess)
}

// ParseCSRF verifies a CSRF token and returns its claims.
func (m *Manager) ParseCSRF(token string) (*Claims, error) {
	return m.parse(token, UseCSRF)
}

// ParseRefresh verifies a refresh token's signature and expiry. The
// returned claims carry the jti; ledger lookup is the caller's job.
func (m *Manager) ParseRefresh(token string) (*Claims, error) {
	return m.parse(token, UseRefresh)
}

// ParseGuest verifies a guest identity token and returns its claims.
func (m *Manager) ParseGuest(token string) (*Claims, error) {
	return m.parse(token, UseGuest)
}

func (m *Manager) sign(uid, role string, use TokenUse, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:  uid,
		Role: role,
		Use:  use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

func (m *Manager) parse(tokenStr string, want TokenUse) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Use != want {
		return nil, fmt.Errorf("%w: wrong token use", ErrInvalidToken)
	}
	if claims.UID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if want == UseRefresh && claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	return claims, nil
}

func newJTI() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
