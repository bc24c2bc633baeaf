package goAccounts_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testEnv bundles an Engine with every fake it was wired with.
type testEnv struct {
	engine   *accounts.Engine
	storage  *sqlite.Storage
	mailer   *fakeMailer
	provider *fakeProvider
	captcha  *fakeCaptcha
	clock    *testClock
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T, mutate func(cfg *accounts.Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	storage, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	cfg := accounts.Config{}
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.TOTP.SecretKey = []byte("fedcba9876543210fedcba9876543210")
	// low-cost argon2 parameters keep the suite fast
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		storage:  storage,
		mailer:   &fakeMailer{codes: map[string]string{}},
		provider: &fakeProvider{profiles: map[string]*accounts.ProviderProfile{}},
		captcha:  &fakeCaptcha{ok: true},
		clock:    &testClock{},
		redis:    mr,
	}

	engine, err := accounts.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStorage(storage).
		WithProviderClient(env.provider).
		WithMailer(env.mailer).
		WithCaptchaVerifier(env.captcha).
		WithClock(env.clock.Now).
		WithWarn(func(string, ...any) {}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

// registerUser runs the full registration flow and returns the session.
func (env *testEnv) registerUser(t *testing.T, login, email, pass string) *accounts.Session {
	t.Helper()
	ctx := context.Background()

	if err := env.engine.Register(ctx, login, email, pass, "", meta("dev-reg")); err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	sess, err := env.engine.ConfirmRegister(ctx, email, env.mailer.code(t, email), false, meta("dev-reg"))
	if err != nil {
		t.Fatalf("ConfirmRegister(%s): %v", email, err)
	}
	return sess
}

func meta(deviceID string) accounts.ClientMeta {
	return accounts.ClientMeta{
		DeviceID:  deviceID,
		IP:        "198.51.100.7",
		UserAgent: "test-agent/1.0",
	}
}

type testClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func (m *fakeMailer) SendCode(_ context.Context, email string, _ accounts.ConfirmPurpose, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[strings.ToLower(email)] = code
	m.sent++
	return nil
}

func (m *fakeMailer) code(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[strings.ToLower(email)]
	if !ok {
		t.Fatalf("no code mailed to %s", email)
	}
	return code
}

type fakeProvider struct {
	mu       sync.Mutex
	profiles map[string]*accounts.ProviderProfile
	fail     error
}

func (p *fakeProvider) add(authCode string, profile *accounts.ProviderProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[authCode] = profile
}

func (p *fakeProvider) Exchange(_ context.Context, _ accounts.Provider, authCode string) (*accounts.ProviderProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	profile, ok := p.profiles[authCode]
	if !ok {
		return nil, fmt.Errorf("%w: token exchange returned 400", accounts.ErrValidation)
	}
	clone := *profile
	return &clone, nil
}

type fakeCaptcha struct {
	mu    sync.Mutex
	ok    bool
	calls int
}

func (c *fakeCaptcha) Verify(context.Context, string, string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.ok, nil
}

// totpCode computes the RFC 6238 SHA-1 code for a base32 secret, for
// driving the enrollment and login flows from the outside.
func totpCode(t *testing.T, secretBase32 string, at time.Time) string {
	t.Helper()
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("bad secret: %v", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(at.Unix()/30))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}
