package goAccounts

import (
	"errors"
	"log"
	"time"

	"github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/internal/rate"
	"github.com/MrEthical07/goAccounts/internal/transient"
	"github.com/MrEthical07/goAccounts/jwt"
	"github.com/MrEthical07/goAccounts/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Storage and Redis are mandatory; every
// other collaborator is optional and its absence disables the matching
// feature (no mailer means confirmation codes are only logged through
// Warn, no captcha verifier disables hardened-mode checks, and so on).
type Builder struct {
	config Config
	redis  redis.UniversalClient

	storage   Storage
	providers ProviderClient
	mailer    Mailer
	captcha   CaptchaVerifier
	geo       GeoResolver
	avatars   AvatarStore
	auditSink audit.Sink
	warn      func(format string, args ...any)
	clock     func() time.Time

	built bool
}

// New starts a Builder with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero fields are still
// filled by defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the transient store and the
// attempt limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStorage sets the durable store implementation.
func (b *Builder) WithStorage(s Storage) *Builder {
	b.storage = s
	return b
}

// WithProviderClient overrides the default HTTP provider client.
func (b *Builder) WithProviderClient(pc ProviderClient) *Builder {
	b.providers = pc
	return b
}

// WithMailer sets the confirmation-code mailer.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithCaptchaVerifier sets the captcha verifier used in hardened mode.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithGeoResolver sets the best-effort IP geo resolver.
func (b *Builder) WithGeoResolver(g GeoResolver) *Builder {
	b.geo = g
	return b
}

// WithAvatarStore sets the avatar rehosting collaborator.
func (b *Builder) WithAvatarStore(a AvatarStore) *Builder {
	b.avatars = a
	return b
}

// WithAuditSink sets the audit event sink. Events are only emitted when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithWarn sets the degraded-path notice hook.
func (b *Builder) WithWarn(fn func(format string, args ...any)) *Builder {
	b.warn = fn
	return b
}

// WithClock overrides the engine's time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration, wires every component and returns
// a ready Engine. A Builder can only build once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.storage == nil {
		return nil, errors.New("storage required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	engine := &Engine{
		config:     cfg,
		users:      b.storage,
		identities: b.storage,
		devices:    b.storage,
		tokens:     b.storage,
	}

	engine.transient = transient.New(b.redis, cfg.Confirm.RedisPrefix)
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Prefix:             cfg.Confirm.RedisPrefix,
		MaxLoginAttempts:   cfg.Security.MaxLoginAttempts,
		LoginWindow:        cfg.Security.LoginWindow,
		MaxConfirmAttempts: cfg.Security.MaxConfirmAttempts,
		ConfirmWindow:      cfg.Security.ConfirmWindow,
	})

	jm, err := jwt.NewManager(jwt.Config{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		CSRFTTL:    cfg.JWT.CSRFTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		LongTTL:    cfg.JWT.RefreshTTLLong,
		GuestTTL:   cfg.JWT.GuestTTL,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	sb, err := newSecretBox(cfg.TOTP.SecretKey)
	if err != nil {
		return nil, err
	}
	engine.secrets = sb
	engine.totp = newTOTPManager(cfg.TOTP)

	engine.providers = b.providers
	if engine.providers == nil {
		engine.providers = NewProviderHTTP(cfg.OAuth)
	}
	engine.mailer = b.mailer
	engine.captcha = b.captcha
	engine.geo = b.geo
	engine.avatars = b.avatars

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.warn = b.warn
	if engine.warn == nil {
		engine.warn = func(format string, args ...any) {
			log.Printf("goAccounts: "+format, args...)
		}
	}
	engine.now = b.clock
	if engine.now == nil {
		engine.now = time.Now
	}

	b.built = true

	return engine, nil
}
