package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	Prefix             string
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	MaxConfirmAttempts int
	ConfirmWindow      time.Duration
}

// Limiter enforces per-email and per-IP login budgets and per-subject
// confirmation budgets using Redis fixed-window counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "acc"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports whether the (email, ip) pair is still inside its
// attempt budget. It reads only; failed attempts are recorded with
// IncrementLogin.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if err := l.checkCounter(ctx, l.loginEmailKey(email), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if ip != "" {
		if err := l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}
	return nil
}

// IncrementLogin records a failed login attempt for the (email, ip)
// pair.
func (l *Limiter) IncrementLogin(ctx context.Context, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, l.loginEmailKey(email), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if ip != "" {
		count, err = l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears the failed-login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	keys := []string{l.loginEmailKey(email)}
	if ip != "" {
		keys = append(keys, l.loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckConfirm reports whether the confirmation subject is inside its
// submission budget.
func (l *Limiter) CheckConfirm(ctx context.Context, subject string) error {
	return l.checkCounter(ctx, l.confirmKey(subject), l.config.MaxConfirmAttempts)
}

// IncrementConfirm records a failed confirmation-code submission.
func (l *Limiter) IncrementConfirm(ctx context.Context, subject string) error {
	count, err := l.incrementWithTTL(ctx, l.confirmKey(subject), l.config.ConfirmWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxConfirmAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetConfirm clears the confirmation counter after a successful
// verification.
func (l *Limiter) ResetConfirm(ctx context.Context, subject string) error {
	if err := l.redis.Del(ctx, l.confirmKey(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RetryAfter returns the longest remaining window among the login
// counters for (email, ip), for the 429 hint. Zero when no counter has
// a TTL.
func (l *Limiter) RetryAfter(ctx context.Context, email, ip string) (time.Duration, error) {
	keys := []string{l.loginEmailKey(email)}
	if ip != "" {
		keys = append(keys, l.loginIPKey(ip))
	}

	var longest time.Duration
	for _, key := range keys {
		ttl, err := l.redis.TTL(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ttl > longest {
			longest = ttl
		}
	}
	return longest, nil
}

func (l *Limiter) loginEmailKey(email string) string {
	return l.config.Prefix + ":rl:login:email:" + email
}

func (l *Limiter) loginIPKey(ip string) string {
	return l.config.Prefix + ":rl:login:ip:" + ip
}

func (l *Limiter) confirmKey(subject string) string {
	return l.config.Prefix + ":rl:confirm:" + subject
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
