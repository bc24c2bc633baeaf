// Command goaccounts-loadtest measures engine throughput for the three
// hot operations: password login, access-token validation and refresh.
// It runs fully self-contained against in-memory sqlite and miniredis
// unless a real Redis address is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/password"
	"github.com/MrEthical07/goAccounts/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "loadtest-password-1"

func main() {
	var (
		users       = flag.Int("users", 2000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		dbPath      = flag.String("db", ":memory:", "sqlite database path")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	storage, err := sqlite.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlite: %v\n", err)
		os.Exit(1)
	}
	defer storage.Close()

	cfg := accounts.Config{}
	cfg.JWT.Secret = []byte("loadtest-secret-loadtest-secret!")
	cfg.TOTP.SecretKey = []byte("loadtest-totp-key-loadtest-totp!")
	// low-cost argon2 so the run measures engine paths, not the KDF
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	// headroom for repeated logins per account
	cfg.Security.MaxLoginAttempts = 1 << 20
	cfg.Security.MaxRefreshTokens = 1 << 20

	engine, err := accounts.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStorage(storage).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	emails := seedAccounts(ctx, storage, cfg, *users)

	sessions, loginStats := runLoginPhase(ctx, engine, emails, *ops, *concurrency)
	validateStats := runValidatePhase(engine, sessions, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, sessions, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

// seedAccounts inserts user rows directly through the store, sharing one
// precomputed hash so seeding is not bound by the KDF.
func seedAccounts(ctx context.Context, storage *sqlite.Storage, cfg accounts.Config, n int) []string {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "argon2: %v\n", err)
		os.Exit(1)
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeding %d accounts...\n", n)
	start := time.Now()
	emails := make([]string, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("load-%d@example.com", i)
		emails[i] = email
		u := &accounts.User{
			UUID:         uuid.NewString(),
			Login:        fmt.Sprintf("load-%d", i),
			Email:        &email,
			PasswordHash: &hash,
			Role:         accounts.RoleUser,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := storage.CreateUser(ctx, u); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return emails
}

// loadSession pairs an established session with the device it is bound
// to, so the refresh phase presents matching metadata.
type loadSession struct {
	session  *accounts.Session
	deviceID string
}

func runLoginPhase(ctx context.Context, engine *accounts.Engine, emails []string, ops, concurrency int) ([]loadSession, phaseStats) {
	var (
		wg       sync.WaitGroup
		cursor   int64
		failures int64
		mu       sync.Mutex
	)
	latencies := make([]time.Duration, 0, ops)
	sessions := make([]loadSession, 0, ops)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				email := emails[r.Intn(len(emails))]
				deviceID := fmt.Sprintf("dev-%d", i)
				meta := accounts.ClientMeta{
					DeviceID:  deviceID,
					IP:        "127.0.0.1",
					UserAgent: "loadtest",
				}
				t0 := time.Now()
				res, err := engine.Login(ctx, email, loadPassword, false, meta)
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				if err != nil {
					failures++
				} else {
					sessions = append(sessions, loadSession{session: res.Session, deviceID: deviceID})
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return sessions, computeStats(time.Since(start), latencies, failures)
}

func runValidatePhase(engine *accounts.Engine, sessions []loadSession, ops, concurrency int) phaseStats {
	if len(sessions) == 0 {
		return phaseStats{}
	}

	var (
		wg       sync.WaitGroup
		cursor   int64
		failures int64
		mu       sync.Mutex
	)
	latencies := make([]time.Duration, 0, ops)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				sess := sessions[r.Intn(len(sessions))]
				t0 := time.Now()
				_, _, err := engine.ValidateAccess(sess.session.AccessToken)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runRefreshPhase(ctx context.Context, engine *accounts.Engine, sessions []loadSession, ops, concurrency int) phaseStats {
	if len(sessions) == 0 {
		return phaseStats{}
	}

	var (
		wg       sync.WaitGroup
		cursor   int64
		failures int64
		mu       sync.Mutex
	)
	latencies := make([]time.Duration, 0, ops)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*3571))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				sess := sessions[r.Intn(len(sessions))]
				meta := accounts.ClientMeta{
					DeviceID:  sess.deviceID,
					IP:        "127.0.0.1",
					UserAgent: "loadtest",
				}
				t0 := time.Now()
				_, err := engine.Refresh(ctx, sess.session.RefreshToken, meta)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
