package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	accounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/middleware"
	"github.com/MrEthical07/goAccounts/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newEngine(t *testing.T) *accounts.Engine {
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
	cfg.Guest.Enabled = true

	engine, err := accounts.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStorage(storage).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestRequireAuth(t *testing.T) {
	engine := newEngine(t)

	guest, err := engine.BootstrapGuest(context.Background(), "", accounts.ClientMeta{DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("BootstrapGuest: %v", err)
	}

	var seen middleware.Identity
	handler := middleware.RequireAuth(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+guest.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authorized request = %d", rec.Code)
	}
	if seen.UserUUID != guest.UserUUID || seen.Role != accounts.RoleGuest {
		t.Fatalf("identity = %+v", seen)
	}

	for _, header := range []string{"", "Bearer ", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q = %d, want 401", header, rec.Code)
		}
	}
}

func TestRequireRoleBlocksGuests(t *testing.T) {
	engine := newEngine(t)

	guest, err := engine.BootstrapGuest(context.Background(), "", accounts.ClientMeta{DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("BootstrapGuest: %v", err)
	}

	handler := middleware.RequireAuth(engine)(
		middleware.RequireRole(accounts.RoleUser, accounts.RoleAdmin)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.Header.Set("Authorization", "Bearer "+guest.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("guest on account route = %d, want 403", rec.Code)
	}
}

func TestRequireCSRF(t *testing.T) {
	engine := newEngine(t)

	guest, err := engine.BootstrapGuest(context.Background(), "", accounts.ClientMeta{DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("BootstrapGuest: %v", err)
	}

	handler := middleware.RequireAuth(engine)(
		middleware.RequireCSRF(engine)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}),
		),
	)

	// GET passes without the header
	req := httptest.NewRequest(http.MethodGet, "/boards", nil)
	req.Header.Set("Authorization", "Bearer "+guest.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("GET without CSRF = %d", rec.Code)
	}

	// POST needs the header
	req = httptest.NewRequest(http.MethodPost, "/boards", nil)
	req.Header.Set("Authorization", "Bearer "+guest.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("POST without CSRF = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/boards", nil)
	req.Header.Set("Authorization", "Bearer "+guest.AccessToken)
	req.Header.Set(middleware.CSRFHeader, guest.CSRFToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST with CSRF = %d", rec.Code)
	}
}
