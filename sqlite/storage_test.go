package sqlite

import (
	"context"
	"testing"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
	"github.com/google/uuid"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strptr(s string) *string { return &s }

func makeUser(t *testing.T, s *Storage, login, email string) *accounts.User {
	t.Helper()
	now := time.Now().UTC()
	u := &accounts.User{
		UUID:      uuid.NewString(),
		Login:     login,
		Role:      accounts.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if email != "" {
		u.Email = strptr(email)
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", login, err)
	}
	return u
}

func makeGuest(t *testing.T, s *Storage) *accounts.User {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	u := &accounts.User{
		UUID:      id,
		Login:     "guest_" + id[:8],
		Email:     strptr("guest_" + id[:8] + "@guest.local"),
		Role:      accounts.RoleGuest,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(guest): %v", err)
	}
	return u
}

func makeDeviceSession(t *testing.T, s *Storage, userID int64, deviceID string) *accounts.DeviceSession {
	t.Helper()
	ds, err := s.UpsertDeviceSession(context.Background(), &accounts.DeviceSession{
		UserID:    userID,
		DeviceID:  deviceID,
		IP:        "1.2.3.4",
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("UpsertDeviceSession: %v", err)
	}
	return ds
}

func makeToken(t *testing.T, s *Storage, userID, deviceSessionID int64, jti string, expiresAt time.Time) *accounts.RefreshTokenRecord {
	t.Helper()
	now := time.Now().UTC()
	rec := &accounts.RefreshTokenRecord{
		JTI:             jti,
		UserID:          userID,
		DeviceSessionID: deviceSessionID,
		ExpiresAt:       expiresAt,
		LastUsedAt:      now,
		CreatedAt:       now,
	}
	if err := s.CreateRefreshToken(context.Background(), rec); err != nil {
		t.Fatalf("CreateRefreshToken(%s): %v", jti, err)
	}
	return rec
}
