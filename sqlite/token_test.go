package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRevokeIsConditional(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "a@example.com")
	ds := makeDeviceSession(t, s, u.ID, "dev-1")
	makeToken(t, s, u.ID, ds.ID, "jti-1", time.Now().Add(time.Hour))

	now := time.Now().UTC()
	won, err := s.RevokeRefreshToken(ctx, "jti-1", now)
	if err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}
	if !won {
		t.Fatal("first revoke did not win")
	}

	// the second caller loses the race: no error, no transition
	won, err = s.RevokeRefreshToken(ctx, "jti-1", now)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if won {
		t.Fatal("revoked row revoked twice")
	}

	rec, err := s.GetRefreshToken(ctx, "jti-1")
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if !rec.Revoked || rec.RevokedAt == nil {
		t.Fatalf("row not revoked: %+v", rec)
	}
}

func TestDuplicateJTIRejected(t *testing.T) {
	s := newTestStorage(t)

	u := makeUser(t, s, "alice", "a@example.com")
	ds := makeDeviceSession(t, s, u.ID, "dev-1")
	rec := makeToken(t, s, u.ID, ds.ID, "jti-1", time.Now().Add(time.Hour))

	dup := *rec
	dup.ID = 0
	if err := s.CreateRefreshToken(context.Background(), &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate jti accepted: %v", err)
	}
}

func TestEnforceTokenCapRevokesOldest(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "a@example.com")
	ds := makeDeviceSession(t, s, u.ID, "dev-1")

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec := makeToken(t, s, u.ID, ds.ID, fmt.Sprintf("jti-%d", i), base.Add(time.Hour))
		// spread creation times so ordering is deterministic
		if _, err := s.db.ExecContext(ctx,
			`UPDATE refresh_tokens SET created_at = ? WHERE id = ?`,
			base.Add(time.Duration(i)*time.Minute), rec.ID,
		); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	n, err := s.EnforceTokenCap(ctx, u.ID, 3, time.Now().UTC())
	if err != nil {
		t.Fatalf("EnforceTokenCap: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revocations, got %d", n)
	}

	for i := 0; i < 5; i++ {
		rec, err := s.GetRefreshToken(ctx, fmt.Sprintf("jti-%d", i))
		if err != nil {
			t.Fatalf("GetRefreshToken: %v", err)
		}
		wantRevoked := i < 2 // the two oldest
		if rec.Revoked != wantRevoked {
			t.Fatalf("jti-%d revoked=%v, want %v", i, rec.Revoked, wantRevoked)
		}
	}

	// idempotent when under the cap
	n, err = s.EnforceTokenCap(ctx, u.ID, 3, time.Now().UTC())
	if err != nil {
		t.Fatalf("EnforceTokenCap: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no further revocations, got %d", n)
	}
}

func TestRevokeDeviceTokensScopesToDevice(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "a@example.com")
	ds1 := makeDeviceSession(t, s, u.ID, "dev-1")
	ds2 := makeDeviceSession(t, s, u.ID, "dev-2")
	makeToken(t, s, u.ID, ds1.ID, "jti-a", time.Now().Add(time.Hour))
	makeToken(t, s, u.ID, ds2.ID, "jti-b", time.Now().Add(time.Hour))

	n, err := s.RevokeDeviceTokens(ctx, u.ID, ds1.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("RevokeDeviceTokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revocation, got %d", n)
	}

	a, _ := s.GetRefreshToken(ctx, "jti-a")
	b, _ := s.GetRefreshToken(ctx, "jti-b")
	if !a.Revoked || b.Revoked {
		t.Fatalf("wrong scope: a=%v b=%v", a.Revoked, b.Revoked)
	}
}

func TestRevokeUserTokens(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "a@example.com")
	ds := makeDeviceSession(t, s, u.ID, "dev-1")
	makeToken(t, s, u.ID, ds.ID, "jti-a", time.Now().Add(time.Hour))
	makeToken(t, s, u.ID, ds.ID, "jti-b", time.Now().Add(time.Hour))

	other := makeUser(t, s, "bob", "b@example.com")
	ods := makeDeviceSession(t, s, other.ID, "dev-9")
	makeToken(t, s, other.ID, ods.ID, "jti-z", time.Now().Add(time.Hour))

	n, err := s.RevokeUserTokens(ctx, u.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("RevokeUserTokens: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revocations, got %d", n)
	}

	z, _ := s.GetRefreshToken(ctx, "jti-z")
	if z.Revoked {
		t.Fatal("another user's token revoked")
	}
}

func TestPurgeExpiredTokens(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "a@example.com")
	ds := makeDeviceSession(t, s, u.ID, "dev-1")
	makeToken(t, s, u.ID, ds.ID, "jti-old", time.Now().Add(-time.Hour))
	makeToken(t, s, u.ID, ds.ID, "jti-new", time.Now().Add(time.Hour))

	n, err := s.PurgeExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("PurgeExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged token, got %d", n)
	}

	if _, err := s.GetRefreshToken(ctx, "jti-old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token survived purge: %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "jti-new"); err != nil {
		t.Fatalf("live token purged: %v", err)
	}
}
