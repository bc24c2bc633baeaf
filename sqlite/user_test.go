package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	accounts "github.com/MrEthical07/goAccounts"
	"github.com/google/uuid"
)

func TestUserLookups(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "Alice@Example.com")

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.COM")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Fatalf("email lookup returned wrong user: %d", byEmail.ID)
	}

	byLogin, err := s.GetUserByLogin(ctx, "ALICE")
	if err != nil {
		t.Fatalf("GetUserByLogin: %v", err)
	}
	if byLogin.ID != u.ID {
		t.Fatalf("login lookup returned wrong user: %d", byLogin.ID)
	}

	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmailUniqueAmongActive(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	makeUser(t, s, "alice", "a@example.com")

	now := time.Now().UTC()
	dup := &accounts.User{
		UUID:      uuid.NewString(),
		Login:     "alice2",
		Email:     strptr("A@EXAMPLE.com"),
		Role:      accounts.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("case-variant duplicate email accepted: %v", err)
	}

	dupLogin := &accounts.User{
		UUID:      uuid.NewString(),
		Login:     "ALICE",
		Email:     strptr("other@example.com"),
		Role:      accounts.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(ctx, dupLogin); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("case-variant duplicate login accepted: %v", err)
	}
}

func TestSoftDeleteFreesEmailAndRestore(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice", "a@example.com")
	if err := s.SoftDeleteAccount(ctx, u.ID); err != nil {
		t.Fatalf("SoftDeleteAccount: %v", err)
	}

	// active lookups no longer see the row
	if _, err := s.GetUserByEmail(ctx, "a@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted user visible to active lookup: %v", err)
	}

	// the email is reusable by a new active user
	makeUser(t, s, "alice_two", "a@example.com")

	// the deleted row is still reachable for restore
	del, err := s.GetDeletedUserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetDeletedUserByEmail: %v", err)
	}
	if del.ID != u.ID || !del.IsDeleted || del.DeletedAt == nil {
		t.Fatalf("unexpected deleted row: %+v", del)
	}

	// restoring now would collide with the new active user, so the
	// partial index rejects it
	if err := s.RestoreUser(ctx, u.ID); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("restore with occupied email succeeded: %v", err)
	}
}

func TestRestoreUser(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "bob", "b@example.com")
	if err := s.SoftDeleteAccount(ctx, u.ID); err != nil {
		t.Fatalf("SoftDeleteAccount: %v", err)
	}
	if err := s.RestoreUser(ctx, u.ID); err != nil {
		t.Fatalf("RestoreUser: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail after restore: %v", err)
	}
	if got.IsDeleted || got.DeletedAt != nil {
		t.Fatalf("restored row still flagged deleted: %+v", got)
	}

	// restoring an active row is a no-op error
	if err := s.RestoreUser(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("restore of active row succeeded: %v", err)
	}
}

func TestTwoFactorPromotion(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	u := makeUser(t, s, "carol", "c@example.com")

	// activation without a pending secret must fail
	if err := s.ActivateTwoFactor(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("activation without pending secret succeeded: %v", err)
	}

	if err := s.SetTwoFactorPending(ctx, u.ID, "enc-pending"); err != nil {
		t.Fatalf("SetTwoFactorPending: %v", err)
	}
	if err := s.ActivateTwoFactor(ctx, u.ID); err != nil {
		t.Fatalf("ActivateTwoFactor: %v", err)
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !got.TwoFactorEnabled {
		t.Fatal("two factor not enabled after activation")
	}
	if got.TwoFactorSecretEnc == nil || *got.TwoFactorSecretEnc != "enc-pending" {
		t.Fatalf("pending secret not promoted: %+v", got.TwoFactorSecretEnc)
	}
	if got.TwoFactorPendingEnc != nil {
		t.Fatal("pending secret not cleared")
	}

	if err := s.DisableTwoFactor(ctx, u.ID); err != nil {
		t.Fatalf("DisableTwoFactor: %v", err)
	}
	got, err = s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.TwoFactorEnabled || got.TwoFactorSecretEnc != nil {
		t.Fatalf("two factor not fully disabled: %+v", got)
	}
}

func TestPurgeAgedGuests(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := makeGuest(t, s)
	// backdate the guest past the retention window
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-60*24*time.Hour), old.ID,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	fresh := makeGuest(t, s)
	user := makeUser(t, s, "dave", "d@example.com")
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-60*24*time.Hour), user.ID,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.PurgeAgedGuests(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeAgedGuests: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged guest, got %d", n)
	}

	if _, err := s.GetUserByID(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("aged guest survived purge: %v", err)
	}
	if _, err := s.GetUserByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh guest purged: %v", err)
	}
	// aged non-guest rows are never purged
	if _, err := s.GetUserByID(ctx, user.ID); err != nil {
		t.Fatalf("registered user purged: %v", err)
	}
}
