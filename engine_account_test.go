package goAccounts_test

import (
	"context"
	"errors"
	"testing"

	accounts "github.com/MrEthical07/goAccounts"
)

func TestRegisterRejectsTakenIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerUser(t, "uma", "uma@example.com", "umas-password-1234")

	if err := env.engine.Register(ctx, "uma2", "uma@example.com", "another-password-1", "", meta("dev-1")); !errors.Is(err, accounts.ErrConflict) {
		t.Fatalf("duplicate email = %v, want ErrConflict", err)
	}
	if err := env.engine.Register(ctx, "uma", "fresh@example.com", "another-password-1", "", meta("dev-1")); !errors.Is(err, accounts.ErrConflict) {
		t.Fatalf("duplicate login = %v, want ErrConflict", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	cases := []struct{ login, email, pass string }{
		{"ab", "short@example.com", "good-password-123"},
		{"goodlogin", "not-an-email", "good-password-123"},
		{"goodlogin", "ok@example.com", "short"},
	}
	for _, tc := range cases {
		err := env.engine.Register(ctx, tc.login, tc.email, tc.pass, "", meta("dev-1"))
		if !errors.Is(err, accounts.ErrValidation) {
			t.Fatalf("Register(%q, %q) = %v, want ErrValidation", tc.login, tc.email, err)
		}
	}
}

func TestConfirmRegisterWrongCodeThenRight(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.Register(ctx, "vera", "vera@example.com", "veras-password-123", "", meta("dev-1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := env.mailer.code(t, "vera@example.com")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if _, err := env.engine.ConfirmRegister(ctx, "vera@example.com", wrong, false, meta("dev-1")); !errors.Is(err, accounts.ErrInvalidToken) {
		t.Fatalf("wrong code = %v, want ErrInvalidToken", err)
	}
	if _, err := env.engine.ConfirmRegister(ctx, "vera@example.com", "12345", false, meta("dev-1")); !errors.Is(err, accounts.ErrValidation) {
		t.Fatalf("malformed code = %v, want ErrValidation", err)
	}

	sess, err := env.engine.ConfirmRegister(ctx, "vera@example.com", code, false, meta("dev-1"))
	if err != nil {
		t.Fatalf("ConfirmRegister with the real code: %v", err)
	}

	// the code and the staged signup are both single use
	if _, err := env.engine.ConfirmRegister(ctx, "vera@example.com", code, false, meta("dev-1")); !errors.Is(err, accounts.ErrInvalidToken) {
		t.Fatalf("replayed code = %v, want ErrInvalidToken", err)
	}

	if _, _, err := env.engine.ValidateAccess(sess.AccessToken); err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
}

func TestNoUserRowBeforeConfirmation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.Register(ctx, "walt", "walt@example.com", "walts-password-123", "", meta("dev-1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// the unconfirmed registration must not block a login attempt probe
	_, err := env.engine.Login(ctx, "walt@example.com", "walts-password-123", false, meta("dev-1"))
	if !errors.Is(err, accounts.ErrInvalidCredentials) {
		t.Fatalf("login before confirmation = %v, want ErrInvalidCredentials", err)
	}
}

func TestAccountDeleteAndRestore(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess := env.registerUser(t, "xena", "xena@example.com", "xenas-password-123")

	if err := env.engine.RequestAccountDelete(ctx, sess.UserUUID); err != nil {
		t.Fatalf("RequestAccountDelete: %v", err)
	}
	if err := env.engine.ConfirmAccountDelete(ctx, sess.UserUUID, env.mailer.code(t, "xena@example.com")); err != nil {
		t.Fatalf("ConfirmAccountDelete: %v", err)
	}

	// deletion cascades: password login and refresh both stop working
	if _, err := env.engine.Login(ctx, "xena@example.com", "xenas-password-123", false, meta("dev-1")); !errors.Is(err, accounts.ErrInvalidCredentials) {
		t.Fatalf("login after delete = %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.engine.Refresh(ctx, sess.RefreshToken, meta("dev-reg")); !errors.Is(err, accounts.ErrSessionTerminated) {
		t.Fatalf("refresh after delete = %v, want ErrSessionTerminated", err)
	}

	if err := env.engine.RequestAccountRestore(ctx, "xena@example.com"); err != nil {
		t.Fatalf("RequestAccountRestore: %v", err)
	}
	if err := env.engine.ConfirmAccountRestore(ctx, "xena@example.com", env.mailer.code(t, "xena@example.com")); err != nil {
		t.Fatalf("ConfirmAccountRestore: %v", err)
	}

	res, err := env.engine.Login(ctx, "xena@example.com", "xenas-password-123", false, meta("dev-1"))
	if err != nil {
		t.Fatalf("login after restore: %v", err)
	}
	if res.Session == nil {
		t.Fatalf("unexpected login result after restore: %+v", res)
	}
}

func TestRestoreUnknownEmail(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.engine.RequestAccountRestore(context.Background(), "ghost@example.com")
	if !errors.Is(err, accounts.ErrUserNotFound) {
		t.Fatalf("restore of unknown email = %v, want ErrUserNotFound", err)
	}
}

func TestDeletedAccountFreesEmailForOAuthSignup(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess := env.registerUser(t, "yuri", "yuri@example.com", "yuris-password-123")
	if err := env.engine.RequestAccountDelete(ctx, sess.UserUUID); err != nil {
		t.Fatalf("RequestAccountDelete: %v", err)
	}
	if err := env.engine.ConfirmAccountDelete(ctx, sess.UserUUID, env.mailer.code(t, "yuri@example.com")); err != nil {
		t.Fatalf("ConfirmAccountDelete: %v", err)
	}

	// a deleted row does not hold the email hostage for lookups, and a
	// restore afterwards reports the conflict
	env.registerUser(t, "yuri2", "yuri@example.com", "new-password-1234")

	if err := env.engine.RequestAccountRestore(ctx, "yuri@example.com"); err != nil {
		t.Fatalf("RequestAccountRestore: %v", err)
	}
	err := env.engine.ConfirmAccountRestore(ctx, "yuri@example.com", env.mailer.code(t, "yuri@example.com"))
	if !errors.Is(err, accounts.ErrConflict) {
		t.Fatalf("restore over a reclaimed email = %v, want ErrConflict", err)
	}
}
