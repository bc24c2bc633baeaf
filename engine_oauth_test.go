package goAccounts_test

import (
	"context"
	"errors"
	"testing"

	accounts "github.com/MrEthical07/goAccounts"
)

func TestOAuthLoginCreatesAndReusesAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "g-1001",
		Email:         "Nina@Example.com",
		EmailVerified: true,
		DisplayName:   "Nina N",
	})

	sess, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "", "", false, meta("dev-1"))
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}
	if sess.Role != accounts.RoleUser {
		t.Fatalf("role = %s, want user", sess.Role)
	}

	links, err := env.engine.ListProviderLinks(ctx, sess.UserUUID)
	if err != nil {
		t.Fatalf("ListProviderLinks: %v", err)
	}
	if len(links) != 1 || links[0].Provider != accounts.ProviderGoogle || links[0].Email != "nina@example.com" {
		t.Fatalf("unexpected links: %+v", links)
	}

	// same identity again resolves to the same account
	env.provider.add("code-2", &accounts.ProviderProfile{
		ProviderID:    "g-1001",
		Email:         "nina@example.com",
		EmailVerified: true,
	})
	sess2, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-2", "", "", false, meta("dev-1"))
	if err != nil {
		t.Fatalf("second OAuthLogin: %v", err)
	}
	if sess2.UserUUID != sess.UserUUID {
		t.Fatalf("second login user = %s, want %s", sess2.UserUUID, sess.UserUUID)
	}
}

func TestOAuthLoginRejectsUnverifiedEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "g-2001",
		Email:         "shady@example.com",
		EmailVerified: false,
	})

	_, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "", "", false, meta("dev-1"))
	if !errors.Is(err, accounts.ErrValidation) {
		t.Fatalf("unverified email = %v, want ErrValidation", err)
	}
}

func TestOAuthLoginUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.OAuthLogin(context.Background(), accounts.Provider("myspace"), "code-1", "", "", false, meta("dev-1"))
	if !errors.Is(err, accounts.ErrUnsupportedProvider) {
		t.Fatalf("unknown provider = %v, want ErrUnsupportedProvider", err)
	}
}

func TestOAuthCaptchaHardenedMode(t *testing.T) {
	env := newTestEnv(t, func(cfg *accounts.Config) {
		cfg.OAuth.RequireCaptcha = true
	})
	ctx := context.Background()

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "g-3001",
		Email:         "new@example.com",
		EmailVerified: true,
	})

	if _, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "", "", false, meta("dev-1")); !errors.Is(err, accounts.ErrCaptchaRequired) {
		t.Fatalf("missing captcha token = %v, want ErrCaptchaRequired", err)
	}

	env.captcha.ok = false
	if _, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "tok", "", false, meta("dev-1")); !errors.Is(err, accounts.ErrCaptchaFailed) {
		t.Fatalf("rejected captcha = %v, want ErrCaptchaFailed", err)
	}

	env.captcha.ok = true
	if _, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "tok", "", false, meta("dev-1")); err != nil {
		t.Fatalf("accepted captcha: %v", err)
	}
}

func TestLinkProviderSameEmailLinksImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess := env.registerUser(t, "omar", "omar@example.com", "omars-password-123")

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "gh-1",
		Email:         "omar@example.com",
		EmailVerified: true,
	})

	res, err := env.engine.LinkProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, "code-1")
	if err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}
	if !res.Linked || res.ConfirmationRequired {
		t.Fatalf("expected immediate link, got %+v", res)
	}

	links, _ := env.engine.ListProviderLinks(ctx, sess.UserUUID)
	if len(links) != 1 || !links[0].Enabled {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestLinkProviderRefreshesEmailSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess := env.registerUser(t, "ursula", "ursula@example.com", "ursulas-password-1")

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "gh-6",
		Email:         "ursula@example.com",
		EmailVerified: true,
	})
	if _, err := env.engine.LinkProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, "code-1"); err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}

	// the provider-side address changed; re-linking the same identity is
	// idempotent but must update the stored snapshot
	env.provider.add("code-2", &accounts.ProviderProfile{
		ProviderID:    "gh-6",
		Email:         "ursula.new@example.net",
		EmailVerified: true,
	})
	res, err := env.engine.LinkProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, "code-2")
	if err != nil {
		t.Fatalf("re-link: %v", err)
	}
	if !res.Linked || res.ConfirmationRequired {
		t.Fatalf("expected idempotent link, got %+v", res)
	}

	links, _ := env.engine.ListProviderLinks(ctx, sess.UserUUID)
	if len(links) != 1 || links[0].Email != "ursula.new@example.net" || !links[0].Enabled {
		t.Fatalf("snapshot not refreshed: %+v", links)
	}
}

func TestOAuthLoginRefreshesEmailSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "g-5001",
		Email:         "vic@example.com",
		EmailVerified: true,
	})
	sess, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "", "", false, meta("dev-1"))
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}

	env.provider.add("code-2", &accounts.ProviderProfile{
		ProviderID:    "g-5001",
		Email:         "vic.new@example.net",
		EmailVerified: true,
	})
	sess2, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-2", "", "", false, meta("dev-1"))
	if err != nil {
		t.Fatalf("second OAuthLogin: %v", err)
	}
	if sess2.UserUUID != sess.UserUUID {
		t.Fatalf("second login user = %s, want %s", sess2.UserUUID, sess.UserUUID)
	}

	links, _ := env.engine.ListProviderLinks(ctx, sess.UserUUID)
	if len(links) != 1 || links[0].Email != "vic.new@example.net" || !links[0].Enabled {
		t.Fatalf("snapshot not refreshed: %+v", links)
	}
}

func TestLinkProviderEmailMismatchNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess := env.registerUser(t, "pam", "pam@example.com", "pams-password-1234")

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "gh-2",
		Email:         "pam.other@example.net",
		EmailVerified: true,
	})

	res, err := env.engine.LinkProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, "code-1")
	if err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}
	if res.Linked || !res.ConfirmationRequired {
		t.Fatalf("expected staged link, got %+v", res)
	}
	if links, _ := env.engine.ListProviderLinks(ctx, sess.UserUUID); len(links) != 0 {
		t.Fatalf("link written before confirmation: %+v", links)
	}

	// the code goes to the provider-side address
	code := env.mailer.code(t, "pam.other@example.net")
	confirmed, err := env.engine.ConfirmLinkProvider(ctx, sess.UserUUID, code)
	if err != nil {
		t.Fatalf("ConfirmLinkProvider: %v", err)
	}
	if !confirmed.Linked {
		t.Fatalf("expected link after confirmation, got %+v", confirmed)
	}

	links, _ := env.engine.ListProviderLinks(ctx, sess.UserUUID)
	if len(links) != 1 || links[0].Email != "pam.other@example.net" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestLinkProviderIdentityTakenByOtherAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.provider.add("code-owner", &accounts.ProviderProfile{
		ProviderID:    "gh-3",
		Email:         "owner@example.com",
		EmailVerified: true,
	})
	if _, err := env.engine.OAuthLogin(ctx, accounts.ProviderGitHub, "code-owner", "", "", false, meta("dev-1")); err != nil {
		t.Fatalf("seed OAuth account: %v", err)
	}

	sess := env.registerUser(t, "quinn", "quinn@example.com", "quinns-password-12")
	env.provider.add("code-steal", &accounts.ProviderProfile{
		ProviderID:    "gh-3",
		Email:         "owner@example.com",
		EmailVerified: true,
	})

	_, err := env.engine.LinkProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, "code-steal")
	if !errors.Is(err, accounts.ErrConflict) {
		t.Fatalf("stealing a linked identity = %v, want ErrConflict", err)
	}
}

func TestGuestConversionViaOAuth(t *testing.T) {
	env := newTestEnv(t, func(cfg *accounts.Config) {
		cfg.Guest.Enabled = true
	})
	ctx := context.Background()

	guest, err := env.engine.BootstrapGuest(ctx, "", meta("dev-1"))
	if err != nil {
		t.Fatalf("BootstrapGuest: %v", err)
	}

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "ya-1",
		Email:         "rita@example.com",
		EmailVerified: true,
		DisplayName:   "Rita",
	})

	sess, err := env.engine.OAuthLogin(ctx, accounts.ProviderYandex, "code-1", "", guest.GuestToken, false, meta("dev-1"))
	if err != nil {
		t.Fatalf("OAuthLogin with guest token: %v", err)
	}
	if sess.UserUUID != guest.UserUUID {
		t.Fatalf("conversion lost board history: got %s, want %s", sess.UserUUID, guest.UserUUID)
	}
	if sess.Role != accounts.RoleUser {
		t.Fatalf("converted role = %s, want user", sess.Role)
	}

	// the promoted account is no longer resumable as a guest
	again, err := env.engine.BootstrapGuest(ctx, guest.GuestToken, meta("dev-1"))
	if err != nil {
		t.Fatalf("BootstrapGuest after conversion: %v", err)
	}
	if !again.Created || again.UserUUID == guest.UserUUID {
		t.Fatalf("stale guest token resumed a promoted account: %+v", again)
	}
}

func TestDisableProviderGuardsLastMethod(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// OAuth-only account: its single link is the only way in
	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "g-4001",
		Email:         "solo@example.com",
		EmailVerified: true,
	})
	sess, err := env.engine.OAuthLogin(ctx, accounts.ProviderGoogle, "code-1", "", "", false, meta("dev-1"))
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}

	if err := env.engine.RequestDisableProvider(ctx, sess.UserUUID, accounts.ProviderGoogle); !errors.Is(err, accounts.ErrLastLoginMethod) {
		t.Fatalf("disable last method = %v, want ErrLastLoginMethod", err)
	}
}

func TestDisableProviderWithPasswordFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess := env.registerUser(t, "tina", "tina@example.com", "tinas-password-123")

	env.provider.add("code-1", &accounts.ProviderProfile{
		ProviderID:    "gh-5",
		Email:         "tina@example.com",
		EmailVerified: true,
	})
	if _, err := env.engine.LinkProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, "code-1"); err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}

	if err := env.engine.RequestDisableProvider(ctx, sess.UserUUID, accounts.ProviderGitHub); err != nil {
		t.Fatalf("RequestDisableProvider: %v", err)
	}
	code := env.mailer.code(t, "tina@example.com")
	if err := env.engine.ConfirmDisableProvider(ctx, sess.UserUUID, accounts.ProviderGitHub, code); err != nil {
		t.Fatalf("ConfirmDisableProvider: %v", err)
	}

	links, _ := env.engine.ListProviderLinks(ctx, sess.UserUUID)
	if len(links) != 1 || links[0].Enabled {
		t.Fatalf("link not disabled: %+v", links)
	}
}
