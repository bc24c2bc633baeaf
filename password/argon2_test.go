package password

import (
	"errors"
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Argon2 {
	t.Helper()
	// small params to keep tests fast
	a, err := NewArgon2(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
		MinLength:   8,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return a
}

func TestHashVerifyRoundTrip(t *testing.T) {
	a := newTestHasher(t)

	encoded, err := a.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash prefix: %s", encoded)
	}

	ok, err := a.Verify("correct horse battery", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("correct password rejected")
	}

	ok, err = a.Verify("wrong password!", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	a := newTestHasher(t)
	if _, err := a.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	a := newTestHasher(t)

	h1, err := a.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := a.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	a := newTestHasher(t)

	for _, bad := range []string{
		"",
		"not a hash",
		"$argon2i$v=19$m=8192,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=1$m=8192,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=19$m=0,t=1,p=1$AAAA$AAAA",
	} {
		if _, err := a.Verify("whatever password", bad); err == nil {
			t.Errorf("malformed hash accepted: %q", bad)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak, err := NewArgon2(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	strong, err := NewArgon2(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	encoded, err := weak.Hash("some long password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	up, err := strong.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if !up {
		t.Fatal("weaker hash not flagged for upgrade")
	}

	up, err = weak.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if up {
		t.Fatal("current-parameter hash flagged for upgrade")
	}
}
