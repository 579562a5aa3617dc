package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastParams() Params {
	return Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestArgon2(t *testing.T, p Params) *Argon2 {
	t.Helper()
	h, err := NewArgon2(p)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newTestArgon2(t, fastParams())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher := newTestArgon2(t, fastParams())
	a, _ := hasher.Hash("same-password")
	b, _ := hasher.Hash("same-password")
	if a == b {
		t.Fatal("expected distinct salts per hash")
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	hasher := newTestArgon2(t, fastParams())
	const padded = "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA==$aGFzaGhhc2hoYXNoaGFzaA=="
	ok, err := hasher.Verify("anything", padded)
	if err != nil {
		t.Fatalf("expected padded PHC to parse: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch against synthetic hash")
	}
}

func TestNeedsRehash(t *testing.T) {
	old := newTestArgon2(t, fastParams())
	hash, err := old.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastParams()
	stronger.Memory = 16 * 1024
	current := newTestArgon2(t, stronger)

	if needs, err := current.NeedsRehash(hash); err != nil || !needs {
		t.Fatalf("expected rehash for weaker params: needs=%v err=%v", needs, err)
	}
	if needs, err := old.NeedsRehash(hash); err != nil || needs {
		t.Fatalf("expected no rehash for current params: needs=%v err=%v", needs, err)
	}
}

func TestVerifyRejectsBadHashes(t *testing.T) {
	hasher := newTestArgon2(t, fastParams())
	good, _ := hasher.Hash("version-test")

	cases := map[string]string{
		"not phc":       "not-a-phc-hash",
		"wrong version": strings.Replace(good, "$v=19$", "$v=18$", 1),
		"weak memory":   strings.Replace(good, "m=8192", "m=64", 1),
		"extra param":   strings.Replace(good, "p=1", "p=1,x=2", 1),
		"bad salt":      strings.Replace(good, "$argon2id$v=19$m=8192,t=1,p=1$", "$argon2id$v=19$m=8192,t=1,p=1$!!", 1),
	}
	for name, encoded := range cases {
		if _, err := hasher.Verify("version-test", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%s: expected ErrInvalidHash, got %v", name, err)
		}
	}
}

func TestHashLengthLimits(t *testing.T) {
	hasher := newTestArgon2(t, fastParams())

	if _, err := hasher.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("d", maxPassBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("e", maxPassBytes)); err != nil {
		t.Fatalf("expected max-length password to hash: %v", err)
	}
}

func TestNewArgon2RejectsWeakParams(t *testing.T) {
	p := fastParams()
	p.Memory = 1024
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected weak memory to be rejected")
	}
	p = fastParams()
	p.SaltLength = 8
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestChainVerifiesLegacyBcrypt(t *testing.T) {
	chain := NewChain(newTestArgon2(t, fastParams()))

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := chain.Verify("legacy-password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify: ok=%v err=%v", ok, err)
	}
	ok, _ = chain.Verify("nope-nope-nope", string(legacy))
	if ok {
		t.Fatal("expected wrong password to fail against bcrypt")
	}
	if needs, _ := chain.NeedsRehash(string(legacy)); !needs {
		t.Fatal("expected legacy hash to need rehash")
	}

	fresh, err := chain.Hash("legacy-password")
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	if !strings.HasPrefix(fresh, "$argon2id$") {
		t.Fatalf("expected chain to produce argon2id, got %s", fresh)
	}

	if _, err := chain.Verify("x", "$md5$whatever"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}
