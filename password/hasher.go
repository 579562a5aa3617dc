package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned when no hasher recognises the encoded form.
var ErrUnsupportedHash = errors.New("unsupported password hash")

// Hasher produces and checks encoded password hashes. Verify returns
// (false, nil) for a wrong password and an error only for unusable hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Rehasher is implemented by hashers that can tell when a stored hash was
// produced with weaker parameters than the current ones.
type Rehasher interface {
	NeedsRehash(encoded string) (bool, error)
}

// Bcrypt verifies legacy bcrypt hashes. It never produces new ones.
type Bcrypt struct{}

func (Bcrypt) Hash(string) (string, error) {
	return "", errors.New("bcrypt hasher is verify-only")
}

func (Bcrypt) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// Chain hashes with Primary and verifies whatever format the stored hash is in.
type Chain struct {
	Primary *Argon2
	Legacy  Bcrypt
}

// NewChain wraps primary with legacy bcrypt verification.
func NewChain(primary *Argon2) *Chain {
	return &Chain{Primary: primary}
}

func (c *Chain) Hash(password string) (string, error) {
	return c.Primary.Hash(password)
}

func (c *Chain) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$"+algorithmID+"$"):
		return c.Primary.Verify(password, encoded)
	case isBcrypt(encoded):
		return c.Legacy.Verify(password, encoded)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash is true for every legacy hash and for weak argon2id parameters.
func (c *Chain) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	return c.Primary.NeedsRehash(encoded)
}

var (
	_ Hasher   = (*Argon2)(nil)
	_ Hasher   = Bcrypt{}
	_ Hasher   = (*Chain)(nil)
	_ Rehasher = (*Chain)(nil)
)
