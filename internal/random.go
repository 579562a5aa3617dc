package internal

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

const stateTokenBytes = 32

// NewStateToken returns 256 random bits, base64url encoded without padding.
func NewStateToken() (string, error) {
	var raw [stateTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidStateToken reports whether token has the shape NewStateToken produces.
// It lets callers reject junk before touching the store.
func ValidStateToken(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(stateTokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

// RandomIndex returns a uniform integer in [0, max).
func RandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
