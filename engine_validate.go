package gameauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/gameauth/jwt"
)

// ValidationMode selects how much work an access check does.
type ValidationMode int

const (
	// ModeStrict verifies the token and loads the identity, rejecting
	// inactive or deleted accounts.
	ModeStrict ValidationMode = iota
	// ModeJWTOnly verifies the token signature and claims only.
	ModeJWTOnly
)

// Principal is the authenticated caller behind an access token.
type Principal struct {
	UserID    string
	Extended  bool
	ExpiresAt time.Time
}

// Authenticate verifies an access token. Token failures are ErrTokenExpired,
// ErrTokenMalformed or ErrTokenWrongPurpose; in ModeStrict a missing or
// inactive identity is ErrAccountInactive.
func (e *Engine) Authenticate(ctx context.Context, accessToken string, mode ValidationMode) (*Principal, error) {
	claims, err := e.VerifyToken(accessToken, jwt.PurposeAccess)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		UserID:    claims.SubjectID(),
		Extended:  claims.Extended,
		ExpiresAt: claims.ExpiresAtTime(),
	}
	if mode == ModeJWTOnly {
		return p, nil
	}

	identity, err := e.loadIdentity(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAccountInactive
		}
		return nil, err
	}
	if !identity.IsActive {
		return nil, ErrAccountInactive
	}
	return p, nil
}
