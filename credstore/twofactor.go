package credstore

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrTwoFactorNoSetup        = errors.New("no two-factor setup in progress")
	ErrTwoFactorSetupMismatch  = errors.New("two-factor setup data mismatch")
	ErrTwoFactorInvalidCode    = errors.New("invalid two-factor code")
	ErrTwoFactorCodeReused     = errors.New("two-factor code already used")
)

// TwoFactorPhase is the tag of the [TwoFactor] variant.
type TwoFactorPhase uint8

const (
	// TwoFactorNotStarted means no secret is staged or active.
	TwoFactorNotStarted TwoFactorPhase = iota
	// TwoFactorPending means a secret and backup codes are staged but unconfirmed.
	TwoFactorPending
	// TwoFactorActive means a confirmed secret protects the account.
	TwoFactorActive
)

func (p TwoFactorPhase) String() string {
	switch p {
	case TwoFactorPending:
		return "pending"
	case TwoFactorActive:
		return "active"
	default:
		return "not_started"
	}
}

// TwoFactor is the enrollment state: NotStarted | Pending{secret, codes} | Active{secret, codes}.
//
// The zero value is NotStarted. Values are immutable; transitions return a new value.
// Backup codes are stored as digests, never as the plaintext shown to the user.
// An active state also remembers the time step of the last accepted TOTP code.
type TwoFactor struct {
	phase       TwoFactorPhase
	secret      string
	codes       []string
	lastCounter int64
}

// NotStarted returns the empty enrollment state.
func NotStarted() TwoFactor { return TwoFactor{} }

// Phase reports the variant tag.
func (t TwoFactor) Phase() TwoFactorPhase { return t.phase }

// Enabled reports whether a confirmed secret is in force.
func (t TwoFactor) Enabled() bool { return t.phase == TwoFactorActive }

// Secret returns the active secret, or "" when not active.
func (t TwoFactor) Secret() string {
	if t.phase != TwoFactorActive {
		return ""
	}
	return t.secret
}

// PendingSecret returns the staged secret, or "" when no setup is in progress.
func (t TwoFactor) PendingSecret() string {
	if t.phase != TwoFactorPending {
		return ""
	}
	return t.secret
}

// BackupCodes returns a copy of the active backup code digests.
func (t TwoFactor) BackupCodes() []string {
	if t.phase != TwoFactorActive {
		return nil
	}
	return append([]string(nil), t.codes...)
}

// LastUsedCounter returns the TOTP time step last accepted, or 0.
func (t TwoFactor) LastUsedCounter() int64 {
	if t.phase != TwoFactorActive {
		return 0
	}
	return t.lastCounter
}

// UseCounter records counter as the newest accepted TOTP time step. A counter
// at or below the recorded one is a replay and fails with ErrTwoFactorCodeReused.
func (t TwoFactor) UseCounter(counter int64) (TwoFactor, error) {
	if t.phase != TwoFactorActive {
		return t, ErrTwoFactorInvalidCode
	}
	if counter <= t.lastCounter {
		return t, ErrTwoFactorCodeReused
	}
	next := t.clone()
	next.lastCounter = counter
	return next, nil
}

// HasBackupCode reports whether digest is in the active set without
// consuming it.
func (t TwoFactor) HasBackupCode(digest string) bool {
	if t.phase != TwoFactorActive || digest == "" {
		return false
	}
	for _, stored := range t.codes {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			return true
		}
	}
	return false
}

// Begin stages a fresh secret and code set, replacing any earlier pending attempt.
func (t TwoFactor) Begin(secret string, codeDigests []string) (TwoFactor, error) {
	if t.phase == TwoFactorActive {
		return t, ErrTwoFactorAlreadyEnabled
	}
	if secret == "" {
		return t, errors.New("empty two-factor secret")
	}
	return TwoFactor{
		phase:  TwoFactorPending,
		secret: secret,
		codes:  append([]string(nil), codeDigests...),
	}, nil
}

// Confirm promotes the pending state to active.
//
// candidateSecret is what the client echoed back and must equal the staged
// secret. verify is called with the staged secret only. Any failure returns the
// receiver unchanged.
func (t TwoFactor) Confirm(candidateSecret string, verify func(secret string) bool) (TwoFactor, error) {
	if t.phase != TwoFactorPending {
		return t, ErrTwoFactorNoSetup
	}
	if subtle.ConstantTimeCompare([]byte(candidateSecret), []byte(t.secret)) != 1 {
		return t, ErrTwoFactorSetupMismatch
	}
	if verify == nil || !verify(t.secret) {
		return t, ErrTwoFactorInvalidCode
	}
	return TwoFactor{
		phase:  TwoFactorActive,
		secret: t.secret,
		codes:  append([]string(nil), t.codes...),
	}, nil
}

// Disable clears every secret and code, staged or active.
func (t TwoFactor) Disable() TwoFactor { return TwoFactor{} }

// ConsumeBackupCode removes digest from the active code set.
// The returned bool reports whether the digest was present.
func (t TwoFactor) ConsumeBackupCode(digest string) (TwoFactor, bool) {
	if t.phase != TwoFactorActive || digest == "" {
		return t, false
	}
	for i, stored := range t.codes {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			remaining := make([]string, 0, len(t.codes)-1)
			remaining = append(remaining, t.codes[:i]...)
			remaining = append(remaining, t.codes[i+1:]...)
			return TwoFactor{phase: TwoFactorActive, secret: t.secret, codes: remaining, lastCounter: t.lastCounter}, true
		}
	}
	return t, false
}

func (t TwoFactor) clone() TwoFactor {
	t.codes = append([]string(nil), t.codes...)
	return t
}

// TwoFactorColumns is the persisted layout: an enabled flag, permanent fields
// and the staging (_tmp) fields. Nil pointers and nil slices are SQL NULL.
type TwoFactorColumns struct {
	Enabled        bool
	Secret         *string
	BackupCodes    []string
	SecretTmp      *string
	BackupCodesTmp []string
	LastCounter    int64
}

// Columns flattens the variant for storage.
func (t TwoFactor) Columns() TwoFactorColumns {
	switch t.phase {
	case TwoFactorActive:
		secret := t.secret
		return TwoFactorColumns{
			Enabled:     true,
			Secret:      &secret,
			BackupCodes: nonNilCodes(t.codes),
			LastCounter: t.lastCounter,
		}
	case TwoFactorPending:
		secret := t.secret
		return TwoFactorColumns{
			SecretTmp:      &secret,
			BackupCodesTmp: nonNilCodes(t.codes),
		}
	default:
		return TwoFactorColumns{}
	}
}

// TwoFactorFromColumns rebuilds the variant, rejecting layouts that no
// transition could have produced.
func TwoFactorFromColumns(c TwoFactorColumns) (TwoFactor, error) {
	hasSecret := c.Secret != nil && *c.Secret != ""
	hasTmp := c.SecretTmp != nil && *c.SecretTmp != ""

	switch {
	case c.Enabled:
		if !hasSecret || hasTmp || c.BackupCodesTmp != nil || c.LastCounter < 0 {
			return TwoFactor{}, ErrInvalidRecord
		}
		return TwoFactor{
			phase:       TwoFactorActive,
			secret:      *c.Secret,
			codes:       append([]string(nil), c.BackupCodes...),
			lastCounter: c.LastCounter,
		}, nil
	case hasTmp:
		if hasSecret || c.BackupCodes != nil || c.LastCounter != 0 {
			return TwoFactor{}, ErrInvalidRecord
		}
		return TwoFactor{phase: TwoFactorPending, secret: *c.SecretTmp, codes: append([]string(nil), c.BackupCodesTmp...)}, nil
	default:
		if hasSecret || c.BackupCodes != nil || c.BackupCodesTmp != nil || c.LastCounter != 0 {
			return TwoFactor{}, ErrInvalidRecord
		}
		return TwoFactor{}, nil
	}
}

func nonNilCodes(codes []string) []string {
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}
