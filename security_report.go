package gameauth

import "time"

// SecurityReport summarizes the security posture of a built engine. It holds
// no key material.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	ExtendedRefreshTTL    time.Duration
	ChallengeTTL          time.Duration
	Argon2                PasswordConfigReport
	TOTPDigits            int
	TOTPSkew              uint
	BackupCodeCount       int
	MaxChallengeAttempts  int
	StateBackend          StateBackend
	StateTTL              time.Duration
	AutoLinkVerifiedEmail bool
	OAuthSignupAllowed    bool
	Providers             []string
	Dependents            []string
	LoginRateLimitActive  bool
	LinkRateLimitActive   bool
	AuditEnabled          bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	dependents := make([]string, 0, len(e.dependents))
	for _, d := range e.dependents {
		dependents = append(dependents, d.Name())
	}

	return SecurityReport{
		SigningAlgorithm:   e.config.JWT.SigningMethod,
		AccessTTL:          e.config.JWT.AccessTTL,
		RefreshTTL:         e.config.JWT.RefreshTTL,
		ExtendedRefreshTTL: e.config.JWT.ExtendedRefreshTTL,
		ChallengeTTL:       e.config.JWT.ChallengeTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		TOTPDigits:            e.config.TwoFactor.Digits,
		TOTPSkew:              e.config.TwoFactor.Skew,
		BackupCodeCount:       e.config.TwoFactor.BackupCodeCount,
		MaxChallengeAttempts:  e.config.TwoFactor.MaxChallengeAttempts,
		StateBackend:          e.config.OAuth.StateBackend,
		StateTTL:              e.config.OAuth.StateTTL,
		AutoLinkVerifiedEmail: e.config.OAuth.AutoLinkVerifiedEmail,
		OAuthSignupAllowed:    e.config.OAuth.AllowSignup,
		Providers:             e.Providers(),
		Dependents:            dependents,
		LoginRateLimitActive:  e.config.RateLimit.MaxLoginAttempts > 0 && e.config.RateLimit.LoginCooldown > 0,
		LinkRateLimitActive:   e.config.OAuth.MaxLinkStarts > 0,
		AuditEnabled:          e.config.Audit.Enabled,
	}
}
