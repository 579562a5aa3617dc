package flows

import (
	"context"
	"time"
)

// Session is the flow-local session shape returned by IssueSession.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Extended         bool
}

// Metrics carries the host metric ids used by flows.
type Metrics struct {
	LoginSuccess              int
	LoginFailure              int
	LoginRateLimited          int
	ChallengeIssued           int
	ChallengeSuccess          int
	ChallengeFailure          int
	ChallengeAttemptsExceeded int
	BackupCodeUsed            int
	BackupCodeFailed          int
	AccountDeleted            int
	AccountDeleteFailed       int
}

// Events carries the audit event names used by flows.
type Events struct {
	LoginSuccess        string
	LoginFailure        string
	LoginRateLimited    string
	ChallengeIssued     string
	ChallengeSuccess    string
	ChallengeFailure    string
	BackupCodeUsed      string
	AccountDeleted      string
	AccountDeleteFailed string
}

// Errors carries the host sentinels flows return.
type Errors struct {
	InvalidCredentials        error
	LoginRateLimited          error
	InvalidProof              error
	InvalidOrExpiredChallenge error
	ChallengeAttemptsExceeded error
	TwoFactorNotEnabled       error
	InvalidCode               error
	AccountInactive           error
	UserNotFound              error
	InvalidPassword           error
	ConfirmationRequired      error
	CascadeFailed             error
}

// Observe groups the side channels every flow reports through.
type Observe struct {
	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)
	Now       func() time.Time
}

func (o *Observe) normalize() {
	if o.MetricInc == nil {
		o.MetricInc = func(int) {}
	}
	if o.EmitAudit == nil {
		o.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
