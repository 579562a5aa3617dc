package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LoginIdentity is the flow-local view of a credential record.
type LoginIdentity struct {
	UserID           string
	PasswordHash     string
	Active           bool
	TwoFactorEnabled bool
	TwoFactorSecret  string
	// TOTPCounter is the last accepted TOTP time step.
	TOTPCounter int64
}

// LoginResult holds exactly one of Session or ChallengeToken.
type LoginResult struct {
	UserID             string
	Session            *Session
	ChallengeToken     string
	ChallengeExpiresAt time.Time
}

// ChallengeClaims is what a verified challenge token carries.
type ChallengeClaims struct {
	ID       string
	UserID   string
	Extended bool
}

// ChallengeRecord is the server-side ledger entry of a challenge.
type ChallengeRecord struct {
	UserID string
}

// ChallengeProof is a TOTP code or a backup code, never both.
type ChallengeProof struct {
	TOTPCode   string
	BackupCode string
}

// LoginDeps wires the login and challenge flows.
//
// GetUserByLogin and GetUserByID return Errors.UserNotFound for unknown ids;
// GetChallenge returns Errors.InvalidOrExpiredChallenge for missing or
// expired records. Rate limit hooks may be nil.
type LoginDeps struct {
	Observe
	MaxChallengeAttempts int

	Metrics Metrics
	Events  Events
	Errors  Errors

	IsRateLimited      func(error) bool
	CheckLoginRate     func(ctx context.Context, identifier string) error
	IncrementLoginRate func(ctx context.Context, identifier string) error
	ResetLoginRate     func(ctx context.Context, identifier string) error

	GetUserByLogin func(ctx context.Context, identifier string) (LoginIdentity, error)
	GetUserByID    func(ctx context.Context, userID string) (LoginIdentity, error)

	VerifyPassword func(password, encoded string) (bool, error)
	// DummyVerify burns the same work as a real verify so unknown identifiers
	// take as long as wrong passwords.
	DummyVerify     func(password string)
	UpgradePassword func(ctx context.Context, userID, password, encoded string)

	IssueSession   func(ctx context.Context, userID string, extended bool) (*Session, error)
	IssueChallenge func(ctx context.Context, userID string, extended bool) (string, time.Time, error)

	VerifyChallengeToken   func(token string) (ChallengeClaims, error)
	GetChallenge           func(ctx context.Context, id string) (ChallengeRecord, error)
	RecordChallengeFailure func(ctx context.Context, id string, maxAttempts int) (bool, error)
	DeleteChallenge        func(ctx context.Context, id string) (bool, error)

	// Checks are read-only. The commit hooks run only after the challenge is
	// claimed and report false when a concurrent login used the code first.
	VerifyTOTP        func(secret, code string) (int64, bool)
	CommitTOTPCounter func(ctx context.Context, userID string, counter int64) (bool, error)
	HasBackupCode     func(ctx context.Context, userID, code string) (bool, error)
	ConsumeBackupCode func(ctx context.Context, userID, code string) (bool, error)
}

// RunLogin checks credentials and either issues a session or, for accounts
// with an active second factor, a challenge. Unknown identifiers, wrong
// passwords, password-less and inactive accounts all fail the same way.
func RunLogin(ctx context.Context, identifier, password string, extended bool, deps LoginDeps) (*LoginResult, error) {
	deps.normalize()
	identifier = strings.TrimSpace(identifier)

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, identifier); err != nil {
			if deps.IsRateLimited != nil && deps.IsRateLimited(err) {
				deps.MetricInc(deps.Metrics.LoginRateLimited)
				deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", deps.Errors.LoginRateLimited, nil)
				return nil, deps.Errors.LoginRateLimited
			}
			return nil, err
		}
	}

	fail := func(userID string) (*LoginResult, error) {
		if deps.IncrementLoginRate != nil {
			_ = deps.IncrementLoginRate(ctx, identifier)
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, deps.Errors.InvalidCredentials, nil)
		return nil, deps.Errors.InvalidCredentials
	}

	if identifier == "" || password == "" {
		return fail("")
	}

	user, err := deps.GetUserByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			deps.DummyVerify(password)
			return fail("")
		}
		return nil, err
	}
	if !user.Active || user.PasswordHash == "" {
		deps.DummyVerify(password)
		return fail(user.UserID)
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return fail(user.UserID)
	}

	if deps.UpgradePassword != nil {
		deps.UpgradePassword(ctx, user.UserID, password, user.PasswordHash)
	}
	if deps.ResetLoginRate != nil {
		_ = deps.ResetLoginRate(ctx, identifier)
	}

	if user.TwoFactorEnabled {
		token, expiresAt, err := deps.IssueChallenge(ctx, user.UserID, extended)
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.ChallengeIssued)
		deps.EmitAudit(ctx, deps.Events.ChallengeIssued, true, user.UserID, nil, nil)
		return &LoginResult{UserID: user.UserID, ChallengeToken: token, ChallengeExpiresAt: expiresAt}, nil
	}

	session, err := deps.IssueSession(ctx, user.UserID, extended)
	if err != nil {
		return nil, err
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, nil, nil)
	return &LoginResult{UserID: user.UserID, Session: session}, nil
}

// RunCompleteChallenge redeems a challenge token with one proof. A challenge
// is single-use: success deletes it, and so does reaching the attempt cap.
func RunCompleteChallenge(ctx context.Context, token string, proof ChallengeProof, deps LoginDeps) (*Session, error) {
	deps.normalize()

	totpCode := strings.TrimSpace(proof.TOTPCode)
	backupCode := strings.TrimSpace(proof.BackupCode)
	if (totpCode == "") == (backupCode == "") {
		return nil, deps.Errors.InvalidProof
	}

	claims, err := deps.VerifyChallengeToken(token)
	if err != nil {
		return nil, deps.Errors.InvalidOrExpiredChallenge
	}

	record, err := deps.GetChallenge(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if record.UserID != claims.UserID {
		return nil, deps.Errors.InvalidOrExpiredChallenge
	}

	user, err := deps.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			return nil, deps.Errors.InvalidOrExpiredChallenge
		}
		return nil, err
	}
	if !user.Active {
		_, _ = deps.DeleteChallenge(ctx, claims.ID)
		return nil, deps.Errors.AccountInactive
	}
	if !user.TwoFactorEnabled {
		_, _ = deps.DeleteChallenge(ctx, claims.ID)
		return nil, deps.Errors.TwoFactorNotEnabled
	}

	var (
		ok      bool
		counter int64
		method  = "totp"
	)
	if totpCode != "" {
		counter, ok = deps.VerifyTOTP(user.TwoFactorSecret, totpCode)
		ok = ok && counter > user.TOTPCounter
	} else {
		method = "backup_code"
		ok, err = deps.HasBackupCode(ctx, user.UserID, backupCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			deps.MetricInc(deps.Metrics.BackupCodeFailed)
		}
	}
	metadata := func() map[string]string { return map[string]string{"method": method} }

	if !ok {
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		exceeded, err := deps.RecordChallengeFailure(ctx, claims.ID, deps.MaxChallengeAttempts)
		if err != nil {
			return nil, err
		}
		if exceeded {
			deps.MetricInc(deps.Metrics.ChallengeAttemptsExceeded)
			deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, user.UserID, deps.Errors.ChallengeAttemptsExceeded, metadata)
			return nil, deps.Errors.ChallengeAttemptsExceeded
		}
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, user.UserID, deps.Errors.InvalidCode, metadata)
		return nil, deps.Errors.InvalidCode
	}

	// Only the caller that removes the ledger entry may spend the code.
	deleted, err := deps.DeleteChallenge(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, deps.Errors.InvalidOrExpiredChallenge
	}

	var committed bool
	if method == "totp" {
		committed, err = deps.CommitTOTPCounter(ctx, user.UserID, counter)
	} else {
		committed, err = deps.ConsumeBackupCode(ctx, user.UserID, backupCode)
	}
	if err != nil {
		return nil, err
	}
	if !committed {
		if method == "backup_code" {
			deps.MetricInc(deps.Metrics.BackupCodeFailed)
		}
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, user.UserID, deps.Errors.InvalidCode, metadata)
		return nil, deps.Errors.InvalidCode
	}
	if method == "backup_code" {
		deps.MetricInc(deps.Metrics.BackupCodeUsed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, user.UserID, nil, nil)
	}

	session, err := deps.IssueSession(ctx, user.UserID, claims.Extended)
	if err != nil {
		return nil, fmt.Errorf("issue session after challenge: %w", err)
	}
	deps.MetricInc(deps.Metrics.ChallengeSuccess)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.ChallengeSuccess, true, user.UserID, nil, metadata)
	return session, nil
}

func (d *LoginDeps) normalize() {
	d.Observe.normalize()
	if d.DummyVerify == nil {
		d.DummyVerify = func(string) {}
	}
}
