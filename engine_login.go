package gameauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/internal/flows"
	"github.com/MrEthical07/gameauth/internal/rate"
	"github.com/MrEthical07/gameauth/internal/stores"
	"github.com/MrEthical07/gameauth/jwt"
	"go.uber.org/zap"
)

// Login checks identifier and password. Accounts with two-factor enabled get
// a challenge token instead of a session. Every credential failure is
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, identifier, password string, extended bool) (*LoginResult, error) {
	if e == nil || e.store == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	res, err := flows.RunLogin(ctx, identifier, password, extended, e.loginDeps())
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		UserID:             res.UserID,
		Session:            sessionFromFlow(res.Session),
		ChallengeToken:     res.ChallengeToken,
		ChallengeExpiresAt: res.ChallengeExpiresAt,
	}, nil
}

// CompleteChallenge redeems a challenge token with exactly one of a TOTP
// code or a backup code and issues the session the login deferred.
func (e *Engine) CompleteChallenge(ctx context.Context, challengeToken string, proof ChallengeProof) (*SessionPair, error) {
	if e == nil || e.store == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	session, err := flows.RunCompleteChallenge(ctx, challengeToken, flows.ChallengeProof{
		TOTPCode:   proof.TOTPCode,
		BackupCode: proof.BackupCode,
	}, e.loginDeps())
	if err != nil {
		return nil, err
	}
	return sessionFromFlow(session), nil
}

func sessionFromFlow(s *flows.Session) *SessionPair {
	if s == nil {
		return nil
	}
	return &SessionPair{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		Extended:         s.Extended,
	}
}

func loginIdentityFromRecord(identity *credstore.Identity) flows.LoginIdentity {
	return flows.LoginIdentity{
		UserID:           identity.ID,
		PasswordHash:     identity.PasswordHash,
		Active:           identity.IsActive,
		TwoFactorEnabled: identity.TwoFactor.Enabled(),
		TwoFactorSecret:  identity.TwoFactor.Secret(),
		TOTPCounter:      identity.TwoFactor.LastUsedCounter(),
	}
}

func (e *Engine) observe() flows.Observe {
	return flows.Observe{
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string) {
			e.emitAudit(ctx, event, success, userID, "", err, metadata)
		},
	}
}

func flowErrors() flows.Errors {
	return flows.Errors{
		InvalidCredentials:        ErrInvalidCredentials,
		LoginRateLimited:          ErrLoginRateLimited,
		InvalidProof:              ErrInvalidProof,
		InvalidOrExpiredChallenge: ErrInvalidOrExpiredChallenge,
		ChallengeAttemptsExceeded: ErrChallengeAttemptsExceeded,
		TwoFactorNotEnabled:       ErrTwoFactorNotEnabled,
		InvalidCode:               ErrInvalidCode,
		AccountInactive:           ErrAccountInactive,
		UserNotFound:              ErrUserNotFound,
		InvalidPassword:           ErrInvalidPassword,
		ConfirmationRequired:      ErrConfirmationRequired,
		CascadeFailed:             ErrCascadeFailed,
	}
}

func (e *Engine) loginDeps() flows.LoginDeps {
	getUser := func(load func() (*credstore.Identity, error)) (flows.LoginIdentity, error) {
		identity, err := load()
		if err != nil {
			return flows.LoginIdentity{}, mapStoreError(err)
		}
		return loginIdentityFromRecord(identity), nil
	}

	return flows.LoginDeps{
		Observe:              e.observe(),
		MaxChallengeAttempts: e.config.TwoFactor.MaxChallengeAttempts,
		Metrics: flows.Metrics{
			LoginSuccess:              int(MetricLoginSuccess),
			LoginFailure:              int(MetricLoginFailure),
			LoginRateLimited:          int(MetricLoginRateLimited),
			ChallengeIssued:           int(MetricChallengeIssued),
			ChallengeSuccess:          int(MetricChallengeSuccess),
			ChallengeFailure:          int(MetricChallengeFailure),
			ChallengeAttemptsExceeded: int(MetricChallengeAttemptsExceeded),
			BackupCodeUsed:            int(MetricBackupCodeUsed),
			BackupCodeFailed:          int(MetricBackupCodeFailed),
		},
		Events: flows.Events{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
			ChallengeIssued:  auditEventChallengeIssued,
			ChallengeSuccess: auditEventChallengeSuccess,
			ChallengeFailure: auditEventChallengeFailure,
			BackupCodeUsed:   auditEventBackupCodeUsed,
		},
		Errors: flowErrors(),

		IsRateLimited: func(err error) bool { return errors.Is(err, rate.ErrRateLimited) },
		CheckLoginRate: func(ctx context.Context, identifier string) error {
			err := e.limiter.CheckLogin(ctx, identifier, clientIPFromContext(ctx))
			if err != nil && !errors.Is(err, rate.ErrRateLimited) {
				return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			return err
		},
		IncrementLoginRate: func(ctx context.Context, identifier string) error {
			return e.limiter.IncrementLogin(ctx, identifier, clientIPFromContext(ctx))
		},
		ResetLoginRate: func(ctx context.Context, identifier string) error {
			return e.limiter.ResetLogin(ctx, identifier)
		},

		GetUserByLogin: func(ctx context.Context, identifier string) (flows.LoginIdentity, error) {
			return getUser(func() (*credstore.Identity, error) { return e.store.GetByLogin(ctx, identifier) })
		},
		GetUserByID: func(ctx context.Context, userID string) (flows.LoginIdentity, error) {
			return getUser(func() (*credstore.Identity, error) { return e.store.GetByID(ctx, userID) })
		},

		VerifyPassword: e.hasher.Verify,
		DummyVerify: func(password string) {
			_, _ = e.hasher.Verify(password, e.dummyHash)
		},
		UpgradePassword: e.upgradePassword,

		IssueSession: func(ctx context.Context, userID string, extended bool) (*flows.Session, error) {
			pair, err := e.IssueSessionPair(ctx, userID, extended)
			if err != nil {
				return nil, err
			}
			return &flows.Session{
				AccessToken:      pair.AccessToken,
				RefreshToken:     pair.RefreshToken,
				AccessExpiresAt:  pair.AccessExpiresAt,
				RefreshExpiresAt: pair.RefreshExpiresAt,
				Extended:         pair.Extended,
			}, nil
		},
		IssueChallenge: e.issueChallenge,

		VerifyChallengeToken: func(token string) (flows.ChallengeClaims, error) {
			claims, err := e.jwt.Verify(token, jwt.PurposeChallenge)
			if err != nil {
				return flows.ChallengeClaims{}, mapTokenError(err)
			}
			return flows.ChallengeClaims{ID: claims.ID, UserID: claims.SubjectID(), Extended: claims.Extended}, nil
		},
		GetChallenge: func(ctx context.Context, id string) (flows.ChallengeRecord, error) {
			record, err := e.challenges.Get(ctx, id)
			if err != nil {
				return flows.ChallengeRecord{}, mapChallengeError(err)
			}
			return flows.ChallengeRecord{UserID: record.UserID}, nil
		},
		RecordChallengeFailure: func(ctx context.Context, id string, maxAttempts int) (bool, error) {
			exceeded, err := e.challenges.RecordFailure(ctx, id, maxAttempts)
			if err != nil {
				return false, mapChallengeError(err)
			}
			return exceeded, nil
		},
		DeleteChallenge: func(ctx context.Context, id string) (bool, error) {
			deleted, err := e.challenges.Delete(ctx, id)
			if err != nil {
				return false, mapChallengeError(err)
			}
			return deleted, nil
		},

		VerifyTOTP:        e.totp.Validate,
		CommitTOTPCounter: e.useTOTPCounter,
		HasBackupCode:     e.hasBackupCode,
		ConsumeBackupCode: e.consumeBackupCode,
	}
}

func mapChallengeError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
		return ErrInvalidOrExpiredChallenge
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// upgradePassword rehashes legacy or weak hashes after a successful login.
// Failures are logged and never fail the login.
func (e *Engine) upgradePassword(ctx context.Context, userID, plaintext, encoded string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.hasher.NeedsRehash(encoded)
	if err != nil || !stale {
		return
	}
	fresh, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	_, err = e.store.Update(ctx, userID, func(identity *credstore.Identity) error {
		if identity.PasswordHash != encoded {
			return nil
		}
		identity.PasswordHash = fresh
		return nil
	})
	if err != nil {
		e.logger.Warn("password rehash not stored", zap.String("user_id", userID), zap.Error(err))
	}
}
