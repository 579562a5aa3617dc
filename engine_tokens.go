package gameauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/gameauth/internal"
	"github.com/MrEthical07/gameauth/internal/stores"
	"github.com/MrEthical07/gameauth/jwt"
)

// IssueSessionPair mints an access token and a refresh token for subjectID.
// The refresh lifetime is ExtendedRefreshTTL when extended is set.
func (e *Engine) IssueSessionPair(ctx context.Context, subjectID string, extended bool) (*SessionPair, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	if subjectID == "" {
		return nil, ErrUserNotFound
	}

	access, accessClaims, err := e.jwt.Issue(subjectID, jwt.PurposeAccess, e.config.JWT.AccessTTL, extended)
	if err != nil {
		return nil, err
	}
	refreshTTL := e.config.JWT.RefreshTTL
	if extended {
		refreshTTL = e.config.JWT.ExtendedRefreshTTL
	}
	refresh, refreshClaims, err := e.jwt.Issue(subjectID, jwt.PurposeRefresh, refreshTTL, extended)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionIssued)
	return &SessionPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAtTime(),
		RefreshExpiresAt: refreshClaims.ExpiresAtTime(),
		Extended:         extended,
	}, nil
}

// IssueChallengeToken mints a 2fa-challenge token and records it in the
// attempt ledger. The token carries extended so the session issued after
// the challenge keeps the original login choice.
func (e *Engine) IssueChallengeToken(ctx context.Context, subjectID string, extended bool) (string, error) {
	token, _, err := e.issueChallenge(ctx, subjectID, extended)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricChallengeIssued)
	return token, nil
}

func (e *Engine) issueChallenge(ctx context.Context, subjectID string, extended bool) (string, time.Time, error) {
	if e == nil || e.jwt == nil || e.challenges == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if subjectID == "" {
		return "", time.Time{}, ErrUserNotFound
	}

	ttl := e.config.JWT.ChallengeTTL
	token, claims, err := e.jwt.Issue(subjectID, jwt.PurposeChallenge, ttl, extended)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := claims.ExpiresAtTime()
	if err := e.challenges.Save(ctx, claims.ID, &stores.Challenge{
		UserID:    subjectID,
		Extended:  extended,
		ExpiresAt: expiresAt.Unix(),
	}, ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return token, expiresAt, nil
}

// VerifyToken checks signature, issuer, audience, expiry and purpose. The
// error is exactly one of ErrTokenExpired, ErrTokenMalformed or
// ErrTokenWrongPurpose.
func (e *Engine) VerifyToken(token string, purpose jwt.Purpose) (*jwt.Claims, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwt.Verify(token, purpose)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrWrongPurpose):
		return ErrTokenWrongPurpose
	default:
		return ErrTokenMalformed
	}
}

// CreateCsrfState stores a fresh single-use state token, optionally bound to
// subjectID, and returns it.
func (e *Engine) CreateCsrfState(ctx context.Context, subjectID string) (string, error) {
	rec, err := e.createState(ctx, subjectID, "", "")
	if err != nil {
		return "", err
	}
	return rec.Token, nil
}

func (e *Engine) createState(ctx context.Context, subjectID, provider, verifier string) (*stores.StateRecord, error) {
	if e == nil || e.states == nil {
		return nil, ErrEngineNotReady
	}
	token, err := internal.NewStateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &stores.StateRecord{
		Token:        token,
		UserID:       subjectID,
		Provider:     provider,
		CodeVerifier: verifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.config.OAuth.StateTTL),
	}
	if err := e.states.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricCsrfStateCreated)
	return rec, nil
}

// ConsumeCsrfState atomically fetches and deletes state. It returns
// (nil, nil) when the token is unknown, expired or already consumed.
func (e *Engine) ConsumeCsrfState(ctx context.Context, state string) (*StateRecord, error) {
	if e == nil || e.states == nil {
		return nil, ErrEngineNotReady
	}
	if !internal.ValidStateToken(state) {
		e.metricInc(MetricCsrfStateRejected)
		return nil, nil
	}

	rec, err := e.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if rec == nil || rec.Expired(time.Now()) {
		e.metricInc(MetricCsrfStateRejected)
		return nil, nil
	}
	return &StateRecord{
		Token:        rec.Token,
		UserID:       rec.UserID,
		Provider:     rec.Provider,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		codeVerifier: rec.CodeVerifier,
	}, nil
}

// RefreshSession rotates a refresh token. Each refresh token is accepted
// once; presenting a rotated token again returns ErrRefreshReuse, and a
// logged-out token returns ErrRefreshInvalid.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*SessionPair, error) {
	if e == nil || e.jwt == nil || e.ledger == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwt.Verify(strings.TrimSpace(refreshToken), jwt.PurposeRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}
	userID := claims.SubjectID()

	identity, err := e.loadIdentity(ctx, userID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	if !identity.IsActive {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	prior, err := e.ledger.Retire(ctx, claims.ID, stores.RetiredRotated, time.Until(claims.ExpiresAtTime()))
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	switch prior {
	case "":
	case stores.RetiredLogout:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	default:
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, false, userID, "", ErrRefreshReuse, nil)
		return nil, ErrRefreshReuse
	}

	pair, err := e.IssueSessionPair(ctx, userID, claims.Extended)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshRotated, true, userID, "", nil, nil)
	return pair, nil
}

// Logout retires refreshToken. Expired or unparseable tokens are ignored.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.jwt == nil || e.ledger == nil {
		return ErrEngineNotReady
	}
	claims, err := e.jwt.Verify(strings.TrimSpace(refreshToken), jwt.PurposeRefresh)
	if err != nil {
		return nil
	}
	if _, err := e.ledger.Retire(ctx, claims.ID, stores.RetiredLogout, time.Until(claims.ExpiresAtTime())); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.SubjectID(), "", nil, nil)
	return nil
}
