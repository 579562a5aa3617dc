package gameauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/internal/rate"
	"github.com/MrEthical07/gameauth/oauth"
	"go.uber.org/zap"
)

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (e *Engine) provider(name string) (oauth.Provider, string, error) {
	key := providerKey(name)
	p, ok := e.providers.Get(key)
	if !ok {
		return nil, "", ErrUnknownProvider
	}
	return p, key, nil
}

// BeginLink mints a CSRF state carrying a PKCE verifier and returns the
// provider authorization URL. userID binds the state to an authenticated
// subject for an explicit link; empty means a login or sign-up flow.
func (e *Engine) BeginLink(ctx context.Context, provider, userID string) (*LinkStart, error) {
	if e == nil || e.states == nil || e.limiter == nil {
		return nil, ErrEngineNotReady
	}
	p, key, err := e.provider(provider)
	if err != nil {
		return nil, err
	}

	subject := userID
	if subject == "" {
		subject = "ip:" + clientIPFromContext(ctx)
	}
	if err := e.limiter.AllowLinkStart(ctx, subject); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, auditEventOAuthLinkStarted, false, userID, key, ErrLinkRateLimited, nil)
			return nil, ErrLinkRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	verifier := oauth.NewVerifier()
	rec, err := e.createState(ctx, userID, key, verifier)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOAuthLinkStarted)
	e.emitAudit(ctx, auditEventOAuthLinkStarted, true, userID, key, nil, nil)
	return &LinkStart{
		Provider:  key,
		URL:       p.AuthCodeURL(rec.Token, verifier),
		State:     rec.Token,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// HandleCallback completes a provider redirect.
//
// The state is consumed first, so a callback can be processed once. A state
// bound to a subject attaches the provider identity to that subject. An
// unbound state logs in the identity already linked to the provider
// identity, links it to the account owning the same verified email, or
// creates a new account. A provider identity never resolves to more than
// one local identity.
func (e *Engine) HandleCallback(ctx context.Context, provider string, cb CallbackParams) (*CallbackResult, error) {
	if e == nil || e.states == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	p, key, err := e.provider(provider)
	if err != nil {
		return nil, err
	}

	if cb.Error != "" {
		// Burn the state so the redirect cannot be replayed after a denial.
		if cb.State != "" {
			_, _ = e.ConsumeCsrfState(ctx, cb.State)
		}
		perr := oauth.CallbackError(key, cb.Error, cb.ErrorDescription)
		return nil, e.oauthFailure(ctx, key, cb.SubjectID, perr)
	}

	rec, err := e.ConsumeCsrfState(ctx, cb.State)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Provider != key {
		e.emitAudit(ctx, auditEventOAuthFailure, false, cb.SubjectID, key, ErrInvalidState, nil)
		return nil, ErrInvalidState
	}
	// A link state only completes for the account that started it, so a link
	// URL handed to someone else cannot attach their identity.
	if rec.UserID != "" && rec.UserID != cb.SubjectID {
		reason := "subject_mismatch"
		if cb.SubjectID == "" {
			reason = "subject_missing"
		}
		e.emitAudit(ctx, auditEventOAuthFailure, false, rec.UserID, key, ErrInvalidState, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, ErrInvalidState
	}
	if strings.TrimSpace(cb.Code) == "" {
		return nil, e.oauthFailure(ctx, key, rec.UserID, &oauth.ProviderError{Provider: key, Kind: oauth.KindCallback, Code: "missing_code"})
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, e.config.OAuth.ProviderTimeout)
	profile, err := p.Exchange(exchangeCtx, cb.Code, rec.codeVerifier)
	cancel()
	if err != nil {
		return nil, e.oauthFailure(ctx, key, rec.UserID, err)
	}

	if rec.UserID != "" {
		identity, err := e.linkProvider(ctx, rec.UserID, key, profile)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{Identity: identity, Linked: true}, nil
	}
	return e.providerLogin(ctx, key, profile)
}

func (e *Engine) oauthFailure(ctx context.Context, key, userID string, cause error) error {
	e.metricInc(MetricOAuthProviderError)
	e.emitAudit(ctx, auditEventOAuthFailure, false, userID, key, ErrProviderError, func() map[string]string {
		var perr *oauth.ProviderError
		if errors.As(cause, &perr) {
			return map[string]string{"kind": string(perr.Kind), "code": perr.Code}
		}
		return nil
	})
	e.logger.Debug("oauth provider failure", zap.String("provider", key), zap.Error(cause))
	return fmt.Errorf("%w: %w", ErrProviderError, cause)
}

// linkProvider attaches profile to userID after checking the provider
// identity is not owned by someone else.
func (e *Engine) linkProvider(ctx context.Context, userID, key string, profile *oauth.Profile) (*credstore.Identity, error) {
	owner, err := e.store.GetByProvider(ctx, key, profile.ProviderUserID)
	switch {
	case err == nil && owner.ID != userID:
		return nil, e.alreadyLinked(ctx, userID, key)
	case err == nil:
		return owner, nil
	case !errors.Is(err, credstore.ErrNotFound):
		return nil, mapStoreError(err)
	}

	identity, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
		if !identity.IsActive {
			return ErrAccountInactive
		}
		if link, ok := identity.OAuthProviders[key]; ok && link.ProviderUserID != profile.ProviderUserID {
			return ErrAlreadyLinked
		}
		if identity.OAuthProviders == nil {
			identity.OAuthProviders = make(map[string]credstore.OAuthLink, 1)
		}
		identity.OAuthProviders[key] = credstore.OAuthLink{
			ProviderUserID: profile.ProviderUserID,
			LinkedAt:       time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			return nil, e.alreadyLinked(ctx, userID, key)
		}
		return nil, err
	}

	e.metricInc(MetricOAuthLinked)
	e.emitAudit(ctx, auditEventOAuthLinked, true, userID, key, nil, nil)
	return identity, nil
}

func (e *Engine) alreadyLinked(ctx context.Context, userID, key string) error {
	e.metricInc(MetricOAuthAlreadyLinked)
	e.emitAudit(ctx, auditEventOAuthLinked, false, userID, key, ErrAlreadyLinked, nil)
	return ErrAlreadyLinked
}

func (e *Engine) providerLogin(ctx context.Context, key string, profile *oauth.Profile) (*CallbackResult, error) {
	result := &CallbackResult{}

	identity, err := e.store.GetByProvider(ctx, key, profile.ProviderUserID)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			return nil, mapStoreError(err)
		}
		identity = nil
	}

	if identity == nil && e.config.OAuth.AutoLinkVerifiedEmail && profile.EmailVerified && profile.Email != "" {
		owner, err := e.store.GetByEmail(ctx, profile.Email)
		switch {
		case err == nil:
			if identity, err = e.linkProvider(ctx, owner.ID, key, profile); err != nil {
				return nil, err
			}
			result.Linked = true
		case !errors.Is(err, credstore.ErrNotFound):
			return nil, mapStoreError(err)
		}
	}

	if identity == nil {
		if !e.config.OAuth.AllowSignup {
			return nil, ErrNotLinked
		}
		if identity, err = e.createFromProfile(ctx, key, profile); err != nil {
			return nil, err
		}
		result.Created = true
	}
	if !identity.IsActive {
		e.emitAudit(ctx, auditEventOAuthLogin, false, identity.ID, key, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}
	result.Identity = identity

	if identity.TwoFactor.Enabled() {
		token, expiresAt, err := e.issueChallenge(ctx, identity.ID, false)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricChallengeIssued)
		e.emitAudit(ctx, auditEventChallengeIssued, true, identity.ID, key, nil, nil)
		result.ChallengeToken = token
		result.ChallengeExpiresAt = expiresAt
		return result, nil
	}

	session, err := e.IssueSessionPair(ctx, identity.ID, false)
	if err != nil {
		return nil, err
	}
	result.Session = session
	e.metricInc(MetricOAuthLogin)
	e.emitAudit(ctx, auditEventOAuthLogin, true, identity.ID, key, nil, nil)
	return result, nil
}

// createFromProfile creates an OAuth-only account. An unverified email, or
// one already held by another account, is not copied onto the new record.
func (e *Engine) createFromProfile(ctx context.Context, key string, profile *oauth.Profile) (*credstore.Identity, error) {
	identity := &credstore.Identity{
		EmailVerified: profile.EmailVerified,
		IsActive:      true,
		OAuthProviders: map[string]credstore.OAuthLink{
			key: {ProviderUserID: profile.ProviderUserID, LinkedAt: time.Now().UTC()},
		},
	}
	if profile.EmailVerified {
		identity.Email = profile.Email
	}

	err := e.store.Create(ctx, identity)
	if errors.Is(err, credstore.ErrConflict) && identity.Email != "" {
		identity.Email = ""
		identity.EmailVerified = false
		identity.ID = ""
		err = e.store.Create(ctx, identity)
	}
	if err != nil {
		if errors.Is(err, credstore.ErrProviderConflict) {
			return nil, e.alreadyLinked(ctx, "", key)
		}
		return nil, mapStoreError(err)
	}

	e.metricInc(MetricOAuthAccountCreated)
	e.emitAudit(ctx, auditEventOAuthAccountCreated, true, identity.ID, key, nil, nil)
	return identity, nil
}

// Unlink removes provider from userID. It fails with ErrNotLinked when the
// provider is absent and with ErrNoAlternativeLogin when it is the last way
// to sign in.
func (e *Engine) Unlink(ctx context.Context, userID, provider string) (*credstore.Identity, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	key := providerKey(provider)

	identity, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
		if _, ok := identity.OAuthProviders[key]; !ok {
			return ErrNotLinked
		}
		if identity.LoginMethods() <= 1 {
			return ErrNoAlternativeLogin
		}
		delete(identity.OAuthProviders, key)
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventOAuthUnlinked, false, userID, key, err, nil)
		return nil, err
	}

	e.metricInc(MetricOAuthUnlinked)
	e.emitAudit(ctx, auditEventOAuthUnlinked, true, userID, key, nil, nil)
	return identity, nil
}
