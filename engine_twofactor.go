package gameauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/internal"
	"github.com/MrEthical07/gameauth/internal/flows"
)

// errBackupCodeMiss aborts a store update when the presented code is not in
// the active set.
var errBackupCodeMiss = errors.New("backup code not found")

// errTOTPReplay aborts a store update when the code's time step was already
// accepted.
var errTOTPReplay = errors.New("totp code replayed")

// BeginTwoFactorSetup stages a new secret and backup code set, replacing any
// earlier unconfirmed attempt. It fails with ErrAlreadyEnabled when a
// confirmed secret is already in force.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.loadIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive {
		return nil, ErrAccountInactive
	}
	if identity.TwoFactor.Enabled() {
		e.metricInc(MetricTwoFactorSetupRejected)
		return nil, ErrAlreadyEnabled
	}

	secret, uri, err := e.totp.Generate(accountLabel(identity))
	if err != nil {
		return nil, err
	}
	codes, err := flows.GenerateBackupCodes(userID, e.config.TwoFactor.BackupCodeCount, e.config.TwoFactor.BackupCodeLength, internal.RandomIndex)
	if err != nil {
		return nil, err
	}

	_, err = e.update(ctx, userID, func(identity *credstore.Identity) error {
		next, err := identity.TwoFactor.Begin(secret, codes.Digests)
		if err != nil {
			return err
		}
		identity.TwoFactor = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyEnabled) {
			e.metricInc(MetricTwoFactorSetupRejected)
		}
		return nil, err
	}

	e.metricInc(MetricTwoFactorSetupStarted)
	e.emitAudit(ctx, auditEvent2FASetupStarted, true, userID, "", nil, nil)
	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: uri,
		BackupCodes:     codes.Plain,
	}, nil
}

// VerifyAndEnableTwoFactor promotes the staged secret to active.
//
// candidateSecret is what the client echoed back from setup; a mismatch
// fails with ErrSetupDataMismatch. totpCode is checked against the staged
// secret only. Any failure leaves the stored state untouched.
func (e *Engine) VerifyAndEnableTwoFactor(ctx context.Context, userID, candidateSecret, totpCode string) (*credstore.Identity, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
		if !identity.IsActive {
			return ErrAccountInactive
		}
		var counter int64
		next, err := identity.TwoFactor.Confirm(candidateSecret, func(secret string) bool {
			step, ok := e.totp.Validate(secret, totpCode)
			counter = step
			return ok
		})
		if err != nil {
			return err
		}
		// The enrolling code may not be replayed at the next login.
		if next, err = next.UseCounter(counter); err != nil {
			return err
		}
		identity.TwoFactor = next
		return nil
	})
	if err != nil {
		e.metricInc(MetricTwoFactorSetupRejected)
		return nil, err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEvent2FAEnabled, true, userID, "", nil, nil)
	return identity, nil
}

// DisableTwoFactor clears every staged and active secret and code in one
// update.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID string) (*credstore.Identity, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
		identity.TwoFactor = identity.TwoFactor.Disable()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEvent2FADisabled, true, userID, "", nil, nil)
	return identity, nil
}

// ConsumeBackupCode removes code from the user's active set. It reports
// false, without error, when the code is unknown or already used.
func (e *Engine) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	ok, err := e.consumeBackupCode(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if ok {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, "", nil, nil)
	} else {
		e.metricInc(MetricBackupCodeFailed)
	}
	return ok, nil
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	if flows.CanonicalizeBackupCode(code) == "" {
		return false, nil
	}

	digest := flows.BackupCodeDigest(userID, code)
	_, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
		next, ok := identity.TwoFactor.ConsumeBackupCode(digest)
		if !ok {
			return errBackupCodeMiss
		}
		identity.TwoFactor = next
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errBackupCodeMiss):
		return false, nil
	default:
		return false, err
	}
}

// hasBackupCode checks code against the active set without consuming it.
func (e *Engine) hasBackupCode(ctx context.Context, userID, code string) (bool, error) {
	if flows.CanonicalizeBackupCode(code) == "" {
		return false, nil
	}
	identity, err := e.loadIdentity(ctx, userID)
	if err != nil {
		return false, err
	}
	return identity.TwoFactor.HasBackupCode(flows.BackupCodeDigest(userID, code)), nil
}

// useTOTPCounter advances the last accepted step. It reports false when a
// concurrent login already accepted the same or a later step.
func (e *Engine) useTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	_, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
		next, err := identity.TwoFactor.UseCounter(counter)
		if err != nil {
			return errTOTPReplay
		}
		identity.TwoFactor = next
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errTOTPReplay):
		return false, nil
	default:
		return false, err
	}
}

func accountLabel(identity *credstore.Identity) string {
	switch {
	case identity.Email != "":
		return identity.Email
	case identity.Username != "":
		return identity.Username
	default:
		return identity.ID
	}
}
