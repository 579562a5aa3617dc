package gameauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/gameauth/cascade"
	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/internal/flows"
	"go.uber.org/zap"
)

// DeleteAccount runs the deletion saga: prove intent, delete data held by
// every dependent service, then deactivate the identity and clear its second
// factor and provider links.
//
// Any dependent failure returns ErrCascadeFailed and leaves the identity
// untouched. Dependents that already succeeded are not rolled back. The saga
// is detached from ctx cancellation and bounded by Deletion.Timeout instead,
// so a client disconnect cannot stop it halfway.
func (e *Engine) DeleteAccount(ctx context.Context, userID string, req DeleteRequest) (*DeletionSummary, error) {
	if e == nil || e.store == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	sagaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Deletion.Timeout)
	defer cancel()

	out, err := flows.RunDeleteAccount(sagaCtx, userID, flows.DeleteRequest{
		Password:     req.Password,
		Confirmation: req.Confirmation,
	}, e.deletionDeps())
	if err != nil {
		return nil, err
	}
	return &DeletionSummary{
		UserID:       out.UserID,
		Services:     out.Services,
		TotalDeleted: out.Total,
		DeletedAt:    out.DeletedAt.UTC(),
		Duration:     out.Duration,
	}, nil
}

func (e *Engine) deletionDeps() flows.DeletionDeps {
	return flows.DeletionDeps{
		Observe:            e.observe(),
		ConfirmationPhrase: e.config.Deletion.ConfirmationPhrase,
		Metrics: flows.Metrics{
			AccountDeleted:      int(MetricAccountDeleted),
			AccountDeleteFailed: int(MetricAccountDeleteFailed),
		},
		Events: flows.Events{
			AccountDeleted:      auditEventAccountDeleted,
			AccountDeleteFailed: auditEventAccountDeleteFailed,
		},
		Errors: flowErrors(),

		GetUserByID: func(ctx context.Context, userID string) (flows.DeleteIdentity, error) {
			identity, err := e.loadIdentity(ctx, userID)
			if err != nil {
				return flows.DeleteIdentity{}, err
			}
			return flows.DeleteIdentity{
				UserID:       identity.ID,
				PasswordHash: identity.PasswordHash,
				Active:       identity.IsActive,
			}, nil
		},
		VerifyPassword:   e.hasher.Verify,
		DeleteDependents: e.deleteDependents,
		Deactivate: func(ctx context.Context, userID string) error {
			_, err := e.update(ctx, userID, func(identity *credstore.Identity) error {
				identity.IsActive = false
				identity.TwoFactor = identity.TwoFactor.Disable()
				identity.OAuthProviders = nil
				return nil
			})
			return err
		},
		ObserveLatency: func(d time.Duration) {
			e.metrics.Observe(MetricDeletionLatency, d)
		},
	}
}

func (e *Engine) deleteDependents(ctx context.Context, userID string) (map[string]map[string]int, error) {
	res, err := cascade.Run(ctx, e.dependents, userID, e.config.Deletion.PerServiceTimeout)
	if err != nil {
		var step *cascade.StepError
		if errors.As(err, &step) {
			e.logger.Warn("dependent deletion failed",
				zap.String("service", step.Service),
				zap.Strings("completed", res.Completed),
				zap.Error(step.Err),
			)
		}
		return nil, err
	}

	out := make(map[string]map[string]int, len(res.Counts))
	for service, counts := range res.Counts {
		out[service] = map[string]int(counts)
	}
	return out, nil
}
