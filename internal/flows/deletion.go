package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DeleteIdentity is the flow-local view used by the deletion saga.
type DeleteIdentity struct {
	UserID       string
	PasswordHash string
	Active       bool
}

// DeleteRequest carries the caller's proof of intent.
type DeleteRequest struct {
	Password     string
	Confirmation string
}

// DeleteOutcome reports per-service counts of a completed saga.
type DeleteOutcome struct {
	UserID    string
	Services  map[string]map[string]int
	Total     int
	DeletedAt time.Time
	Duration  time.Duration
}

type DeletionDeps struct {
	Observe
	ConfirmationPhrase string

	Metrics Metrics
	Events  Events
	Errors  Errors

	GetUserByID    func(ctx context.Context, userID string) (DeleteIdentity, error)
	VerifyPassword func(password, encoded string) (bool, error)

	// DeleteDependents runs every dependent service and returns their counts
	// keyed by service name.
	DeleteDependents func(ctx context.Context, userID string) (map[string]map[string]int, error)
	// Deactivate clears second factor and links and marks the identity
	// inactive in one store update.
	Deactivate func(ctx context.Context, userID string) error

	ObserveLatency func(time.Duration)
}

// RunDeleteAccount proves intent, deletes dependent data, and only then
// deactivates the identity. Any dependent failure aborts before the identity
// is touched.
func RunDeleteAccount(ctx context.Context, userID string, req DeleteRequest, deps DeletionDeps) (*DeleteOutcome, error) {
	deps.Observe.normalize()
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
	}

	user, err := deps.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, deps.Errors.AccountInactive
	}

	if user.PasswordHash != "" {
		ok, err := deps.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil || !ok {
			deps.EmitAudit(ctx, deps.Events.AccountDeleteFailed, false, userID, deps.Errors.InvalidPassword, nil)
			return nil, deps.Errors.InvalidPassword
		}
	} else if req.Confirmation != deps.ConfirmationPhrase {
		return nil, deps.Errors.ConfirmationRequired
	}

	start := deps.Now()
	failed := func(stage string, cause error) (*DeleteOutcome, error) {
		deps.ObserveLatency(deps.Now().Sub(start))
		deps.MetricInc(deps.Metrics.AccountDeleteFailed)
		deps.EmitAudit(ctx, deps.Events.AccountDeleteFailed, false, userID, deps.Errors.CascadeFailed, func() map[string]string {
			return map[string]string{"stage": stage, "cause": cause.Error()}
		})
		return nil, fmt.Errorf("%w: %s: %v", deps.Errors.CascadeFailed, stage, cause)
	}

	services, err := deps.DeleteDependents(ctx, userID)
	if err != nil {
		return failed("dependents", err)
	}
	if err := deps.Deactivate(ctx, userID); err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			return nil, err
		}
		return failed("identity", err)
	}

	outcome := &DeleteOutcome{
		UserID:    userID,
		Services:  services,
		DeletedAt: deps.Now(),
	}
	for _, counts := range services {
		for _, n := range counts {
			outcome.Total += n
		}
	}
	outcome.Duration = outcome.DeletedAt.Sub(start)
	deps.ObserveLatency(outcome.Duration)
	deps.MetricInc(deps.Metrics.AccountDeleted)
	deps.EmitAudit(ctx, deps.Events.AccountDeleted, true, userID, nil, func() map[string]string {
		return map[string]string{"services": fmt.Sprint(len(services)), "records": fmt.Sprint(outcome.Total)}
	})
	return outcome, nil
}
