package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Counts maps a record kind to how many rows a dependent removed.
type Counts map[string]int

// Total sums every kind.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Dependent is a service holding user-owned data that must be removed before
// the identity is deactivated.
type Dependent interface {
	Name() string
	DeleteUserData(ctx context.Context, userID string) (Counts, error)
}

// Func adapts a function to [Dependent].
type Func struct {
	Service string
	Fn      func(ctx context.Context, userID string) (Counts, error)
}

func (f Func) Name() string { return f.Service }

func (f Func) DeleteUserData(ctx context.Context, userID string) (Counts, error) {
	return f.Fn(ctx, userID)
}

// StepError reports which dependent failed.
type StepError struct {
	Service string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("delete user data in %s: %v", e.Service, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is the per-service outcome of a run. Completed lists services that
// already deleted data, in call order, including on failure.
type Result struct {
	Counts    map[string]Counts
	Completed []string
}

// Run calls every dependent in order, each bounded by perService, and stops
// at the first failure. Services completed before the failure keep their
// deletions; the returned Result says which.
func Run(ctx context.Context, deps []Dependent, userID string, perService time.Duration) (Result, error) {
	res := Result{Counts: make(map[string]Counts, len(deps))}
	if userID == "" {
		return res, errors.New("user id is required")
	}

	for _, dep := range deps {
		if err := ctx.Err(); err != nil {
			return res, &StepError{Service: dep.Name(), Err: err}
		}

		counts, err := callOne(ctx, dep, userID, perService)
		if err != nil {
			return res, &StepError{Service: dep.Name(), Err: err}
		}
		if counts == nil {
			counts = Counts{}
		}
		res.Counts[dep.Name()] = counts
		res.Completed = append(res.Completed, dep.Name())
	}
	return res, nil
}

func callOne(ctx context.Context, dep Dependent, userID string, timeout time.Duration) (Counts, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		counts Counts
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		counts, err := dep.DeleteUserData(ctx, userID)
		done <- outcome{counts, err}
	}()

	// A dependent that ignores ctx still cannot hold the saga past its deadline.
	select {
	case out := <-done:
		return out.counts, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
