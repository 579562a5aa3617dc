package gameauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/gameauth/cascade"
	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/internal/audit"
	"github.com/MrEthical07/gameauth/internal/rate"
	"github.com/MrEthical07/gameauth/internal/stores"
	"github.com/MrEthical07/gameauth/jwt"
	"github.com/MrEthical07/gameauth/oauth"
	"github.com/MrEthical07/gameauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the authentication core. It is safe for concurrent use once
// built and must not be copied.
type Engine struct {
	config     Config
	logger     *zap.Logger
	redis      redis.UniversalClient
	store      credstore.Store
	providers  *oauth.Registry
	dependents []cascade.Dependent
	jwt        *jwt.Manager
	hasher     *password.Chain
	dummyHash  string
	totp       *totpManager
	states     stores.StateStore
	challenges *stores.ChallengeStore
	ledger     *stores.RefreshLedger
	limiter    *rate.Limiter
	audit      *audit.Dispatcher
	metrics    *Metrics

	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Close stops the state sweeper and drains pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepStop != nil {
			close(e.sweepStop)
			<-e.sweepDone
		}
		e.audit.Close()
	})
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Providers lists the configured OAuth provider keys.
func (e *Engine) Providers() []string {
	if e == nil || e.providers == nil {
		return nil
	}
	return e.providers.Names()
}

// HashPassword hashes plaintext with the engine's primary hasher.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(plaintext)
}

// Identity loads an identity by id.
func (e *Engine) Identity(ctx context.Context, userID string) (*credstore.Identity, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	return e.loadIdentity(ctx, userID)
}

// Ping checks Redis and, when it supports it, the credential store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.redis == nil {
		return ErrEngineNotReady
	}
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", ErrBackendUnavailable, err)
	}
	if p, ok := e.store.(credstore.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: store: %v", ErrBackendUnavailable, err)
		}
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) loadIdentity(ctx context.Context, userID string) (*credstore.Identity, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	identity, err := e.store.GetByID(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return identity, nil
}

// update runs mutate inside one store transaction and maps store errors.
func (e *Engine) update(ctx context.Context, userID string, mutate credstore.Mutation) (*credstore.Identity, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	identity, err := e.store.Update(ctx, userID, mutate)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return identity, nil
}

func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	err = mapTwoFactorError(err)
	switch {
	case errors.Is(err, errBackupCodeMiss), errors.Is(err, errTOTPReplay):
		return err
	case errors.Is(err, credstore.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, credstore.ErrProviderConflict):
		return ErrAlreadyLinked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, credstore.ErrConflict), errors.Is(err, credstore.ErrInvalidRecord):
		return err
	}
	if ErrorCode(err) != "INTERNAL" {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (e *Engine) startSweeper() {
	if e.config.OAuth.StateBackend != StateBackendMemory || e.config.OAuth.SweepInterval <= 0 {
		return
	}
	e.sweepStop = make(chan struct{})
	e.sweepDone = make(chan struct{})

	go func() {
		defer close(e.sweepDone)
		ticker := time.NewTicker(e.config.OAuth.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.sweepStop:
				return
			case <-ticker.C:
				e.sweepStates()
			}
		}
	}()
}

func (e *Engine) sweepStates() int {
	n, err := e.states.Sweep(context.Background())
	if err != nil {
		e.logger.Warn("csrf state sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricStateSwept, uint64(n))
	}
	return n
}
