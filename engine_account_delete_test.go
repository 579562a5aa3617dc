package gameauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/gameauth/cascade"
	"github.com/MrEthical07/gameauth/oauth"
)

type recordingDependents struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingDependents) dependent(name string, counts cascade.Counts, err error) cascade.Dependent {
	return cascade.Func{
		Service: name,
		Fn: func(ctx context.Context, userID string) (cascade.Counts, error) {
			r.mu.Lock()
			r.calls = append(r.calls, name)
			r.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return counts, nil
		},
	}
}

func (r *recordingDependents) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDeleteAccountCascades(t *testing.T) {
	rec := &recordingDependents{}
	github := newFakeProvider("github")
	env := newTestEnv(t, testConfig(), envOptions{
		providers: []oauth.Provider{github},
		dependents: []cascade.Dependent{
			rec.dependent("matches", cascade.Counts{"matches": 3, "replays": 2}, nil),
			rec.dependent("inventory", cascade.Counts{"items": 5}, nil),
		},
	})
	userID := env.addUser(t, "alice")
	env.enableTwoFactor(t, userID)
	github.issue("code-1", oauth.Profile{ProviderUserID: "gh-1"})
	if _, err := env.callback(t, userID, "code-1"); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := env.engine.DeleteAccount(ctx, userID, DeleteRequest{Password: testPassword})
	if err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if summary.TotalDeleted != 10 || summary.Services["matches"]["replays"] != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := rec.called(); len(got) != 2 || got[0] != "matches" || got[1] != "inventory" {
		t.Fatalf("unexpected dependent order: %v", got)
	}

	identity := env.identity(t, userID)
	if identity.IsActive || identity.TwoFactor.Enabled() || len(identity.OAuthProviders) != 0 {
		t.Fatalf("expected deactivated identity with no 2FA or links, got %+v", identity)
	}
	if _, err := env.engine.Login(context.Background(), "alice", testPassword, false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deleted account login to fail, got %v", err)
	}
	if env.engine.metrics.Value(MetricAccountDeleted) != 1 {
		t.Fatal("expected deletion metric")
	}
}

func TestDeleteAccountDependentFailure(t *testing.T) {
	rec := &recordingDependents{}
	env := newTestEnv(t, testConfig(), envOptions{
		dependents: []cascade.Dependent{
			rec.dependent("matches", cascade.Counts{"matches": 1}, nil),
			rec.dependent("inventory", nil, errors.New("inventory unavailable")),
			rec.dependent("social", cascade.Counts{"friends": 1}, nil),
		},
	})
	userID := env.addUser(t, "alice")
	env.enableTwoFactor(t, userID)
	before := env.identity(t, userID)

	_, err := env.engine.DeleteAccount(context.Background(), userID, DeleteRequest{Password: testPassword})
	if !errors.Is(err, ErrCascadeFailed) {
		t.Fatalf("expected ErrCascadeFailed, got %v", err)
	}
	if ErrorCode(err) != "CASCADE_FAILED" {
		t.Fatalf("unexpected code %q", ErrorCode(err))
	}
	if got := rec.called(); len(got) != 2 {
		t.Fatalf("expected the saga to stop at the failing dependent, got %v", got)
	}

	after := env.identity(t, userID)
	if !after.IsActive || !after.TwoFactor.Enabled() || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("identity changed after failed saga: %+v", after)
	}
	if env.engine.metrics.Value(MetricAccountDeleteFailed) != 1 {
		t.Fatal("expected failure metric")
	}
}

func TestDeleteAccountDependentTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Deletion.Timeout = time.Second
	cfg.Deletion.PerServiceTimeout = 20 * time.Millisecond
	env := newTestEnv(t, cfg, envOptions{
		dependents: []cascade.Dependent{cascade.Func{
			Service: "slow",
			Fn: func(ctx context.Context, userID string) (cascade.Counts, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}},
	})
	userID := env.addUser(t, "alice")

	if _, err := env.engine.DeleteAccount(context.Background(), userID, DeleteRequest{Password: testPassword}); !errors.Is(err, ErrCascadeFailed) {
		t.Fatalf("expected ErrCascadeFailed, got %v", err)
	}
	if !env.identity(t, userID).IsActive {
		t.Fatal("identity deactivated after timeout")
	}
}

func TestDeleteAccountProofOfIntent(t *testing.T) {
	rec := &recordingDependents{}
	github := newFakeProvider("github")
	env := newTestEnv(t, testConfig(), envOptions{
		providers:  []oauth.Provider{github},
		dependents: []cascade.Dependent{rec.dependent("matches", nil, nil)},
	})
	ctx := context.Background()
	userID := env.addUser(t, "alice")

	if _, err := env.engine.DeleteAccount(ctx, userID, DeleteRequest{Password: "wrong-password-123"}); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}

	github.issue("code-1", oauth.Profile{ProviderUserID: "gh-1"})
	res, err := env.callback(t, "", "code-1")
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	oauthOnly := res.Identity.ID

	if _, err := env.engine.DeleteAccount(ctx, oauthOnly, DeleteRequest{Confirmation: "delete"}); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if len(rec.called()) != 0 {
		t.Fatal("dependents called before intent was proven")
	}

	phrase := env.engine.Config().Deletion.ConfirmationPhrase
	if _, err := env.engine.DeleteAccount(ctx, oauthOnly, DeleteRequest{Confirmation: phrase}); err != nil {
		t.Fatalf("DeleteAccount with confirmation failed: %v", err)
	}
	if _, err := env.engine.DeleteAccount(ctx, oauthOnly, DeleteRequest{Confirmation: phrase}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected second deletion to fail, got %v", err)
	}
	if _, err := env.engine.DeleteAccount(ctx, "missing", DeleteRequest{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
