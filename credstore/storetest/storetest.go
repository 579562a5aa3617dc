// Package storetest holds the behavioral suite every credstore.Store adapter must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/gameauth/credstore"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) credstore.Store

// Run executes the suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, factory(t)) })
	t.Run("CreateConflicts", func(t *testing.T) { testCreateConflicts(t, factory(t)) })
	t.Run("UpdateAbortLeavesRecord", func(t *testing.T) { testUpdateAbort(t, factory(t)) })
	t.Run("UpdateRejectsLockout", func(t *testing.T) { testUpdateRejectsLockout(t, factory(t)) })
	t.Run("ProviderUniqueness", func(t *testing.T) { testProviderUniqueness(t, factory(t)) })
	t.Run("TwoFactorPersistence", func(t *testing.T) { testTwoFactorPersistence(t, factory(t)) })
	t.Run("ConcurrentBackupConsume", func(t *testing.T) { testConcurrentConsume(t, factory(t)) })
}

func seed(t *testing.T, s credstore.Store, username, email string) *credstore.Identity {
	t.Helper()
	id := &credstore.Identity{
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		IsActive:     true,
	}
	if err := s.Create(context.Background(), id); err != nil {
		t.Fatalf("Create(%s) failed: %v", username, err)
	}
	if id.ID == "" {
		t.Fatal("expected Create to assign an id")
	}
	return id
}

func testCreateAndLookup(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	created := seed(t, s, "Alice", "alice@example.com")

	byID, err := s.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byID.Username != "Alice" || !byID.IsActive || byID.TwoFactor.Phase() != credstore.TwoFactorNotStarted {
		t.Fatalf("unexpected record: %+v", byID)
	}

	for _, login := range []string{"alice", "ALICE@example.com"} {
		got, err := s.GetByLogin(ctx, login)
		if err != nil {
			t.Fatalf("GetByLogin(%q) failed: %v", login, err)
		}
		if got.ID != created.ID {
			t.Fatalf("GetByLogin(%q) returned %s", login, got.ID)
		}
	}

	if _, err := s.GetByEmail(ctx, "Alice@Example.com"); err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if _, err := s.GetByLogin(ctx, "nobody"); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateConflicts(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	seed(t, s, "bob", "bob@example.com")

	dup := &credstore.Identity{Username: "BOB", Email: "other@example.com", PasswordHash: "h", IsActive: true}
	if err := s.Create(ctx, dup); !errors.Is(err, credstore.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}
	dup = &credstore.Identity{Username: "robert", Email: "bob@example.com", PasswordHash: "h", IsActive: true}
	if err := s.Create(ctx, dup); !errors.Is(err, credstore.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}
}

func testUpdateAbort(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	created := seed(t, s, "carol", "carol@example.com")

	boom := errors.New("boom")
	_, err := s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		id.Username = "mallory"
		id.EmailVerified = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}

	got, err := s.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Username != "carol" || got.EmailVerified {
		t.Fatal("expected aborted mutation to leave the record untouched")
	}

	if _, err := s.Update(ctx, "missing", func(*credstore.Identity) error { return nil }); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUpdateRejectsLockout(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	created := seed(t, s, "dave", "dave@example.com")

	_, err := s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		id.PasswordHash = ""
		return nil
	})
	if err == nil {
		t.Fatal("expected store to reject an active identity without login methods")
	}
	got, _ := s.GetByID(ctx, created.ID)
	if !got.HasPassword() {
		t.Fatal("expected password hash to survive rejected update")
	}
}

func testProviderUniqueness(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	first := seed(t, s, "erin", "erin@example.com")
	second := seed(t, s, "frank", "frank@example.com")

	linkedAt := time.Now().UTC().Truncate(time.Second)
	updated, err := s.Update(ctx, first.ID, func(id *credstore.Identity) error {
		if id.OAuthProviders == nil {
			id.OAuthProviders = map[string]credstore.OAuthLink{}
		}
		id.OAuthProviders["discord"] = credstore.OAuthLink{ProviderUserID: "d-42", LinkedAt: linkedAt}
		return nil
	})
	if err != nil {
		t.Fatalf("link update failed: %v", err)
	}
	if updated.OAuthProviders["discord"].ProviderUserID != "d-42" {
		t.Fatal("expected link in returned record")
	}

	byProvider, err := s.GetByProvider(ctx, "discord", "d-42")
	if err != nil {
		t.Fatalf("GetByProvider failed: %v", err)
	}
	if byProvider.ID != first.ID {
		t.Fatalf("expected provider lookup to return %s, got %s", first.ID, byProvider.ID)
	}

	_, err = s.Update(ctx, second.ID, func(id *credstore.Identity) error {
		id.OAuthProviders = map[string]credstore.OAuthLink{"discord": {ProviderUserID: "d-42", LinkedAt: linkedAt}}
		return nil
	})
	if !errors.Is(err, credstore.ErrProviderConflict) {
		t.Fatalf("expected ErrProviderConflict, got %v", err)
	}
	got, _ := s.GetByID(ctx, second.ID)
	if len(got.OAuthProviders) != 0 {
		t.Fatal("expected conflicting link not to be persisted")
	}

	_, err = s.Update(ctx, first.ID, func(id *credstore.Identity) error {
		delete(id.OAuthProviders, "discord")
		return nil
	})
	if err != nil {
		t.Fatalf("unlink update failed: %v", err)
	}
	if _, err := s.GetByProvider(ctx, "discord", "d-42"); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected provider lookup miss after unlink, got %v", err)
	}

	oauthOnly := &credstore.Identity{
		Email:          "gina@example.com",
		OAuthProviders: map[string]credstore.OAuthLink{"discord": {ProviderUserID: "d-42", LinkedAt: linkedAt}},
		IsActive:       true,
	}
	if err := s.Create(ctx, oauthOnly); err != nil {
		t.Fatalf("Create oauth-only failed: %v", err)
	}
	dup := &credstore.Identity{
		Email:          "hank@example.com",
		OAuthProviders: map[string]credstore.OAuthLink{"discord": {ProviderUserID: "d-42", LinkedAt: linkedAt}},
		IsActive:       true,
	}
	if err := s.Create(ctx, dup); !errors.Is(err, credstore.ErrProviderConflict) {
		t.Fatalf("expected ErrProviderConflict on create, got %v", err)
	}
}

func testTwoFactorPersistence(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	created := seed(t, s, "ivy", "ivy@example.com")

	_, err := s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		next, err := id.TwoFactor.Begin("JBSWY3DPEHPK3PXP", []string{"c1", "c2", "c3"})
		if err != nil {
			return err
		}
		id.TwoFactor = next
		return nil
	})
	if err != nil {
		t.Fatalf("begin update failed: %v", err)
	}

	got, _ := s.GetByID(ctx, created.ID)
	if got.TwoFactor.Phase() != credstore.TwoFactorPending || got.TwoFactor.PendingSecret() != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("expected pending state persisted, got %s", got.TwoFactor.Phase())
	}

	_, err = s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		next, err := id.TwoFactor.Confirm("JBSWY3DPEHPK3PXP", func(string) bool { return true })
		if err != nil {
			return err
		}
		id.TwoFactor = next
		return nil
	})
	if err != nil {
		t.Fatalf("confirm update failed: %v", err)
	}

	got, _ = s.GetByID(ctx, created.ID)
	if !got.TwoFactor.Enabled() || len(got.TwoFactor.BackupCodes()) != 3 {
		t.Fatal("expected active state with three codes persisted")
	}

	_, err = s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		next, err := id.TwoFactor.UseCounter(59_000_000)
		if err != nil {
			return err
		}
		id.TwoFactor = next
		return nil
	})
	if err != nil {
		t.Fatalf("counter update failed: %v", err)
	}
	got, _ = s.GetByID(ctx, created.ID)
	if got.TwoFactor.LastUsedCounter() != 59_000_000 {
		t.Fatalf("expected last counter persisted, got %d", got.TwoFactor.LastUsedCounter())
	}
	_, err = s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		next, err := id.TwoFactor.UseCounter(59_000_000)
		if err != nil {
			return err
		}
		id.TwoFactor = next
		return nil
	})
	if !errors.Is(err, credstore.ErrTwoFactorCodeReused) {
		t.Fatalf("expected reused counter to abort the update, got %v", err)
	}

	_, err = s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		id.TwoFactor = id.TwoFactor.Disable()
		return nil
	})
	if err != nil {
		t.Fatalf("disable update failed: %v", err)
	}
	got, _ = s.GetByID(ctx, created.ID)
	if got.TwoFactor.Phase() != credstore.TwoFactorNotStarted {
		t.Fatal("expected disabled state persisted")
	}
}

func testConcurrentConsume(t *testing.T, s credstore.Store) {
	ctx := context.Background()
	created := seed(t, s, "jack", "jack@example.com")

	_, err := s.Update(ctx, created.ID, func(id *credstore.Identity) error {
		pending, err := id.TwoFactor.Begin("SECRET", []string{"only"})
		if err != nil {
			return err
		}
		active, err := pending.Confirm("SECRET", func(string) bool { return true })
		if err != nil {
			return err
		}
		id.TwoFactor = active
		return nil
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	errConsumed := errors.New("not present")
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, created.ID, func(id *credstore.Identity) error {
				next, ok := id.TwoFactor.ConsumeBackupCode("only")
				if !ok {
					return errConsumed
				}
				id.TwoFactor = next
				return nil
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins.Load())
	}
}
