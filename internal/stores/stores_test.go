package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newRecord(token string, now time.Time) *StateRecord {
	return &StateRecord{
		Token:        token,
		UserID:       "user-1",
		Provider:     "discord",
		CodeVerifier: "verifier",
		CreatedAt:    now,
		ExpiresAt:    now.Add(5 * time.Minute),
	}
}

func stateStores(t *testing.T) map[string]StateStore {
	_, rdb := newTestRedis(t)
	return map[string]StateStore{
		"redis":  NewRedisStateStore(rdb, "test"),
		"memory": NewMemoryStateStore(),
	}
}

func TestStateConsumeIsOneTime(t *testing.T) {
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, newRecord("tok-1", time.Now())); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			rec, err := store.Consume(ctx, "tok-1")
			if err != nil || rec == nil {
				t.Fatalf("expected first consume to return the record: rec=%v err=%v", rec, err)
			}
			if rec.Token != "tok-1" || rec.UserID != "user-1" || rec.Provider != "discord" || rec.CodeVerifier != "verifier" {
				t.Fatalf("unexpected record: %+v", rec)
			}

			rec, err = store.Consume(ctx, "tok-1")
			if err != nil || rec != nil {
				t.Fatalf("expected second consume to return nil: rec=%v err=%v", rec, err)
			}

			rec, err = store.Consume(ctx, "never-issued")
			if err != nil || rec != nil {
				t.Fatalf("expected unknown token to return nil: rec=%v err=%v", rec, err)
			}
		})
	}
}

func TestStateConcurrentConsumeSingleWinner(t *testing.T) {
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, newRecord("race", time.Now())); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, err := store.Consume(ctx, "race")
					if err == nil && rec != nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			if wins.Load() != 1 {
				t.Fatalf("expected exactly one winner, got %d", wins.Load())
			}
		})
	}
}

func TestRedisStateExpiredIsDeletedLazily(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisStateStore(rdb, "test")
	ctx := context.Background()

	issued := time.Now()
	if err := store.Put(ctx, newRecord("old", issued)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	store.now = func() time.Time { return issued.Add(6 * time.Minute) }
	rec, err := store.Consume(ctx, "old")
	if err != nil || rec != nil {
		t.Fatalf("expected expired record to be rejected: rec=%v err=%v", rec, err)
	}
	if mr.Exists("test:st:old") {
		t.Fatal("expected expired record to be removed")
	}
}

func TestRedisStateTTLMatchesExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisStateStore(rdb, "test")

	if err := store.Put(context.Background(), newRecord("ttl", time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	ttl := mr.TTL("test:st:ttl")
	if ttl <= 4*time.Minute || ttl > 5*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(5*time.Minute + time.Second)
	if rec, _ := store.Consume(context.Background(), "ttl"); rec != nil {
		t.Fatal("expected record to be gone after ttl")
	}
}

func TestStatePutRejectsCollision(t *testing.T) {
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, newRecord("dup", time.Now())); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := store.Put(ctx, newRecord("dup", time.Now())); err == nil {
				t.Fatal("expected duplicate token to be rejected")
			}
		})
	}
}

func TestMemoryStateSweep(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Put(ctx, newRecord("a", now.Add(-10*time.Minute)))
	_ = store.Put(ctx, newRecord("b", now.Add(-6*time.Minute)))
	_ = store.Put(ctx, newRecord("c", now))

	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 2 || store.Len() != 1 {
		t.Fatalf("expected two expired records swept, removed=%d len=%d", removed, store.Len())
	}
	if rec, _ := store.Consume(ctx, "c"); rec == nil {
		t.Fatal("expected live record to survive sweep")
	}
}

func TestChallengeLifecycle(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewChallengeStore(rdb, "test")
	ctx := context.Background()

	rec := &Challenge{UserID: "user-1", Extended: true, ExpiresAt: time.Now().Add(5 * time.Minute).Unix()}
	if err := store.Save(ctx, "jti-1", rec, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "user-1" || !got.Extended || got.Attempts != 0 {
		t.Fatalf("unexpected challenge: %+v", got)
	}

	first, err := store.Delete(ctx, "jti-1")
	if err != nil || !first {
		t.Fatalf("expected first delete to report presence: %v %v", first, err)
	}
	again, _ := store.Delete(ctx, "jti-1")
	if again {
		t.Fatal("expected second delete to report absence")
	}
	if _, err := store.Get(ctx, "jti-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeRecordFailureExceeds(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewChallengeStore(rdb, "test")
	ctx := context.Background()

	rec := &Challenge{UserID: "user-1", ExpiresAt: time.Now().Add(5 * time.Minute).Unix()}
	if err := store.Save(ctx, "jti-2", rec, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for i := 1; i < 3; i++ {
		exceeded, err := store.RecordFailure(ctx, "jti-2", 3)
		if err != nil || exceeded {
			t.Fatalf("attempt %d: exceeded=%v err=%v", i, exceeded, err)
		}
	}
	got, _ := store.Get(ctx, "jti-2")
	if got.Attempts != 2 {
		t.Fatalf("expected two recorded attempts, got %d", got.Attempts)
	}

	exceeded, err := store.RecordFailure(ctx, "jti-2", 3)
	if err != nil || !exceeded {
		t.Fatalf("expected third failure to exceed: exceeded=%v err=%v", exceeded, err)
	}
	if _, err := store.Get(ctx, "jti-2"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected exceeded challenge to be deleted, got %v", err)
	}
	if _, err := store.RecordFailure(ctx, "jti-2", 3); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeExpiredRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewChallengeStore(rdb, "test")
	ctx := context.Background()

	issued := time.Now()
	rec := &Challenge{UserID: "user-1", ExpiresAt: issued.Add(5 * time.Minute).Unix()}
	_ = store.Save(ctx, "jti-3", rec, 10*time.Minute)

	store.now = func() time.Time { return issued.Add(6 * time.Minute) }
	if _, err := store.Get(ctx, "jti-3"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestRefreshLedgerRetire(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ledger := NewRefreshLedger(rdb, "test")
	ctx := context.Background()

	prior, err := ledger.Retire(ctx, "jti", RetiredRotated, time.Hour)
	if err != nil || prior != "" {
		t.Fatalf("expected first retirement to win: %q %v", prior, err)
	}
	prior, err = ledger.Retire(ctx, "jti", RetiredLogout, time.Hour)
	if err != nil || prior != RetiredRotated {
		t.Fatalf("expected the first reason to stick: %q %v", prior, err)
	}

	if prior, _ := ledger.Retire(ctx, "out", RetiredLogout, time.Hour); prior != "" {
		t.Fatalf("unexpected prior %q", prior)
	}
	if prior, _ := ledger.Retire(ctx, "out", RetiredRotated, time.Hour); prior != RetiredLogout {
		t.Fatalf("expected logout to be reported, got %q", prior)
	}

	mr.FastForward(time.Hour + time.Second)
	if prior, _ := ledger.Retire(ctx, "jti", RetiredRotated, time.Hour); prior != "" {
		t.Fatalf("expected ledger entry to expire with the token, got %q", prior)
	}
}

func TestBackendFailuresAreWrapped(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	ctx := context.Background()
	if _, err := NewRedisStateStore(rdb, "x").Consume(ctx, "tok"); !errors.Is(err, ErrStateBackend) {
		t.Fatalf("expected ErrStateBackend, got %v", err)
	}
	if _, err := NewChallengeStore(rdb, "x").Get(ctx, "jti"); !errors.Is(err, ErrChallengeBackend) {
		t.Fatalf("expected ErrChallengeBackend, got %v", err)
	}
	if _, err := NewRefreshLedger(rdb, "x").Retire(ctx, "jti", RetiredRotated, time.Minute); !errors.Is(err, ErrLedgerBackend) {
		t.Fatalf("expected ErrLedgerBackend, got %v", err)
	}
}
