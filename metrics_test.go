package gameauth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricDeletionLatency, time.Second)
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricDeletionLatency, d)
	}
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricDeletionLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Counters[MetricDeletionLatency]; ok {
		t.Fatal("histogram id must not appear among counters")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Add(MetricLoginFailure, 2)
	m.Observe(MetricDeletionLatency, 2*time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if len(snap.Histograms) != 0 {
		t.Fatal("expected no histograms with latency disabled")
	}
}

func TestEngineMetricsFollowFlows(t *testing.T) {
	env := newTestEnv(t, testConfig(), envOptions{})
	ctx := context.Background()
	userID := env.addUser(t, "alice")

	_, _ = env.engine.Login(ctx, "alice", "wrong-password-123", false)
	if _, err := env.engine.Login(ctx, "alice", testPassword, false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.enableTwoFactor(t, userID)
	if _, err := env.engine.Login(ctx, "alice", testPassword, true); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.DeleteAccount(ctx, userID, DeleteRequest{Password: testPassword}); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricLoginFailure:          1,
		MetricLoginSuccess:          1,
		MetricSessionIssued:         1,
		MetricTwoFactorSetupStarted: 1,
		MetricTwoFactorEnabled:      1,
		MetricChallengeIssued:       1,
		MetricAccountDeleted:        1,
	}
	for id, n := range want {
		if snap.Counters[id] != n {
			t.Fatalf("metric %d: expected %d, got %d", id, n, snap.Counters[id])
		}
	}
	var observed uint64
	for _, v := range snap.Histograms[MetricDeletionLatency] {
		observed += v
	}
	if observed != 1 {
		t.Fatalf("expected one deletion latency sample, got %d", observed)
	}
}
