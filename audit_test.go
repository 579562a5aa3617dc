package gameauth

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	return &captureSink{events: make(chan AuditEvent, buffer)}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// next waits for the next event of eventType, skipping others.
func (s *captureSink) next(t *testing.T, eventType string) AuditEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-s.events:
			if event.EventType == eventType {
				return event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, testConfig(), envOptions{sink: sink})
	env.addUser(t, "alice")

	_, _ = env.engine.Login(context.Background(), "alice", "wrong-password-123", false)
	if _, err := env.engine.Login(context.Background(), "alice", testPassword, false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.engine.Close()

	if got := sink.count.Load(); got != 0 {
		t.Fatalf("expected no audit events when disabled, got %d", got)
	}
}

func TestAuditLoginEvents(t *testing.T) {
	sink := newCaptureSink(64)
	env := newTestEnv(t, auditConfig(), envOptions{sink: sink})
	userID := env.addUser(t, "alice")
	ctx := WithClientIP(context.Background(), "192.0.2.10")

	if _, err := env.engine.Login(ctx, "alice", "wrong-password-123", false); err == nil {
		t.Fatal("expected login failure")
	}
	failure := sink.next(t, auditEventLoginFailure)
	if failure.Success || failure.UserID != userID || failure.Error != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected failure event: %+v", failure)
	}
	if failure.IP != "192.0.2.10" {
		t.Fatalf("expected client ip on event, got %q", failure.IP)
	}

	res, err := env.engine.Login(ctx, "alice", testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	success := sink.next(t, auditEventLoginSuccess)
	if !success.Success || success.Timestamp.IsZero() {
		t.Fatalf("unexpected success event: %+v", success)
	}

	encoded, _ := json.Marshal([]AuditEvent{failure, success})
	for _, secret := range []string{testPassword, "wrong-password-123", res.Session.AccessToken, res.Session.RefreshToken} {
		if strings.Contains(string(encoded), secret) {
			t.Fatal("audit event leaked a credential")
		}
	}
}

func TestAuditDeletionFailureCarriesStage(t *testing.T) {
	sink := newCaptureSink(64)
	env := newTestEnv(t, auditConfig(), envOptions{sink: sink})
	userID := env.addUser(t, "alice")

	if _, err := env.engine.DeleteAccount(context.Background(), userID, DeleteRequest{Password: "nope-nope-nope"}); err == nil {
		t.Fatal("expected wrong password to fail")
	}
	event := sink.next(t, auditEventAccountDeleteFailed)
	if event.Error != "INVALID_PASSWORD" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestAuditTwoFactorLifecycle(t *testing.T) {
	sink := newCaptureSink(64)
	env := newTestEnv(t, auditConfig(), envOptions{sink: sink})
	userID := env.addUser(t, "alice")

	secret, codes := env.enableTwoFactor(t, userID)
	sink.next(t, auditEvent2FASetupStarted)
	enabled := sink.next(t, auditEvent2FAEnabled)
	if enabled.UserID != userID {
		t.Fatalf("unexpected enable event: %+v", enabled)
	}

	encoded, _ := json.Marshal(enabled)
	if strings.Contains(string(encoded), secret) || strings.Contains(string(encoded), codes[0]) {
		t.Fatal("audit event leaked two-factor material")
	}
	if env.engine.AuditDropped() != 0 {
		t.Fatalf("unexpected dropped events: %d", env.engine.AuditDropped())
	}
}
