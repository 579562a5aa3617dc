package gameauth

import (
	"context"
	"time"

	"github.com/MrEthical07/gameauth/internal/audit"
)

// AuditEvent is one audit record handed to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventChallengeIssued     = "login_challenge_issued"
	auditEventChallengeSuccess    = "challenge_success"
	auditEventChallengeFailure    = "challenge_failure"
	auditEvent2FASetupStarted     = "2fa_setup_started"
	auditEvent2FAEnabled          = "2fa_enabled"
	auditEvent2FADisabled         = "2fa_disabled"
	auditEventBackupCodeUsed      = "backup_code_used"
	auditEventOAuthLinkStarted    = "oauth_link_started"
	auditEventOAuthLinked         = "oauth_linked"
	auditEventOAuthLogin          = "oauth_login"
	auditEventOAuthAccountCreated = "oauth_account_created"
	auditEventOAuthUnlinked       = "oauth_unlinked"
	auditEventOAuthFailure        = "oauth_failure"
	auditEventRefreshRotated      = "refresh_rotated"
	auditEventRefreshReuse        = "refresh_reuse_detected"
	auditEventLogout              = "logout"
	auditEventAccountDeleted      = "account_deleted"
	auditEventAccountDeleteFailed = "account_delete_failed"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, provider string, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Provider:  provider,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}
