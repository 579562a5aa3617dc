package internaldefs

import (
	"github.com/MrEthical07/gameauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   gameauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   gameauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "gameauth_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: gameauth.MetricLoginSuccess, Name: "gameauth_login_success_total", Help: "Password logins that issued a session."},
	{ID: gameauth.MetricLoginFailure, Name: "gameauth_login_failure_total", Help: "Password logins rejected for bad credentials."},
	{ID: gameauth.MetricLoginRateLimited, Name: "gameauth_login_rate_limited_total", Help: "Password logins rejected by the rate limiter."},
	{ID: gameauth.MetricChallengeIssued, Name: "gameauth_challenge_issued_total", Help: "Two-factor login challenges issued."},
	{ID: gameauth.MetricChallengeSuccess, Name: "gameauth_challenge_success_total", Help: "Two-factor challenges completed."},
	{ID: gameauth.MetricChallengeFailure, Name: "gameauth_challenge_failure_total", Help: "Two-factor challenge proofs rejected."},
	{ID: gameauth.MetricChallengeAttemptsExceeded, Name: "gameauth_challenge_attempts_exceeded_total", Help: "Challenges invalidated by the attempt cap."},
	{ID: gameauth.MetricSessionIssued, Name: "gameauth_session_issued_total", Help: "Access/refresh pairs issued."},
	{ID: gameauth.MetricRefreshSuccess, Name: "gameauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: gameauth.MetricRefreshFailure, Name: "gameauth_refresh_failure_total", Help: "Rejected refresh rotations."},
	{ID: gameauth.MetricRefreshReuseDetected, Name: "gameauth_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: gameauth.MetricLogout, Name: "gameauth_logout_total", Help: "Logout operations."},
	{ID: gameauth.MetricTwoFactorSetupStarted, Name: "gameauth_2fa_setup_started_total", Help: "Two-factor setups started."},
	{ID: gameauth.MetricTwoFactorEnabled, Name: "gameauth_2fa_enabled_total", Help: "Two-factor setups confirmed."},
	{ID: gameauth.MetricTwoFactorDisabled, Name: "gameauth_2fa_disabled_total", Help: "Two-factor disable operations."},
	{ID: gameauth.MetricTwoFactorSetupRejected, Name: "gameauth_2fa_setup_rejected_total", Help: "Two-factor confirmations rejected."},
	{ID: gameauth.MetricBackupCodeUsed, Name: "gameauth_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: gameauth.MetricBackupCodeFailed, Name: "gameauth_backup_code_failed_total", Help: "Backup codes rejected."},
	{ID: gameauth.MetricCsrfStateCreated, Name: "gameauth_csrf_state_created_total", Help: "OAuth CSRF states created."},
	{ID: gameauth.MetricCsrfStateRejected, Name: "gameauth_csrf_state_rejected_total", Help: "OAuth callbacks with unknown, expired or replayed state."},
	{ID: gameauth.MetricOAuthLinkStarted, Name: "gameauth_oauth_link_started_total", Help: "OAuth link flows started."},
	{ID: gameauth.MetricOAuthLinked, Name: "gameauth_oauth_linked_total", Help: "Provider identities linked to accounts."},
	{ID: gameauth.MetricOAuthLogin, Name: "gameauth_oauth_login_total", Help: "Logins through a linked provider."},
	{ID: gameauth.MetricOAuthAccountCreated, Name: "gameauth_oauth_account_created_total", Help: "Accounts created from provider profiles."},
	{ID: gameauth.MetricOAuthUnlinked, Name: "gameauth_oauth_unlinked_total", Help: "Provider identities unlinked."},
	{ID: gameauth.MetricOAuthProviderError, Name: "gameauth_oauth_provider_error_total", Help: "Provider exchanges or profile fetches that failed."},
	{ID: gameauth.MetricOAuthAlreadyLinked, Name: "gameauth_oauth_already_linked_total", Help: "Link attempts for identities owned by another account."},
	{ID: gameauth.MetricAccountDeleted, Name: "gameauth_account_deleted_total", Help: "Accounts deactivated by the deletion saga."},
	{ID: gameauth.MetricAccountDeleteFailed, Name: "gameauth_account_delete_failed_total", Help: "Deletion sagas aborted by a dependent failure."},
	{ID: gameauth.MetricStateSwept, Name: "gameauth_state_swept_total", Help: "Expired CSRF states removed by the sweeper."},
}

var HistogramDefs = []HistogramDef{
	{ID: gameauth.MetricDeletionLatency, Name: "gameauth_deletion_latency_seconds", Help: "Account deletion saga latency."},
}

// HistogramBounds are the upper bounds of the engine buckets in seconds.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, including +Inf, for exporters
// that publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
