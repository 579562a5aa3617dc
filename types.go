package gameauth

import (
	"time"

	"github.com/MrEthical07/gameauth/credstore"
)

// SessionPair is an access/refresh token pair bound to one subject.
type SessionPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Extended         bool      `json:"extended"`
}

// LoginResult is either a session or a pending second-factor challenge, never both.
type LoginResult struct {
	UserID             string
	Session            *SessionPair
	ChallengeToken     string
	ChallengeExpiresAt time.Time
}

// ChallengeRequired reports whether the caller must complete a 2FA challenge.
func (r *LoginResult) ChallengeRequired() bool {
	return r != nil && r.ChallengeToken != ""
}

// ChallengeProof carries exactly one second factor.
type ChallengeProof struct {
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
}

// TwoFactorSetup is returned once by BeginTwoFactorSetup. BackupCodes are
// plaintext here and never again.
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// StateRecord is a consumed CSRF state.
type StateRecord struct {
	Token     string
	UserID    string
	Provider  string
	CreatedAt time.Time
	ExpiresAt time.Time

	codeVerifier string
}

// LinkStart is where the client must be redirected to begin an OAuth flow.
type LinkStart struct {
	Provider  string    `json:"provider"`
	URL       string    `json:"authorization_url"`
	State     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CallbackParams are the query values of a provider redirect.
//
// SubjectID is the caller's authenticated subject, if any. A state minted by
// BeginLink for a user completes only when SubjectID names that user.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	SubjectID        string
}

// CallbackResult describes what HandleCallback did.
//
// An explicit link returns Linked with no session. A login returns Session,
// or ChallengeToken when the identity has two-factor enabled.
type CallbackResult struct {
	Identity           *credstore.Identity
	Session            *SessionPair
	ChallengeToken     string
	ChallengeExpiresAt time.Time
	Linked             bool
	Created            bool
}

// DeleteRequest proves intent to delete. Password is required when the
// identity has one; otherwise Confirmation must equal the configured phrase.
type DeleteRequest struct {
	Password     string `json:"password,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
}

// DeletionSummary reports per-service deleted record counts.
type DeletionSummary struct {
	UserID       string                    `json:"user_id"`
	Services     map[string]map[string]int `json:"services"`
	TotalDeleted int                       `json:"total_deleted"`
	DeletedAt    time.Time                 `json:"deleted_at"`
	Duration     time.Duration             `json:"-"`
}
