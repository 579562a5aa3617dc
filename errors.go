package gameauth

import (
	"errors"

	"github.com/MrEthical07/gameauth/credstore"
)

// Wire-level taxonomy. Each maps to exactly one code returned by ErrorCode.
var (
	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrAlreadyEnabled            = errors.New("two-factor already enabled")
	ErrNoSetupInProgress         = errors.New("no two-factor setup in progress")
	ErrSetupDataMismatch         = errors.New("two-factor setup data mismatch")
	ErrInvalidCode               = errors.New("invalid two-factor code")
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired challenge")
	ErrTwoFactorNotEnabled       = errors.New("two-factor not enabled")
	ErrInvalidState              = errors.New("invalid oauth state")
	ErrProviderError             = errors.New("oauth provider error")
	ErrAlreadyLinked             = errors.New("provider identity already linked")
	ErrNotLinked                 = errors.New("provider not linked")
	ErrNoAlternativeLogin        = errors.New("no alternative login method")
	ErrInvalidPassword           = errors.New("invalid password")
	ErrCascadeFailed             = errors.New("cascading delete failed")
)

// Token verification results.
var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenWrongPurpose = errors.New("token purpose mismatch")
)

var (
	ErrUserNotFound              = errors.New("user not found")
	ErrAccountInactive           = errors.New("account inactive")
	ErrConfirmationRequired      = errors.New("deletion confirmation required")
	ErrLoginRateLimited          = errors.New("login rate limited")
	ErrLinkRateLimited           = errors.New("oauth link rate limited")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrInvalidProof              = errors.New("exactly one of totp code or backup code required")
	ErrRefreshInvalid            = errors.New("refresh token invalid")
	ErrRefreshReuse              = errors.New("refresh token reuse detected")
	ErrUnknownProvider           = errors.New("unknown oauth provider")
	ErrEngineNotReady            = errors.New("engine not initialized")
	ErrBackendUnavailable        = errors.New("auth backend unavailable")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrAlreadyEnabled, "ALREADY_ENABLED"},
	{ErrNoSetupInProgress, "NO_SETUP_IN_PROGRESS"},
	{ErrSetupDataMismatch, "SETUP_DATA_MISMATCH"},
	{ErrInvalidCode, "INVALID_CODE"},
	{ErrInvalidOrExpiredChallenge, "INVALID_OR_EXPIRED_CHALLENGE"},
	{ErrChallengeAttemptsExceeded, "INVALID_OR_EXPIRED_CHALLENGE"},
	{ErrTwoFactorNotEnabled, "2FA_NOT_ENABLED"},
	{ErrInvalidState, "INVALID_STATE"},
	{ErrProviderError, "PROVIDER_ERROR"},
	{ErrAlreadyLinked, "ALREADY_LINKED"},
	{ErrNotLinked, "NOT_LINKED"},
	{ErrNoAlternativeLogin, "NO_ALTERNATIVE_LOGIN"},
	{ErrInvalidPassword, "INVALID_PASSWORD"},
	{ErrCascadeFailed, "CASCADE_FAILED"},
	{ErrTokenExpired, "TOKEN_EXPIRED"},
	{ErrTokenMalformed, "TOKEN_MALFORMED"},
	{ErrTokenWrongPurpose, "TOKEN_WRONG_PURPOSE"},
	{ErrRefreshInvalid, "INVALID_REFRESH_TOKEN"},
	{ErrRefreshReuse, "INVALID_REFRESH_TOKEN"},
	{ErrUserNotFound, "USER_NOT_FOUND"},
	{ErrAccountInactive, "ACCOUNT_INACTIVE"},
	{ErrConfirmationRequired, "CONFIRMATION_REQUIRED"},
	{ErrLoginRateLimited, "RATE_LIMITED"},
	{ErrLinkRateLimited, "RATE_LIMITED"},
	{ErrInvalidProof, "INVALID_REQUEST"},
	{ErrUnknownProvider, "UNKNOWN_PROVIDER"},
}

// ErrorCode returns the stable wire code for err, or "INTERNAL" when err is
// not part of the taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}

// mapTwoFactorError translates state machine errors into the taxonomy.
func mapTwoFactorError(err error) error {
	switch {
	case errors.Is(err, credstore.ErrTwoFactorAlreadyEnabled):
		return ErrAlreadyEnabled
	case errors.Is(err, credstore.ErrTwoFactorNoSetup):
		return ErrNoSetupInProgress
	case errors.Is(err, credstore.ErrTwoFactorSetupMismatch):
		return ErrSetupDataMismatch
	case errors.Is(err, credstore.ErrTwoFactorInvalidCode), errors.Is(err, credstore.ErrTwoFactorCodeReused):
		return ErrInvalidCode
	}
	return err
}
