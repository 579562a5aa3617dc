package gameauth

import (
	"errors"
	"strings"
	"time"
)

// Config holds every engine setting. Build a value with DefaultConfig and
// override what you need; the engine keeps its own copy.
type Config struct {
	JWT       JWTConfig
	TwoFactor TwoFactorConfig
	OAuth     OAuthConfig
	RateLimit RateLimitConfig
	Deletion  DeletionConfig
	Password  PasswordConfig
	Redis     RedisConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes. ChallengeTTL is capped at
// five minutes.
type JWTConfig struct {
	SigningMethod      string // "ed25519" (default) or "hs256"
	PrivateKey         []byte
	PublicKey          []byte
	KeyID              string
	VerifyKeys         map[string][]byte
	Issuer             string
	Audience           string
	Leeway             time.Duration
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ExtendedRefreshTTL time.Duration
	ChallengeTTL       time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

type TwoFactorConfig struct {
	Issuer               string
	Digits               int
	Period               int // seconds
	Skew                 uint
	Algorithm            string // SHA1, SHA256, SHA512
	BackupCodeCount      int
	BackupCodeLength     int
	MaxChallengeAttempts int
}

/*
====================================
OAUTH CONFIG
====================================
*/

// StateBackend selects where CSRF state records live.
type StateBackend string

const (
	StateBackendRedis  StateBackend = "redis"
	StateBackendMemory StateBackend = "memory"
)

type OAuthConfig struct {
	StateTTL        time.Duration
	StateBackend    StateBackend
	SweepInterval   time.Duration
	ProviderTimeout time.Duration
	MaxLinkStarts   int
	LinkWindow      time.Duration
	// AutoLinkVerifiedEmail attaches a provider identity to an existing local
	// account with the same email, but only when the provider asserts the
	// email is verified.
	AutoLinkVerifiedEmail bool
	AllowSignup           bool
}

/*
====================================
RATE LIMIT / DELETION / PASSWORD
====================================
*/

type RateLimitConfig struct {
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	EnableIPThrottle bool
}

type DeletionConfig struct {
	Timeout            time.Duration
	PerServiceTimeout  time.Duration
	ConfirmationPhrase string
}

type PasswordConfig struct {
	Memory         uint32 // KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

type RedisConfig struct {
	Prefix string
}

// AuditConfig controls audit delivery. Deletion and refresh reuse events are
// never dropped for a full buffer, even with DropIfFull.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Signing keys must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod:      "ed25519",
			Issuer:             "gameauth",
			Audience:           "game",
			AccessTTL:          15 * time.Minute,
			RefreshTTL:         24 * time.Hour,
			ExtendedRefreshTTL: 7 * 24 * time.Hour,
			ChallengeTTL:       5 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "gameauth",
			Digits:               6,
			Period:               30,
			Skew:                 2,
			Algorithm:            "SHA1",
			BackupCodeCount:      10,
			BackupCodeLength:     10,
			MaxChallengeAttempts: 5,
		},
		OAuth: OAuthConfig{
			StateTTL:              5 * time.Minute,
			StateBackend:          StateBackendRedis,
			SweepInterval:         time.Minute,
			ProviderTimeout:       10 * time.Second,
			MaxLinkStarts:         10,
			LinkWindow:            time.Minute,
			AutoLinkVerifiedEmail: true,
			AllowSignup:           true,
		},
		RateLimit: RateLimitConfig{
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
			EnableIPThrottle: true,
		},
		Deletion: DeletionConfig{
			Timeout:            30 * time.Second,
			PerServiceTimeout:  10 * time.Second,
			ConfirmationPhrase: "DELETE MY ACCOUNT",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Redis: RedisConfig{Prefix: "ga"},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Issuer and Audience are required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT AccessTTL must be in (0, 1h]")
	}
	if c.JWT.RefreshTTL < time.Hour {
		return errors.New("JWT RefreshTTL must be >= 1h")
	}
	if c.JWT.ExtendedRefreshTTL < c.JWT.RefreshTTL || c.JWT.ExtendedRefreshTTL > 30*24*time.Hour {
		return errors.New("JWT ExtendedRefreshTTL must be in [RefreshTTL, 30d]")
	}
	if c.JWT.ChallengeTTL <= 0 || c.JWT.ChallengeTTL > 5*time.Minute {
		return errors.New("JWT ChallengeTTL must be in (0, 5m]")
	}

	// Two-factor
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew > 5 {
		return errors.New("TwoFactor Skew must be <= 5")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TwoFactor.BackupCodeCount <= 0 || c.TwoFactor.BackupCodeCount > 50 {
		return errors.New("TwoFactor BackupCodeCount must be in [1, 50]")
	}
	if c.TwoFactor.BackupCodeLength < 8 || c.TwoFactor.BackupCodeLength > 32 {
		return errors.New("TwoFactor BackupCodeLength must be in [8, 32]")
	}
	if c.TwoFactor.MaxChallengeAttempts <= 0 {
		return errors.New("TwoFactor MaxChallengeAttempts must be > 0")
	}

	// OAuth
	if c.OAuth.StateTTL <= 0 || c.OAuth.StateTTL > 10*time.Minute {
		return errors.New("OAuth StateTTL must be in (0, 10m]")
	}
	switch c.OAuth.StateBackend {
	case StateBackendRedis, StateBackendMemory:
	default:
		return errors.New("OAuth StateBackend must be redis or memory")
	}
	if c.OAuth.StateBackend == StateBackendMemory && c.OAuth.SweepInterval <= 0 {
		return errors.New("OAuth SweepInterval must be > 0 for the memory backend")
	}
	if c.OAuth.ProviderTimeout <= 0 {
		return errors.New("OAuth ProviderTimeout must be > 0")
	}
	if c.OAuth.MaxLinkStarts > 0 && c.OAuth.LinkWindow <= 0 {
		return errors.New("OAuth LinkWindow must be > 0 when MaxLinkStarts is set")
	}

	// Rate limit
	if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginCooldown <= 0 {
		return errors.New("RateLimit LoginCooldown must be > 0 when MaxLoginAttempts is set")
	}

	// Deletion
	if c.Deletion.Timeout <= 0 || c.Deletion.PerServiceTimeout <= 0 {
		return errors.New("Deletion timeouts must be > 0")
	}
	if c.Deletion.PerServiceTimeout > c.Deletion.Timeout {
		return errors.New("Deletion PerServiceTimeout must be <= Timeout")
	}
	if strings.TrimSpace(c.Deletion.ConfirmationPhrase) == "" {
		return errors.New("Deletion ConfirmationPhrase is required")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
