// Package config loads gameauthd settings from an optional YAML file and
// GAMEAUTH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/gameauth"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// GAMEAUTH_SERVER_ADDR or GAMEAUTH_JWT_SECRET.
const EnvPrefix = "GAMEAUTH"

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Log        LogConfig         `mapstructure:"log"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Store      StoreConfig       `mapstructure:"store"`
	JWT        JWTConfig         `mapstructure:"jwt"`
	TwoFactor  TwoFactorConfig   `mapstructure:"two_factor"`
	OAuth      OAuthConfig       `mapstructure:"oauth"`
	Deletion   DeletionConfig    `mapstructure:"deletion"`
	Dependents []DependentConfig `mapstructure:"dependents"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	Audit      AuditConfig       `mapstructure:"audit"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Transport       string        `mapstructure:"transport"` // body or cookie
	CookieDomain    string        `mapstructure:"cookie_domain"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver"` // postgres, sqlite or memory
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type JWTConfig struct {
	Method             string        `mapstructure:"method"`
	Secret             string        `mapstructure:"secret"`
	PrivateKeyFile     string        `mapstructure:"private_key_file"`
	PublicKeyFile      string        `mapstructure:"public_key_file"`
	KeyID              string        `mapstructure:"key_id"`
	Issuer             string        `mapstructure:"issuer"`
	Audience           string        `mapstructure:"audience"`
	AccessTTL          time.Duration `mapstructure:"access_ttl"`
	RefreshTTL         time.Duration `mapstructure:"refresh_ttl"`
	ExtendedRefreshTTL time.Duration `mapstructure:"extended_refresh_ttl"`
}

type TwoFactorConfig struct {
	Issuer               string `mapstructure:"issuer"`
	MaxChallengeAttempts int    `mapstructure:"max_challenge_attempts"`
}

type OAuthConfig struct {
	StateBackend          string           `mapstructure:"state_backend"`
	ProviderTimeout       time.Duration    `mapstructure:"provider_timeout"`
	AllowSignup           bool             `mapstructure:"allow_signup"`
	AutoLinkVerifiedEmail bool             `mapstructure:"auto_link_verified_email"`
	Providers             []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one OAuth provider. Kind oidc uses discovery from
// IssuerURL; kind oauth2 uses the explicit endpoints and field map.
type ProviderConfig struct {
	Name         string   `mapstructure:"name"`
	Kind         string   `mapstructure:"kind"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	Scopes       []string `mapstructure:"scopes"`
	Fields       FieldMap `mapstructure:"fields"`
}

type FieldMap struct {
	ID            string `mapstructure:"id"`
	Email         string `mapstructure:"email"`
	EmailVerified string `mapstructure:"email_verified"`
	Name          string `mapstructure:"name"`
}

type DeletionConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	PerServiceTimeout  time.Duration `mapstructure:"per_service_timeout"`
	ConfirmationPhrase string        `mapstructure:"confirmation_phrase"`
}

// DependentConfig is one service called before an identity is deactivated.
type DependentConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	Secret  string `mapstructure:"secret"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// AuditConfig routes audit events. File is a JSON-lines path, or "-" for
// standard output; empty disables the file sink.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BufferSize int    `mapstructure:"buffer_size"`
	Log        bool   `mapstructure:"log"`
	File       string `mapstructure:"file"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Latency bool `mapstructure:"latency"`
}

// Load reads path when set, then applies environment overrides. A missing
// default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gameauth")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gameauth")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := gameauth.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.transport", "body")
	v.SetDefault("server.cookie_domain", "")
	v.SetDefault("server.cookie_secure", true)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "production")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", defaults.Redis.Prefix)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrate", false)

	v.SetDefault("jwt.method", defaults.JWT.SigningMethod)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.issuer", defaults.JWT.Issuer)
	v.SetDefault("jwt.audience", defaults.JWT.Audience)
	v.SetDefault("jwt.access_ttl", defaults.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", defaults.JWT.RefreshTTL)
	v.SetDefault("jwt.extended_refresh_ttl", defaults.JWT.ExtendedRefreshTTL)

	v.SetDefault("two_factor.issuer", defaults.TwoFactor.Issuer)
	v.SetDefault("two_factor.max_challenge_attempts", defaults.TwoFactor.MaxChallengeAttempts)

	v.SetDefault("oauth.state_backend", string(defaults.OAuth.StateBackend))
	v.SetDefault("oauth.provider_timeout", defaults.OAuth.ProviderTimeout)
	v.SetDefault("oauth.allow_signup", defaults.OAuth.AllowSignup)
	v.SetDefault("oauth.auto_link_verified_email", defaults.OAuth.AutoLinkVerifiedEmail)

	v.SetDefault("deletion.timeout", defaults.Deletion.Timeout)
	v.SetDefault("deletion.per_service_timeout", defaults.Deletion.PerServiceTimeout)
	v.SetDefault("deletion.confirmation_phrase", defaults.Deletion.ConfirmationPhrase)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "auth.audit")

	v.SetDefault("audit.enabled", defaults.Audit.Enabled)
	v.SetDefault("audit.buffer_size", defaults.Audit.BufferSize)
	v.SetDefault("audit.log", true)
	v.SetDefault("audit.file", "")

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.latency", defaults.Metrics.EnableLatencyHistograms)
}

// Validate checks the server-level settings. Engine settings are validated by
// the engine builder.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "body", "cookie":
	default:
		return fmt.Errorf("server.transport must be body or cookie, got %q", c.Server.Transport)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be postgres, sqlite or memory, got %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr is required")
	}

	seen := make(map[string]struct{}, len(c.OAuth.Providers))
	for _, p := range c.OAuth.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return errors.New("oauth provider name is required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("oauth provider %q configured twice", name)
		}
		seen[name] = struct{}{}
		switch p.Kind {
		case "oidc":
			if p.IssuerURL == "" {
				return fmt.Errorf("oauth provider %q: issuer_url is required", name)
			}
		case "oauth2":
			if p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
				return fmt.Errorf("oauth provider %q: auth_url, token_url and userinfo_url are required", name)
			}
		default:
			return fmt.Errorf("oauth provider %q: kind must be oidc or oauth2", name)
		}
		if p.ClientID == "" || p.RedirectURL == "" {
			return fmt.Errorf("oauth provider %q: client_id and redirect_url are required", name)
		}
	}

	for _, d := range c.Dependents {
		if d.Name == "" || d.BaseURL == "" {
			return errors.New("dependents need a name and base_url")
		}
	}
	return nil
}

// EngineConfig maps the loaded settings onto the engine configuration. Key
// files are read here.
func (c *Config) EngineConfig() (gameauth.Config, error) {
	cfg := gameauth.DefaultConfig()

	cfg.JWT.SigningMethod = strings.ToLower(c.JWT.Method)
	cfg.JWT.KeyID = c.JWT.KeyID
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.ExtendedRefreshTTL = c.JWT.ExtendedRefreshTTL
	switch cfg.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	case "ed25519":
		priv, err := readKey(c.JWT.PrivateKeyFile)
		if err != nil {
			return gameauth.Config{}, fmt.Errorf("jwt private key: %w", err)
		}
		pub, err := readKey(c.JWT.PublicKeyFile)
		if err != nil {
			return gameauth.Config{}, fmt.Errorf("jwt public key: %w", err)
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	}

	cfg.TwoFactor.Issuer = c.TwoFactor.Issuer
	cfg.TwoFactor.MaxChallengeAttempts = c.TwoFactor.MaxChallengeAttempts

	cfg.OAuth.StateBackend = gameauth.StateBackend(c.OAuth.StateBackend)
	cfg.OAuth.ProviderTimeout = c.OAuth.ProviderTimeout
	cfg.OAuth.AllowSignup = c.OAuth.AllowSignup
	cfg.OAuth.AutoLinkVerifiedEmail = c.OAuth.AutoLinkVerifiedEmail

	cfg.Deletion.Timeout = c.Deletion.Timeout
	cfg.Deletion.PerServiceTimeout = c.Deletion.PerServiceTimeout
	cfg.Deletion.ConfirmationPhrase = c.Deletion.ConfirmationPhrase

	cfg.Redis.Prefix = c.Redis.Prefix
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled && c.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return gameauth.Config{}, err
	}
	return cfg, nil
}

func readKey(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("key file not configured")
	}
	return os.ReadFile(path)
}
