package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/gameauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: ":9090"
  transport: cookie
  cookie_domain: play.example.com
log:
  level: debug
  env: development
redis:
  addr: "redis:6379"
store:
  driver: sqlite
  dsn: /var/lib/gameauth/auth.db
  migrate: true
jwt:
  method: hs256
  secret: 0123456789abcdef0123456789abcdef
  access_ttl: 10m
oauth:
  allow_signup: false
  providers:
    - name: google
      kind: oidc
      issuer_url: https://accounts.google.com
      client_id: google-client
      client_secret: google-secret
      redirect_url: https://play.example.com/oauth/google/callback
    - name: discord
      kind: oauth2
      client_id: discord-client
      redirect_url: https://play.example.com/oauth/discord/callback
      auth_url: https://discord.com/oauth2/authorize
      token_url: https://discord.com/api/oauth2/token
      userinfo_url: https://discord.com/api/users/@me
      scopes: [identify, email]
      fields:
        id: id
        email: email
        email_verified: verified
        name: username
dependents:
  - name: matches
    base_url: http://matches:8080
  - name: social
    base_url: http://social:8080
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
audit:
  file: /var/log/gameauth/audit.jsonl
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gameauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "cookie", cfg.Server.Transport)
	assert.True(t, cfg.Server.CookieSecure)
	assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Store.Migrate)
	assert.Equal(t, 10*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 24*time.Hour, cfg.JWT.RefreshTTL)
	require.Len(t, cfg.OAuth.Providers, 2)
	assert.Equal(t, "verified", cfg.OAuth.Providers[1].Fields.EmailVerified)
	assert.Equal(t, []string{"identify", "email"}, cfg.OAuth.Providers[1].Scopes)
	assert.Equal(t, []string{"matches", "social"}, []string{cfg.Dependents[0].Name, cfg.Dependents[1].Name})
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "auth.audit", cfg.Kafka.Topic)
	assert.Equal(t, "/var/log/gameauth/audit.jsonl", cfg.Audit.File)
	assert.True(t, cfg.Audit.Log)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GAMEAUTH_SERVER_ADDR", ":7070")
	t.Setenv("GAMEAUTH_LOG_LEVEL", "warn")
	t.Setenv("GAMEAUTH_JWT_REFRESH_TTL", "48h")
	t.Setenv("GAMEAUTH_STORE_DRIVER", "memory")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 48*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GAMEAUTH_STORE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "body", cfg.Server.Transport)
	assert.Equal(t, "ga", cfg.Redis.Prefix)
	assert.Empty(t, cfg.OAuth.Providers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad transport", "server:\n  transport: carrier\nstore:\n  driver: memory\n"},
		{"bad driver", "store:\n  driver: mongo\n"},
		{"missing dsn", "store:\n  driver: postgres\n"},
		{"oidc without issuer", "store:\n  driver: memory\noauth:\n  providers:\n    - name: google\n      kind: oidc\n      client_id: x\n      redirect_url: http://cb\n"},
		{"oauth2 without endpoints", "store:\n  driver: memory\noauth:\n  providers:\n    - name: discord\n      kind: oauth2\n      client_id: x\n      redirect_url: http://cb\n"},
		{"duplicate provider", "store:\n  driver: memory\noauth:\n  providers:\n    - {name: g, kind: oidc, issuer_url: http://i, client_id: x, redirect_url: http://cb}\n    - {name: G, kind: oidc, issuer_url: http://i, client_id: x, redirect_url: http://cb}\n"},
		{"dependent without url", "store:\n  driver: memory\ndependents:\n  - name: matches\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "hs256", engineCfg.JWT.SigningMethod)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), engineCfg.JWT.PrivateKey)
	assert.Equal(t, 10*time.Minute, engineCfg.JWT.AccessTTL)
	assert.Equal(t, 5*time.Minute, engineCfg.JWT.ChallengeTTL)
	assert.False(t, engineCfg.OAuth.AllowSignup)
	assert.Equal(t, gameauth.StateBackendRedis, engineCfg.OAuth.StateBackend)

	cfg.JWT.Secret = "short"
	_, err = cfg.EngineConfig()
	assert.Error(t, err)

	cfg.JWT.Method = "ed25519"
	_, err = cfg.EngineConfig()
	assert.Error(t, err)
}
