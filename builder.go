package gameauth

import (
	"errors"
	"strings"

	"github.com/MrEthical07/gameauth/cascade"
	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/internal/audit"
	"github.com/MrEthical07/gameauth/internal/rate"
	"github.com/MrEthical07/gameauth/internal/stores"
	"github.com/MrEthical07/gameauth/jwt"
	"github.com/MrEthical07/gameauth/oauth"
	"github.com/MrEthical07/gameauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// dummyPassword is hashed once at build time so unknown-user logins pay the
// same verification cost as real ones.
const dummyPassword = "gameauth-timing-equalizer"

// Builder collects engine collaborators. A Builder can produce one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      credstore.Store
	providers  *oauth.Registry
	dependents []cascade.Dependent
	auditSink  AuditSink
	logger     *zap.Logger

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges, the refresh ledger, rate
// limits and, for the redis state backend, CSRF state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store credstore.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithOAuthProviders(registry *oauth.Registry) *Builder {
	b.providers = registry
	return b
}

// WithDependents sets the services called, in order, before an identity is
// deactivated.
func (b *Builder) WithDependents(deps ...cascade.Dependent) *Builder {
	b.dependents = append(b.dependents[:0:0], deps...)
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and starts the engine's background
// workers. Call Engine.Close to stop them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	providers := b.providers
	if providers == nil {
		var err error
		if providers, err = oauth.NewRegistry(); err != nil {
			return nil, err
		}
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	argon, err := password.NewArgon2(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hasher := password.NewChain(argon)
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var states stores.StateStore
	switch cfg.OAuth.StateBackend {
	case StateBackendMemory:
		states = stores.NewMemoryStateStore()
	default:
		states = stores.NewRedisStateStore(b.redis, cfg.Redis.Prefix)
	}

	engine := &Engine{
		config:     cfg,
		logger:     logger,
		redis:      b.redis,
		store:      b.store,
		providers:  providers,
		dependents: b.dependents,
		jwt:        jm,
		hasher:     hasher,
		dummyHash:  dummyHash,
		totp:       newTOTPManager(cfg.TwoFactor),
		states:     states,
		challenges: stores.NewChallengeStore(b.redis, cfg.Redis.Prefix),
		ledger:     stores.NewRefreshLedger(b.redis, cfg.Redis.Prefix),
		limiter: rate.New(b.redis, rate.Config{
			Prefix:           cfg.Redis.Prefix,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:    cfg.RateLimit.LoginCooldown,
			MaxLinkStarts:    cfg.OAuth.MaxLinkStarts,
			LinkWindow:       cfg.OAuth.LinkWindow,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			Critical:    []string{auditEventAccountDeleted, auditEventAccountDeleteFailed, auditEventRefreshReuse},
			SinkTimeout: cfg.Audit.SinkTimeout,
			Logger:      logger.Named("audit"),
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}
	engine.startSweeper()

	b.built = true
	return engine, nil
}
