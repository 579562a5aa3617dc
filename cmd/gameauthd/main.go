// Command gameauthd serves the game platform auth API.
//
// Configuration is read from the file named by -config (or gameauth.yaml in
// ./configs, . or /etc/gameauth) with GAMEAUTH_ environment overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/gameauth"
	"github.com/MrEthical07/gameauth/cascade"
	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/credstore/memory"
	"github.com/MrEthical07/gameauth/credstore/postgres"
	"github.com/MrEthical07/gameauth/credstore/sqlite"
	"github.com/MrEthical07/gameauth/internal/audit"
	"github.com/MrEthical07/gameauth/internal/config"
	"github.com/MrEthical07/gameauth/internal/httpapi"
	"github.com/MrEthical07/gameauth/internal/logging"
	"github.com/MrEthical07/gameauth/metrics/export/prometheus"
	"github.com/MrEthical07/gameauth/oauth"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gameauthd: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gameauthd: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gameauthd stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("gameauthd stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	providers, err := buildProviders(ctx, cfg.OAuth.Providers)
	if err != nil {
		return err
	}

	dependents := make([]cascade.Dependent, 0, len(cfg.Dependents))
	for _, d := range cfg.Dependents {
		dep, err := cascade.NewHTTPDependent(d.Name, d.BaseURL, d.Secret, nil)
		if err != nil {
			return fmt.Errorf("dependent %s: %w", d.Name, err)
		}
		dependents = append(dependents, dep)
	}

	sink, closeSink, err := buildAuditSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	engine, err := gameauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithOAuthProviders(providers).
		WithDependents(dependents...).
		WithAuditSink(sink).
		WithLogger(logger.Named("engine")).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("security posture",
		zap.String("signing_algorithm", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Duration("refresh_ttl", report.RefreshTTL),
		zap.String("state_backend", string(report.StateBackend)),
		zap.Bool("oauth_signup", report.OAuthSignupAllowed),
		zap.Bool("login_rate_limit", report.LoginRateLimitActive),
		zap.Strings("dependents", report.Dependents),
	)

	opts := httpapi.Options{
		Transport:    httpapi.Transport(cfg.Server.Transport),
		CookieDomain: cfg.Server.CookieDomain,
		CookieSecure: cfg.Server.CookieSecure,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics, err = prometheus.NewCollector(engine).Handler()
		if err != nil {
			return fmt.Errorf("metrics handler: %w", err)
		}
	}

	handler, err := httpapi.New(engine, opts, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gameauthd listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Strings("providers", report.Providers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (credstore.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.Migrate {
			if err := postgres.Migrate(cfg.DSN); err != nil {
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return store, store.Close, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func buildProviders(ctx context.Context, list []config.ProviderConfig) (*oauth.Registry, error) {
	providers := make([]oauth.Provider, 0, len(list))
	for _, p := range list {
		var (
			provider oauth.Provider
			err      error
		)
		switch p.Kind {
		case "oidc":
			provider, err = oauth.NewOIDC(ctx, oauth.OIDCConfig{
				Name:         p.Name,
				IssuerURL:    p.IssuerURL,
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				RedirectURL:  p.RedirectURL,
				Scopes:       p.Scopes,
			})
		default:
			provider, err = oauth.NewOAuth2(oauth.OAuth2Config{
				Name:         p.Name,
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				RedirectURL:  p.RedirectURL,
				AuthURL:      p.AuthURL,
				TokenURL:     p.TokenURL,
				UserInfoURL:  p.UserInfoURL,
				Scopes:       p.Scopes,
				Fields: oauth.FieldMap{
					ID:            p.Fields.ID,
					Email:         p.Fields.Email,
					EmailVerified: p.Fields.EmailVerified,
					Name:          p.Fields.Name,
				},
			})
		}
		if err != nil {
			return nil, fmt.Errorf("oauth provider %s: %w", p.Name, err)
		}
		providers = append(providers, provider)
	}
	return oauth.NewRegistry(providers...)
}

func buildAuditSink(cfg *config.Config, logger *zap.Logger) (audit.Sink, func(), error) {
	var (
		sinks   audit.MultiSink
		closers []func() error
	)
	closeFn := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("audit sink close failed", zap.Error(err))
			}
		}
	}

	if cfg.Audit.Log {
		sinks = append(sinks, audit.NewZapSink(logger.Named("audit")))
	}
	if cfg.Audit.File != "" {
		file, err := audit.OpenJSONFile(cfg.Audit.File)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, file)
		closers = append(closers, file.Close)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := audit.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		kafka := audit.NewKafkaSink(producer, cfg.Kafka.Topic, "gameauthd", logger)
		sinks = append(sinks, kafka)
		closers = append(closers, kafka.Close)
	}
	if len(sinks) == 0 {
		return audit.NoOpSink{}, closeFn, nil
	}
	return sinks, closeFn, nil
}
