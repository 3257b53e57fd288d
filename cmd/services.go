package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/promptsync/internal/cache"
	"github.com/promptsync/internal/config"
	"github.com/promptsync/internal/database"
	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/metrics"
	"github.com/promptsync/internal/prompts"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/internal/tenantconfig"
)

// services is everything a command needs to resolve prompts.
type services struct {
	cfg      *config.Config
	registry *prometheus.Registry
	client   *repository.Client
	cache    *cache.Manager
	store    tenantconfig.Store
	resolver *prompts.Resolver
	admin    *prompts.Admin
	closers  []func() error
}

// loadConfig reads the --config file. The default path is optional; an
// explicitly passed one must exist.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	s := &services{cfg: cfg, registry: prometheus.NewRegistry()}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(s.registry)

	s.client = newRepositoryClient(cfg, recorder)

	s.cache = cache.New(
		cache.WithTTLs(cfg.Cache.FreshTTL, cfg.Cache.StaleTTL),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithRefreshTimeout(cfg.Cache.RefreshTimeout),
		cache.WithMetrics(recorder),
	)

	store, err := s.openStore(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store

	s.resolver = prompts.NewResolver(s.client, s.cache,
		prompts.WithStore(store),
		prompts.WithMetrics(recorder),
		prompts.WithCacheTTL(cfg.Cache.FreshTTL),
		prompts.WithRevalidation(cfg.Cache.Revalidate),
	)
	s.admin = prompts.NewAdmin(store, s.client, s.resolver)

	return s, nil
}

// newRepositoryClient builds the client every command shares. recorder may
// be nil.
func newRepositoryClient(cfg *config.Config, recorder *metrics.Recorder) *repository.Client {
	return repository.NewClient(
		repository.WithBaseURL(cfg.Repository.BaseURL),
		repository.WithTimeout(cfg.Repository.Timeout),
		repository.WithMaxResponseSize(cfg.Repository.MaxResponseSize),
		repository.WithRateLimitBuffer(cfg.Repository.RateLimitBuffer),
		repository.WithRetryConfig(cfg.Repository.Retry),
		repository.WithLimiter(newLimiter(cfg.Repository.RequestsPerSecond, cfg.Repository.Burst)),
		repository.WithMetrics(recorder),
	)
}

func (s *services) openStore(ctx context.Context) (tenantconfig.Store, error) {
	cfg := s.cfg.Store
	opts := []tenantconfig.StoreOption{tenantconfig.WithKeyPrefix(cfg.KeyPrefix)}

	if cfg.EncryptionKey != "" {
		cipher, err := tenantconfig.NewChaChaCipherFromBase64(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid store encryption key: %w", err)
		}
		opts = append(opts, tenantconfig.WithCipher(cipher))
	} else {
		log.Warn().Msg("No store encryption key configured; tenant tokens cannot be stored")
	}

	storeType := tenantconfig.StoreType(cfg.Type)
	switch storeType {
	case tenantconfig.StoreTypePostgres:
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		opts = append(opts, tenantconfig.WithDB(db))
	case tenantconfig.StoreTypeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.closers = append(s.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, tenantconfig.WithRedisClient(rdb))
	}

	store, err := tenantconfig.NewStore(storeType, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Type, err)
	}
	if storeType == tenantconfig.StoreTypePostgres {
		if err := tenantconfig.EnsureSchema(ctx, store); err != nil {
			return nil, fmt.Errorf("failed to prepare tenant config table: %w", err)
		}
	}

	log.Info().Str("store", string(storeType)).Msg("Tenant config store ready")
	return store, nil
}

// Close waits for background refreshes and releases store connections.
func (s *services) Close() error {
	if s.cache != nil {
		s.cache.Wait()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
