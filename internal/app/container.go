package app

import (
	"context"
	"fmt"

	"github.com/kapu/otstats-go/internal/config"
	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/service"
	"github.com/kapu/otstats-go/internal/service/cache"
	"github.com/kapu/otstats-go/internal/service/database"
	"github.com/kapu/otstats-go/internal/service/scraper"
	"go.uber.org/zap"
)

// Container bundles the assembled service graph. All heavy-weight
// initialization (DB/cache/HTTP) happens in Build so the entrypoint stays
// focused on lifecycle.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Cache      *cache.CacheService
	Postgres   *database.PostgresService
	Store      *service.Repository
	Registry   *scraper.Registry
	Scraper    *scraper.Orchestrator
	Reconciler *service.Reconciler
	BulkLoader *service.BulkLoader
	Scheduler  *service.RecoveryScheduler

	closers []func()
}

// Close tears services down in reverse build order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build assembles all infrastructure services and the tracking pipeline on
// top of them. On error everything built so far is torn down again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	// Cache and database
	var cacheSvc *cache.CacheService
	if cfg.Scraper.EnableCache {
		cacheSvc, err = cache.NewCacheService(cache.CacheConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache service: %w", err)
		}
		closers = append(closers, func() {
			_ = cacheSvc.Close()
		})
	} else {
		logger.Info("Scrape result cache disabled")
	}

	postgresSvc, err := database.NewPostgresService(database.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres service: %w", err)
	}
	closers = append(closers, func() {
		_ = postgresSvc.Close()
	})

	if err = postgresSvc.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	store := service.NewRepository(postgresSvc, logger)

	// Scraping pipeline
	registry := scraper.NewRegistry(logger,
		scraper.NewRubinotAdapter(logger),
		scraper.NewTaleonAdapter(logger),
		scraper.NewNocteraAdapter(logger),
	)
	fetcher := scraper.NewFetchClient(cfg.Scraper.RequestTimeout, cfg.Scraper.UserAgent, logger)

	var resultCache scraper.ResultCache
	if cacheSvc != nil {
		resultCache = cacheSvc
	}
	orchestrator := scraper.NewOrchestrator(registry, fetcher, resultCache, cfg.Scraper.ResultCacheTTL, logger)

	reconciler := service.NewReconciler(store, logger)

	bulkLoader := service.NewBulkLoader(orchestrator, reconciler, store, domain.BulkLoadOptions{
		BatchSize:            cfg.BulkLoad.BatchSize,
		MaxConcurrent:        cfg.BulkLoad.MaxConcurrent,
		DelayBetweenBatches:  cfg.BulkLoad.DelayBetweenBatches,
		DelayBetweenRequests: cfg.BulkLoad.DelayBetweenRequests,
		MaxRetries:           cfg.BulkLoad.MaxRetries,
		RetryDelay:           cfg.BulkLoad.RetryDelay,
	}, logger)

	onLevelUp := func(c *domain.Character, from, to int) {
		logger.Info("Character leveled up",
			zap.String("name", c.Name),
			zap.String("world", c.World),
			zap.Int("from", from),
			zap.Int("to", to))
	}

	scheduler := service.NewRecoveryScheduler(store, orchestrator, reconciler,
		cfg.Recovery.RunHour, cfg.Recovery.SweepHour, onLevelUp, logger)

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Cache:      cacheSvc,
		Postgres:   postgresSvc,
		Store:      store,
		Registry:   registry,
		Scraper:    orchestrator,
		Reconciler: reconciler,
		BulkLoader: bulkLoader,
		Scheduler:  scheduler,
		closers:    closers,
	}, nil
}
