package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheService wraps Redis as a short-TTL scrape-result cache. Its job is to
// absorb duplicate manual refreshes of the same character page before they
// hit the external site.
type CacheService struct {
	client *redis.Client
	logger *zap.Logger
}

type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func NewCacheService(cfg CacheConfig, logger *zap.Logger) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.NewCacheError("ping", "", err)
	}

	logger.Info("Redis connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB),
	)

	return &CacheService{
		client: client,
		logger: logger,
	}, nil
}

func (c *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Error("Cache get failed", zap.String("key", key), zap.Error(err))
		return false, errors.NewCacheError("get", key, err)
	}

	if dest != nil {
		if err := json.Unmarshal([]byte(value), dest); err != nil {
			c.logger.Error("Cache unmarshal failed", zap.String("key", key), zap.Error(err))
			return false, errors.NewCacheError("get", key, err)
		}
	}

	return true, nil
}

func (c *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return errors.NewCacheError("set", key, err)
	}

	if err := c.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		c.logger.Error("Cache set failed", zap.String("key", key), zap.Error(err))
		return errors.NewCacheError("set", key, err)
	}

	return nil
}

func (c *CacheService) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Cache delete failed", zap.String("key", key), zap.Error(err))
		return errors.NewCacheError("del", key, err)
	}
	return nil
}

func scrapeKey(server, world, name string) string {
	return fmt.Sprintf("scrape:%s:%s:%s", server, world, name)
}

// GetScrape returns a recently cached extraction for the character, if any.
// Errors degrade to a miss; the orchestrator just scrapes again.
func (c *CacheService) GetScrape(ctx context.Context, server, world, name string) (*domain.CharacterSnapshot, bool) {
	var snap domain.CharacterSnapshot
	found, err := c.Get(ctx, scrapeKey(server, world, name), &snap)
	if err != nil || !found {
		return nil, false
	}
	return &snap, true
}

func (c *CacheService) SetScrape(ctx context.Context, server, world, name string, snap *domain.CharacterSnapshot, ttl time.Duration) {
	if err := c.Set(ctx, scrapeKey(server, world, name), snap, ttl); err != nil {
		c.logger.Warn("Failed to cache scrape result",
			zap.String("server", server),
			zap.String("name", name),
			zap.Error(err))
	}
}

// InvalidateScrape drops the cached extraction, used when a caller forces a
// fresh fetch.
func (c *CacheService) InvalidateScrape(ctx context.Context, server, world, name string) {
	if err := c.Del(ctx, scrapeKey(server, world, name)); err != nil {
		c.logger.Warn("Failed to invalidate scrape cache",
			zap.String("server", server),
			zap.String("name", name),
			zap.Error(err))
	}
}

func (c *CacheService) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection", zap.Error(err))
		return err
	}
	c.logger.Info("Redis disconnected")
	return nil
}

func (c *CacheService) IsConnected(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
