package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	Scraper  ScraperConfig
	Recovery RecoveryConfig
	BulkLoad BulkLoadConfig
	Logging  LoggingConfig
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type ScraperConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	ResultCacheTTL time.Duration
	EnableCache    bool
}

type RecoveryConfig struct {
	Enabled   bool
	RunHour   int
	SweepHour int
}

type BulkLoadConfig struct {
	BatchSize            int
	MaxConcurrent        int
	DelayBetweenBatches  time.Duration
	DelayBetweenRequests time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "otstats"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "otstats"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Scraper: ScraperConfig{
			UserAgent:      getEnv("SCRAPER_USER_AGENT", ""),
			RequestTimeout: getEnvDuration("SCRAPER_TIMEOUT_SECONDS", 15*time.Second),
			ResultCacheTTL: getEnvDuration("SCRAPER_CACHE_TTL_SECONDS", 5*time.Minute),
			EnableCache:    getEnvBool("SCRAPER_ENABLE_CACHE", true),
		},
		Recovery: RecoveryConfig{
			Enabled:   getEnvBool("RECOVERY_ENABLED", true),
			RunHour:   getEnvInt("RECOVERY_RUN_HOUR", 6),
			SweepHour: getEnvInt("RECOVERY_SWEEP_HOUR", 4),
		},
		BulkLoad: BulkLoadConfig{
			BatchSize:            getEnvInt("BULKLOAD_BATCH_SIZE", 50),
			MaxConcurrent:        getEnvInt("BULKLOAD_MAX_CONCURRENT", 5),
			DelayBetweenBatches:  getEnvDuration("BULKLOAD_BATCH_DELAY_SECONDS", 2*time.Second),
			DelayBetweenRequests: getEnvDuration("BULKLOAD_REQUEST_DELAY_SECONDS", 0),
			MaxRetries:           getEnvInt("BULKLOAD_MAX_RETRIES", 2),
			RetryDelay:           getEnvDuration("BULKLOAD_RETRY_DELAY_SECONDS", 1*time.Second),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if c.Recovery.RunHour < 0 || c.Recovery.RunHour > 23 {
		return fmt.Errorf("RECOVERY_RUN_HOUR must be 0-23")
	}
	if c.Recovery.SweepHour < 0 || c.Recovery.SweepHour > 23 {
		return fmt.Errorf("RECOVERY_SWEEP_HOUR must be 0-23")
	}
	if c.BulkLoad.MaxConcurrent < 1 {
		return fmt.Errorf("BULKLOAD_MAX_CONCURRENT must be at least 1")
	}
	if c.BulkLoad.BatchSize < 1 {
		return fmt.Errorf("BULKLOAD_BATCH_SIZE must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
