package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kapu/otstats-go/internal/constants"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresService struct {
	db     *sql.DB
	logger *zap.Logger
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

func NewPostgresService(cfg PostgresConfig, logger *zap.Logger) (*PostgresService, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(constants.DatabaseConfig.MaxOpenConns)
	db.SetMaxIdleConns(constants.DatabaseConfig.MaxIdleConns)
	db.SetConnMaxLifetime(constants.DatabaseConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("PostgreSQL connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &PostgresService{
		db:     db,
		logger: logger,
	}, nil
}

func (ps *PostgresService) GetDB() *sql.DB {
	return ps.db
}

func (ps *PostgresService) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

func (ps *PostgresService) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

// EnsureSchema creates the tracker tables when they do not exist yet. The
// snapshots uniqueness constraint on (character_id, exp_date) is what makes
// reconciliation upserts safe.
func (ps *PostgresService) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	ps.logger.Info("Database schema ensured")
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS characters (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		server TEXT NOT NULL,
		world TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		vocation TEXT NOT NULL DEFAULT '',
		guild TEXT NOT NULL DEFAULT '',
		guild_rank TEXT NOT NULL DEFAULT '',
		residence TEXT NOT NULL DEFAULT '',
		outfit_url TEXT NOT NULL DEFAULT '',
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_login TIMESTAMPTZ,
		last_scraped_at TIMESTAMPTZ,
		consecutive_error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		next_scrape_at TIMESTAMPTZ,
		recovery_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (name, server, world)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id BIGSERIAL PRIMARY KEY,
		character_id BIGINT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
		exp_date DATE NOT NULL,
		experience_gained BIGINT NOT NULL DEFAULT 0 CHECK (experience_gained >= 0),
		level INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		guild TEXT NOT NULL DEFAULT '',
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		interpolated BOOLEAN NOT NULL DEFAULT FALSE,
		source TEXT NOT NULL DEFAULT '',
		scraped_at TIMESTAMPTZ NOT NULL,
		UNIQUE (character_id, exp_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_character_date
		ON snapshots (character_id, exp_date DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_characters_recovery
		ON characters (is_active, recovery_active, next_scrape_at)`,
}
