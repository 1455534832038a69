package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/service/database"
	"go.uber.org/zap"
)

// Repository is the Postgres-backed CharacterStore.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRepository(postgres *database.PostgresService, logger *zap.Logger) *Repository {
	return &Repository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

var _ CharacterStore = (*Repository)(nil)

const characterColumns = `
	id, name, server, world, level, vocation, guild, guild_rank, residence,
	outfit_url, is_online, last_login, last_scraped_at,
	consecutive_error_count, last_error, next_scrape_at,
	recovery_active, is_active, created_at
`

func scanCharacter(row interface{ Scan(...any) error }) (*domain.Character, error) {
	var (
		c             domain.Character
		lastLogin     sql.NullTime
		lastScrapedAt sql.NullTime
		nextScrapeAt  sql.NullTime
	)

	err := row.Scan(
		&c.ID, &c.Name, &c.Server, &c.World, &c.Level, &c.Vocation, &c.Guild,
		&c.GuildRank, &c.Residence, &c.OutfitURL, &c.IsOnline, &lastLogin,
		&lastScrapedAt, &c.ConsecutiveErrors, &c.LastError, &nextScrapeAt,
		&c.RecoveryActive, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastLogin.Valid {
		t := lastLogin.Time
		c.LastLogin = &t
	}
	if lastScrapedAt.Valid {
		t := lastScrapedAt.Time
		c.LastScrapedAt = &t
	}
	if nextScrapeAt.Valid {
		t := nextScrapeAt.Time
		c.NextScrapeAt = &t
	}

	return &c, nil
}

// FindCharacter looks up the unique (name, server, world) key.
func (r *Repository) FindCharacter(ctx context.Context, name, server, world string) (*domain.Character, error) {
	query := `SELECT ` + characterColumns + `
		FROM characters
		WHERE name = $1 AND server = $2 AND world = $3
		LIMIT 1`

	c, err := scanCharacter(r.db.QueryRowContext(ctx, query, name, server, world))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query character by key: %w", err)
	}
	return c, nil
}

func (r *Repository) GetCharacter(ctx context.Context, id int64) (*domain.Character, error) {
	query := `SELECT ` + characterColumns + ` FROM characters WHERE id = $1`

	c, err := scanCharacter(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query character by id: %w", err)
	}
	return c, nil
}

func (r *Repository) CreateCharacter(ctx context.Context, c *domain.Character) (int64, error) {
	query := `
		INSERT INTO characters
			(name, server, world, level, vocation, guild, guild_rank,
			 residence, outfit_url, is_online, last_login,
			 recovery_active, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		c.Name, c.Server, c.World, c.Level, c.Vocation, c.Guild, c.GuildRank,
		c.Residence, c.OutfitURL, c.IsOnline, c.LastLogin,
		c.RecoveryActive, c.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert character: %w", err)
	}

	return id, nil
}

// DeleteCharacter hard-deletes a character; snapshots go with it via the
// foreign key cascade.
func (r *Repository) DeleteCharacter(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM characters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete character: %w", err)
	}
	return nil
}

// SetActive soft-disables (or re-enables) a character without touching its
// history.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE characters SET is_active = $2 WHERE id = $1`, id, active); err != nil {
		return fmt.Errorf("failed to set is_active: %w", err)
	}
	return nil
}

func (r *Repository) SetRecoveryActive(ctx context.Context, id int64, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE characters SET recovery_active = $2 WHERE id = $1`, id, active); err != nil {
		return fmt.Errorf("failed to set recovery_active: %w", err)
	}
	return nil
}

func (r *Repository) MarkScrapeSuccess(ctx context.Context, id int64, next time.Time) error {
	query := `
		UPDATE characters
		SET consecutive_error_count = 0,
		    last_error = '',
		    last_scraped_at = NOW(),
		    next_scrape_at = $2
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, next); err != nil {
		return fmt.Errorf("failed to mark scrape success: %w", err)
	}
	return nil
}

// MarkScrapeFailure bumps the consecutive error counter and returns its new
// value so the caller can apply the deactivation threshold.
func (r *Repository) MarkScrapeFailure(ctx context.Context, id int64, errText string, next time.Time) (int, error) {
	query := `
		UPDATE characters
		SET consecutive_error_count = consecutive_error_count + 1,
		    last_error = $2,
		    last_scraped_at = NOW(),
		    next_scrape_at = $3
		WHERE id = $1
		RETURNING consecutive_error_count
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, id, errText, next).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to mark scrape failure: %w", err)
	}
	return count, nil
}

// DueForRecovery selects the characters the daily job should poll: active,
// still eligible, and either never scheduled or past their next_scrape_at.
func (r *Repository) DueForRecovery(ctx context.Context, now time.Time) ([]*domain.Character, error) {
	query := `SELECT ` + characterColumns + `
		FROM characters
		WHERE is_active AND recovery_active
		  AND (next_scrape_at IS NULL OR next_scrape_at <= $1)
		ORDER BY next_scrape_at NULLS FIRST`

	return r.queryCharacters(ctx, query, now)
}

func (r *Repository) ActiveRecoveryCharacters(ctx context.Context) ([]*domain.Character, error) {
	query := `SELECT ` + characterColumns + `
		FROM characters
		WHERE is_active AND recovery_active
		ORDER BY id`

	return r.queryCharacters(ctx, query)
}

func (r *Repository) queryCharacters(ctx context.Context, query string, args ...any) ([]*domain.Character, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()

	var characters []*domain.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			r.logger.Warn("Failed to scan character row", zap.Error(err))
			continue
		}
		characters = append(characters, c)
	}

	return characters, rows.Err()
}

const snapshotColumns = `
	id, character_id, exp_date, experience_gained, level, deaths, guild,
	is_online, interpolated, source, scraped_at
`

func scanSnapshot(row interface{ Scan(...any) error }) (*domain.Snapshot, error) {
	var s domain.Snapshot
	err := row.Scan(
		&s.ID, &s.CharacterID, &s.ExpDate, &s.ExperienceGained, &s.Level,
		&s.Deaths, &s.Guild, &s.IsOnline, &s.Interpolated, &s.Source,
		&s.ScrapedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) LatestSnapshot(ctx context.Context, characterID int64) (*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE character_id = $1
		ORDER BY exp_date DESC
		LIMIT 1`

	s, err := scanSnapshot(r.db.QueryRowContext(ctx, query, characterID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return s, nil
}

func (r *Repository) SnapshotsSince(ctx context.Context, characterID int64, since time.Time) ([]*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE character_id = $1 AND exp_date >= $2
		ORDER BY exp_date`

	rows, err := r.db.QueryContext(ctx, query, characterID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			r.logger.Warn("Failed to scan snapshot row", zap.Error(err))
			continue
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

func (r *Repository) PositiveExperienceDays(ctx context.Context, characterID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM snapshots
		WHERE character_id = $1 AND exp_date >= $2 AND experience_gained > 0
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, characterID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count positive-experience days: %w", err)
	}
	return count, nil
}

// Begin opens the transaction scope the reconciler writes one character's
// round into.
func (r *Repository) Begin(ctx context.Context) (SnapshotTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &repositoryTx{tx: tx}, nil
}

type repositoryTx struct {
	tx *sql.Tx
}

func (t *repositoryTx) GetSnapshot(ctx context.Context, characterID int64, expDate time.Time) (*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE character_id = $1 AND exp_date = $2
		LIMIT 1`

	s, err := scanSnapshot(t.tx.QueryRowContext(ctx, query, characterID, expDate))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return s, nil
}

func (t *repositoryTx) LatestSnapshot(ctx context.Context, characterID int64) (*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE character_id = $1
		ORDER BY exp_date DESC
		LIMIT 1`

	s, err := scanSnapshot(t.tx.QueryRowContext(ctx, query, characterID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return s, nil
}

func (t *repositoryTx) InsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	query := `
		INSERT INTO snapshots
			(character_id, exp_date, experience_gained, level, deaths, guild,
			 is_online, interpolated, source, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := t.tx.ExecContext(ctx, query,
		snap.CharacterID, snap.ExpDate, snap.ExperienceGained, snap.Level,
		snap.Deaths, snap.Guild, snap.IsOnline, snap.Interpolated,
		snap.Source, snap.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func (t *repositoryTx) UpdateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	query := `
		UPDATE snapshots
		SET experience_gained = $3, level = $4, deaths = $5, guild = $6,
		    is_online = $7, interpolated = $8, source = $9
		WHERE character_id = $1 AND exp_date = $2
	`

	_, err := t.tx.ExecContext(ctx, query,
		snap.CharacterID, snap.ExpDate, snap.ExperienceGained, snap.Level,
		snap.Deaths, snap.Guild, snap.IsOnline, snap.Interpolated, snap.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	return nil
}

func (t *repositoryTx) UpdateCharacter(ctx context.Context, characterID int64, update domain.CharacterUpdate) error {
	query := `
		UPDATE characters
		SET level = $2, vocation = $3, residence = $4, guild = $5,
		    guild_rank = $6, is_online = $7, outfit_url = $8,
		    last_scraped_at = $9
		WHERE id = $1
	`

	_, err := t.tx.ExecContext(ctx, query,
		characterID, update.Level, update.Vocation, update.Residence,
		update.Guild, update.GuildRank, update.IsOnline, update.OutfitURL,
		update.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update character: %w", err)
	}
	return nil
}

func (t *repositoryTx) Commit() error {
	return t.tx.Commit()
}

func (t *repositoryTx) Rollback() error {
	return t.tx.Rollback()
}
