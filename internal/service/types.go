package service

import (
	"context"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
)

// Scraper runs one full scrape round for a character and reports the typed
// outcome. Implemented by scraper.Orchestrator; faked in tests.
type Scraper interface {
	Scrape(ctx context.Context, server, name, world string) *domain.ScrapeResult
}

// SnapshotTx scopes one character's reconciliation to a single transaction.
// Either Commit lands every day-entry of the round or Rollback removes all
// of them; a partial day-history must never become visible.
type SnapshotTx interface {
	GetSnapshot(ctx context.Context, characterID int64, expDate time.Time) (*domain.Snapshot, error)
	LatestSnapshot(ctx context.Context, characterID int64) (*domain.Snapshot, error)
	InsertSnapshot(ctx context.Context, snap *domain.Snapshot) error
	UpdateSnapshot(ctx context.Context, snap *domain.Snapshot) error
	UpdateCharacter(ctx context.Context, characterID int64, update domain.CharacterUpdate) error
	Commit() error
	Rollback() error
}

// CharacterStore is the persistence surface consumed by the reconciler, the
// bulk loader and the recovery scheduler. Lookup misses return (nil, nil).
type CharacterStore interface {
	FindCharacter(ctx context.Context, name, server, world string) (*domain.Character, error)
	GetCharacter(ctx context.Context, id int64) (*domain.Character, error)
	CreateCharacter(ctx context.Context, c *domain.Character) (int64, error)
	Begin(ctx context.Context) (SnapshotTx, error)

	LatestSnapshot(ctx context.Context, characterID int64) (*domain.Snapshot, error)
	SnapshotsSince(ctx context.Context, characterID int64, since time.Time) ([]*domain.Snapshot, error)
	PositiveExperienceDays(ctx context.Context, characterID int64, since time.Time) (int, error)

	DueForRecovery(ctx context.Context, now time.Time) ([]*domain.Character, error)
	ActiveRecoveryCharacters(ctx context.Context) ([]*domain.Character, error)
	MarkScrapeSuccess(ctx context.Context, id int64, next time.Time) error
	MarkScrapeFailure(ctx context.Context, id int64, errText string, next time.Time) (int, error)
	SetRecoveryActive(ctx context.Context, id int64, active bool) error
}
