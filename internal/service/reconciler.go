package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
	"go.uber.org/zap"
)

// Reconciler merges freshly extracted experience history into the persisted
// per-date timeline. Upserts key on (character_id, exp_date) with
// last-write-wins semantics: a later scrape's view of a past day is treated
// as more complete. Re-running identical input is a no-op.
type Reconciler struct {
	store  CharacterStore
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(store CharacterStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    util.NowServer,
	}
}

// Reconcile writes one scrape round for one character. Every day-entry of
// the round commits in a single transaction; a persistence failure rolls the
// whole round back and reports a hard failure for this character alone.
func (r *Reconciler) Reconcile(ctx context.Context, characterID int64, snap *domain.CharacterSnapshot, source string) (*domain.ReconcileResult, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open reconcile transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	result := &domain.ReconcileResult{}

	var dated []domain.ExperienceEntry
	for _, entry := range snap.Experience {
		if entry.Date.IsZero() {
			result.Skipped++
			r.logger.Debug("Skipping entry with unparseable date",
				zap.Int64("character_id", characterID),
				zap.String("label", entry.RawLabel))
			continue
		}
		dated = append(dated, entry)
	}

	// Sources that expose only a running total produce no history rows;
	// those still get one observation for today.
	if len(dated) == 0 {
		dated = append(dated, domain.ExperienceEntry{
			Date:  util.DateOnly(r.now()),
			Level: snap.Level,
		})
	}

	var latestDate time.Time

	for _, entry := range dated {
		written, err := r.upsertEntry(ctx, tx, characterID, snap, entry, source)
		if err != nil {
			return nil, err
		}
		if written.created {
			result.Created++
		} else {
			result.Updated++
		}
		if entry.Date.After(latestDate) {
			latestDate = entry.Date
		}
	}

	// Guild propagation takes the snapshot with the most recent exp_date,
	// not the last one processed; batches are not guaranteed date-ordered
	// and an older batch must not clobber guild state observed for a newer
	// day.
	guild, guildRank := snap.Guild, snap.GuildRank
	if latest, err := tx.LatestSnapshot(ctx, characterID); err != nil {
		return nil, fmt.Errorf("failed to look up latest snapshot: %w", err)
	} else if latest != nil && latest.ExpDate.After(latestDate) {
		guild = latest.Guild
		guildRank = ""
	}

	update := domain.CharacterUpdate{
		Level:         snap.Level,
		Vocation:      snap.Vocation,
		Residence:     snap.Residence,
		Guild:         guild,
		GuildRank:     guildRank,
		IsOnline:      snap.IsOnline,
		OutfitURL:     snap.OutfitURL,
		LastScrapedAt: r.now(),
	}
	if err := tx.UpdateCharacter(ctx, characterID, update); err != nil {
		return nil, fmt.Errorf("failed to propagate character state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconcile transaction: %w", err)
	}
	committed = true

	r.logger.Info("Reconciled snapshot history",
		zap.Int64("character_id", characterID),
		zap.String("source", source),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Time("latest_exp_date", latestDate))

	return result, nil
}

type upsertOutcome struct {
	created bool
}

func (r *Reconciler) upsertEntry(ctx context.Context, tx SnapshotTx, characterID int64, snap *domain.CharacterSnapshot, entry domain.ExperienceEntry, source string) (upsertOutcome, error) {
	expDate := util.DateOnly(entry.Date)

	gained := entry.ExperienceGained
	if gained < 0 {
		gained = 0
	}

	level := entry.Level
	if level == 0 {
		level = snap.Level
	}

	row := &domain.Snapshot{
		CharacterID:      characterID,
		ExpDate:          expDate,
		ExperienceGained: gained,
		Level:            level,
		Deaths:           snap.Deaths,
		Guild:            snap.Guild,
		IsOnline:         snap.IsOnline,
		Interpolated:     entry.Interpolated,
		Source:           source,
	}

	existing, err := tx.GetSnapshot(ctx, characterID, expDate)
	if err != nil {
		return upsertOutcome{}, fmt.Errorf("failed to look up snapshot for %s: %w", expDate.Format("2006-01-02"), err)
	}

	if existing != nil {
		// Keep the original scraped_at; only observed fields move.
		row.ID = existing.ID
		row.ScrapedAt = existing.ScrapedAt
		if err := tx.UpdateSnapshot(ctx, row); err != nil {
			return upsertOutcome{}, fmt.Errorf("failed to update snapshot for %s: %w", expDate.Format("2006-01-02"), err)
		}
		return upsertOutcome{created: false}, nil
	}

	// History-derived rows synthesize scraped_at to their own exp_date so
	// ordering by either column stays consistent.
	row.ScrapedAt = expDate
	if util.SameDay(expDate, r.now()) {
		row.ScrapedAt = r.now()
	}
	if err := tx.InsertSnapshot(ctx, row); err != nil {
		return upsertOutcome{}, fmt.Errorf("failed to insert snapshot for %s: %w", expDate.Format("2006-01-02"), err)
	}
	return upsertOutcome{created: true}, nil
}
