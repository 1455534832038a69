package service

import (
	"context"
	"testing"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
	"go.uber.org/zap"
)

func day(yyyy int, mm time.Month, dd int) time.Time {
	return time.Date(yyyy, mm, dd, 0, 0, 0, 0, util.ServerLocation())
}

func newTestReconciler(store *memoryStore, now time.Time) *Reconciler {
	r := NewReconciler(store, zap.NewNop())
	r.now = func() time.Time { return now }
	return r
}

func trackedCharacter(store *memoryStore) int64 {
	return store.addCharacter(&domain.Character{
		Name:           "Kael",
		Server:         "rubinot",
		World:          "Mystera",
		Level:          300,
		RecoveryActive: true,
		IsActive:       true,
	})
}

func historySnapshot(level int, entries ...domain.ExperienceEntry) *domain.CharacterSnapshot {
	return &domain.CharacterSnapshot{
		Name:       "Kael",
		Server:     "rubinot",
		World:      "Mystera",
		Level:      level,
		Experience: entries,
	}
}

func TestReconcileCreatesThenUpdates(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	first := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 10), ExperienceGained: 1000, Level: 310},
		domain.ExperienceEntry{Date: day(2025, 7, 11), ExperienceGained: 0, Level: 310},
		domain.ExperienceEntry{Date: day(2025, 7, 12), ExperienceGained: 500, Level: 312},
	)

	result, err := r.Reconcile(context.Background(), id, first, domain.SourceScheduled)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Created != 3 || result.Updated != 0 || result.Skipped != 0 {
		t.Fatalf("first round = %+v, want 3 created", result)
	}

	// A later scrape revises two of the same days; the third stays untouched.
	second := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 10), ExperienceGained: 1000, Level: 310},
		domain.ExperienceEntry{Date: day(2025, 7, 11), ExperienceGained: 200, Level: 311},
	)

	result, err = r.Reconcile(context.Background(), id, second, domain.SourceScheduled)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Created != 0 || result.Updated != 2 {
		t.Fatalf("second round = %+v, want 0 created 2 updated", result)
	}

	if got := store.snapshotOn(id, day(2025, 7, 11)).ExperienceGained; got != 200 {
		t.Errorf("revised day gained = %d, want 200", got)
	}
	if got := store.snapshotOn(id, day(2025, 7, 12)).ExperienceGained; got != 500 {
		t.Errorf("untouched day gained = %d, want 500", got)
	}
	if store.snapshotCount(id) != 3 {
		t.Errorf("snapshot count = %d, want 3", store.snapshotCount(id))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	snap := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 10), ExperienceGained: 1000, Level: 310},
		domain.ExperienceEntry{Date: day(2025, 7, 11), ExperienceGained: 500, Level: 311},
	)

	if _, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	result, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Created != 0 || result.Updated != 2 {
		t.Errorf("re-run = %+v, want 0 created 2 updated", result)
	}
	if store.snapshotCount(id) != 2 {
		t.Errorf("snapshot count = %d, want 2", store.snapshotCount(id))
	}
	if got := store.snapshotOn(id, day(2025, 7, 11)).ExperienceGained; got != 500 {
		t.Errorf("gained = %d, want 500", got)
	}
}

func TestReconcileSkipsUnparseableDates(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	snap := historySnapshot(312,
		domain.ExperienceEntry{RawLabel: "soon", ExperienceGained: 1000},
		domain.ExperienceEntry{Date: day(2025, 7, 11), ExperienceGained: 500, Level: 311},
	)

	result, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Skipped != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want 1 skipped 1 created", result)
	}
}

func TestReconcileFallbackForHistorylessSource(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	// No dated entries at all still produces one observation for today.
	snap := historySnapshot(312)

	result, err := r.Reconcile(context.Background(), id, snap, domain.SourceManual)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("result = %+v, want 1 created", result)
	}

	row := store.snapshotOn(id, now)
	if row == nil {
		t.Fatal("expected a snapshot for today")
	}
	if row.Level != 312 || row.ExperienceGained != 0 {
		t.Errorf("fallback row = level %d gained %d, want 312 and 0", row.Level, row.ExperienceGained)
	}
}

func TestReconcileClampsNegativeGain(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	snap := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 11), ExperienceGained: -9000, Level: 311},
	)

	if _, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if got := store.snapshotOn(id, day(2025, 7, 11)).ExperienceGained; got != 0 {
		t.Errorf("gained = %d, want clamped 0", got)
	}
}

func TestReconcileSynthesizesScrapedAt(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	snap := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 10), ExperienceGained: 1000, Level: 310},
		domain.ExperienceEntry{Date: day(2025, 7, 12), ExperienceGained: 500, Level: 312},
	)

	if _, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	past := store.snapshotOn(id, day(2025, 7, 10))
	if !past.ScrapedAt.Equal(day(2025, 7, 10)) {
		t.Errorf("history row ScrapedAt = %v, want its own exp date", past.ScrapedAt)
	}

	today := store.snapshotOn(id, day(2025, 7, 12))
	if !today.ScrapedAt.Equal(now) {
		t.Errorf("today's row ScrapedAt = %v, want scrape time %v", today.ScrapedAt, now)
	}
}

func TestReconcilePropagatesCharacterState(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	snap := historySnapshot(315,
		domain.ExperienceEntry{Date: day(2025, 7, 12), ExperienceGained: 500, Level: 315},
	)
	snap.Vocation = "Elite Knight"
	snap.Guild = "Red Rose"
	snap.GuildRank = "Leader"
	snap.IsOnline = true

	if _, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	c, _ := store.GetCharacter(context.Background(), id)
	if c.Level != 315 || c.Vocation != "Elite Knight" || !c.IsOnline {
		t.Errorf("character state = level %d vocation %q online %v", c.Level, c.Vocation, c.IsOnline)
	}
	if c.Guild != "Red Rose" || c.GuildRank != "Leader" {
		t.Errorf("guild = (%q, %q), want (Red Rose, Leader)", c.Guild, c.GuildRank)
	}
	if c.LastScrapedAt == nil || !c.LastScrapedAt.Equal(now) {
		t.Errorf("LastScrapedAt = %v, want %v", c.LastScrapedAt, now)
	}
}

func TestReconcileGuildKeepsNewerObservation(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 20, 18, 0, 0, 0, util.ServerLocation())

	// A newer scrape already recorded a guild change for Jul 20.
	store.snapshots[id] = map[string]*domain.Snapshot{
		dateKey(day(2025, 7, 20)): {
			ID:          99,
			CharacterID: id,
			ExpDate:     day(2025, 7, 20),
			Guild:       "New Guild",
			Level:       320,
		},
	}

	r := newTestReconciler(store, now)

	// An older batch arriving late must not clobber the newer guild state.
	snap := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 10), ExperienceGained: 1000, Level: 310},
	)
	snap.Guild = "Old Guild"
	snap.GuildRank = "Member"

	if _, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	c, _ := store.GetCharacter(context.Background(), id)
	if c.Guild != "New Guild" {
		t.Errorf("guild = %q, want the newer observation kept", c.Guild)
	}
	if c.GuildRank != "" {
		t.Errorf("guild rank = %q, want empty when taken from history", c.GuildRank)
	}
}

func TestReconcileRollsBackOnInsertFailure(t *testing.T) {
	store := newMemoryStore()
	id := trackedCharacter(store)
	now := time.Date(2025, 7, 12, 18, 0, 0, 0, util.ServerLocation())
	r := newTestReconciler(store, now)

	store.insertErr = context.DeadlineExceeded

	snap := historySnapshot(312,
		domain.ExperienceEntry{Date: day(2025, 7, 10), ExperienceGained: 1000, Level: 310},
		domain.ExperienceEntry{Date: day(2025, 7, 11), ExperienceGained: 500, Level: 311},
	)

	if _, err := r.Reconcile(context.Background(), id, snap, domain.SourceScheduled); err == nil {
		t.Fatal("expected reconcile to fail")
	}
	if store.snapshotCount(id) != 0 {
		t.Errorf("snapshot count = %d, want 0 after rollback", store.snapshotCount(id))
	}
}
