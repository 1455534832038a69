package domain

import "time"

// Snapshot is one persisted historical observation for a character-date
// pair. ExpDate is the calendar day the observation describes; ScrapedAt is
// when the fetch happened. For history-derived rows ScrapedAt is synthesized
// to ExpDate so ordering by either stays consistent.
type Snapshot struct {
	ID               int64
	CharacterID      int64
	ExpDate          time.Time
	ExperienceGained int64
	Level            int
	Deaths           int
	Guild            string
	IsOnline         bool
	Interpolated     bool
	Source           string
	ScrapedAt        time.Time
}

// Reconcile source tags.
const (
	SourceManual    = "manual"
	SourceScheduled = "scheduled"
	SourceRefresh   = "refresh"
	SourceBulkLoad  = "bulk_load"
)

// ReconcileResult reports what one reconciliation round did.
type ReconcileResult struct {
	Created int
	Updated int
	Skipped int
}
