package domain

import (
	"time"

	"github.com/kapu/otstats-go/pkg/errors"
)

// ExperienceEntry is one extracted row of a source's experience-history
// table. Date is zero when the day label could not be parsed; RawLabel keeps
// the original text for diagnostics. Sparse sources set Level instead of a
// per-day delta.
type ExperienceEntry struct {
	Date             time.Time
	RawLabel         string
	ExperienceGained int64
	Level            int
	Interpolated     bool
}

// CharacterSnapshot is the normalized output of one extraction: the
// character's current state as the source page presents it, plus the
// experience-history window the page exposes.
type CharacterSnapshot struct {
	Name              string
	Server            string
	World             string
	Level             int
	Vocation          string
	Residence         string
	Guild             string
	GuildRank         string
	Deaths            int
	CharmPoints       *int
	BosstiaryPoints   *int
	AchievementPoints *int
	IsOnline          bool
	LastLogin         *time.Time
	OutfitURL         string
	TotalExperience   int64
	Experience        []ExperienceEntry
}

// ScrapeResult is the sole contract crossing the orchestrator boundary.
// Expected failures are carried here as a kind plus retry policy, never as a
// raw error.
type ScrapeResult struct {
	Success    bool
	Snapshot   *CharacterSnapshot
	ErrorKind  errors.Kind
	ErrorText  string
	RetryAfter time.Duration
	Duration   time.Duration
}
