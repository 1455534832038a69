package scraper

import (
	"sort"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
)

// LevelObservation is one sparse (date, level) point from a coarse-grained
// source.
type LevelObservation struct {
	Date  time.Time
	Level int
}

// InterpolateLevels turns a sparse level series into a daily one. Observed
// points pass through untouched; every missing day inside a gap gets a
// linearly interpolated level, flagged as such. Fewer than two observations
// means nothing to interpolate; pairs whose dates do not strictly increase
// are skipped. Negative level deltas (character resets) interpolate
// arithmetically like any other slope.
func InterpolateLevels(observations []LevelObservation) []domain.ExperienceEntry {
	sorted := make([]LevelObservation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var entries []domain.ExperienceEntry
	for i, obs := range sorted {
		entries = append(entries, domain.ExperienceEntry{
			Date:  util.DateOnly(obs.Date),
			Level: obs.Level,
		})

		if i+1 >= len(sorted) {
			break
		}

		next := sorted[i+1]
		gap := util.DaysBetween(obs.Date, next.Date)
		if gap <= 1 {
			continue
		}

		for day := 1; day < gap; day++ {
			level := obs.Level + floorDiv((next.Level-obs.Level)*day, gap)
			entries = append(entries, domain.ExperienceEntry{
				Date:         util.DateOnly(obs.Date).AddDate(0, 0, day),
				Level:        level,
				Interpolated: true,
			})
		}
	}

	return entries
}

// floorDiv divides rounding toward negative infinity, so downward slopes
// interpolate symmetrically to upward ones.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
