package scraper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kapu/otstats-go/internal/util"
)

// ParseInt reads integers the way game sites print them: thousands separated
// by commas or dots, wrapped in arbitrary whitespace.
func ParseInt(text string) (int64, error) {
	cleaned := util.CollapseSpaces(text)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	if cleaned == "" {
		return 0, fmt.Errorf("empty number")
	}

	value, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable number %q: %w", text, err)
	}
	return value, nil
}

// Experience tables write zero-gain days as a sentinel instead of a number.
var noExperienceSentinels = []string{
	"no experience",
	"no experience gained",
	"none",
	"-",
	"—",
}

// ParseExperienceDelta reads one experience cell. Sentinels map to 0;
// negative deltas (rollbacks on the source side) are clamped to 0 before
// they ever leave the extractor.
func ParseExperienceDelta(text string) (int64, bool) {
	cleaned := util.Normalize(util.CollapseSpaces(text))
	if cleaned == "" {
		return 0, false
	}
	if util.Contains(noExperienceSentinels, cleaned) {
		return 0, true
	}

	value, err := ParseInt(strings.TrimPrefix(cleaned, "+"))
	if err != nil {
		return 0, false
	}
	if value < 0 {
		return 0, true
	}
	return value, true
}

// Timezone suffixes the sources append to timestamps. The values are already
// rendered in server-local time, so the token is noise.
var timezoneSuffixes = []string{"CEST", "CET", "UTC", "GMT", "BRT", "BST"}

var longDateLayouts = []string{
	"Jan 2 2006, 15:04:05",
	"Jan 2 2006, 15:04",
	"Jan 2, 2006, 15:04:05",
	"Jan 2, 2006, 15:04",
	"January 2 2006, 15:04:05",
	"January 2, 2006, 15:04:05",
	"January 2, 2006, 15:04",
	"2 January 2006, 15:04:05",
	"2 January 2006, 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ParseLongDate parses profile-style timestamps: locale month names, an
// optional timezone token, and "start → end" session ranges where only the
// start matters.
func ParseLongDate(text string) (time.Time, error) {
	cleaned := util.CollapseSpaces(text)

	// Session ranges keep only the start.
	for _, sep := range []string{"→", " to "} {
		if idx := strings.Index(cleaned, sep); idx >= 0 {
			cleaned = strings.TrimSpace(cleaned[:idx])
		}
	}

	for _, tz := range timezoneSuffixes {
		cleaned = strings.TrimSuffix(cleaned, " "+tz)
	}
	cleaned = strings.TrimSpace(cleaned)

	for _, layout := range longDateLayouts {
		if t, err := time.ParseInLocation(layout, cleaned, util.ServerLocation()); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable date %q", text)
}

// ParseDayLabel resolves one experience-table day label to a calendar date.
// Labels are either relative tokens ("today", "yesterday") or absolute dates
// in one of the adapter's layouts. Year-less labels resolve to the most
// recent past occurrence. Returns the zero time when nothing matches.
func ParseDayLabel(label string, now time.Time, layouts ...string) time.Time {
	cleaned := util.Normalize(util.CollapseSpaces(label))

	switch cleaned {
	case "today":
		return util.DateOnly(now)
	case "yesterday":
		return util.DateOnly(now).AddDate(0, 0, -1)
	}

	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, util.CollapseSpaces(label), util.ServerLocation())
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, util.ServerLocation())
			if t.After(now) {
				t = t.AddDate(-1, 0, 0)
			}
		}
		return util.DateOnly(t)
	}

	return time.Time{}
}

// splitGuildMembership splits "Rank of the Guildname" style values. When no
// rank is present the whole value is the guild.
func splitGuildMembership(text string) (guild, rank string) {
	cleaned := util.CollapseSpaces(text)
	if cleaned == "" {
		return "", ""
	}

	if idx := strings.Index(cleaned, " of the "); idx > 0 {
		return strings.TrimSpace(cleaned[idx+len(" of the "):]), strings.TrimSpace(cleaned[:idx])
	}
	if idx := strings.Index(cleaned, " of "); idx > 0 {
		return strings.TrimSpace(cleaned[idx+len(" of "):]), strings.TrimSpace(cleaned[:idx])
	}
	return cleaned, ""
}
