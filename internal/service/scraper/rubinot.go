package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
	"github.com/kapu/otstats-go/pkg/errors"
	"go.uber.org/zap"
)

// RubinotAdapter scrapes rubinot.com.br character pages: a key/value profile
// table whose row order changes between page versions, plus a rolling 14-day
// experience table with relative day labels.
type RubinotAdapter struct {
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

func NewRubinotAdapter(logger *zap.Logger) *RubinotAdapter {
	return &RubinotAdapter{
		baseURL: "https://rubinot.com.br",
		logger:  logger,
		now:     util.NowServer,
	}
}

func (a *RubinotAdapter) ServerName() string {
	return "rubinot"
}

func (a *RubinotAdapter) SupportedWorlds() []string {
	return []string{"Mystera", "Serena", "Bellum"}
}

var rubinotDelays = map[string]time.Duration{
	"mystera": 1 * time.Second,
}

func (a *RubinotAdapter) RequestDelay(world string) time.Duration {
	if d, ok := rubinotDelays[util.Normalize(world)]; ok {
		return d
	}
	return 500 * time.Millisecond
}

func (a *RubinotAdapter) CharacterURL(name, _ string) string {
	return fmt.Sprintf("%s/?subtopic=characters&name=%s", a.baseURL, util.Slugify(name))
}

func (a *RubinotAdapter) IsNotFound(html string) bool {
	return strings.Contains(html, "Character does not exist") ||
		strings.Contains(html, "could not find character")
}

func (a *RubinotAdapter) Extract(html, world string) (*domain.CharacterSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.NewInsufficientData(fmt.Sprintf("unparseable markup: %v", err))
	}

	snap := &domain.CharacterSnapshot{
		Server: a.ServerName(),
		World:  world,
	}

	// Profile rows are (label, value) pairs in arbitrary order.
	doc.Find("table.TableContent tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		key := util.Normalize(strings.TrimSuffix(util.CollapseSpaces(cells.Eq(0).Text()), ":"))
		value := util.CollapseSpaces(cells.Eq(1).Text())
		a.applyProfileField(snap, key, value)
	})

	// The name shows up in several places; the profile table wins, then the
	// page header, then the title.
	if snap.Name == "" {
		snap.Name = util.CollapseSpaces(doc.Find("h1.character-name").First().Text())
	}
	if snap.Name == "" {
		title := util.CollapseSpaces(doc.Find("title").Text())
		if idx := strings.Index(title, "Character "); idx >= 0 {
			snap.Name = strings.TrimSpace(title[idx+len("Character "):])
		}
	}

	if url, ok := doc.Find("img.outfit").First().Attr("src"); ok {
		snap.OutfitURL = url
	}

	snap.Deaths = doc.Find("table#deaths tr.death").Length()

	a.extractExperienceHistory(doc, snap)

	if snap.Name == "" {
		return nil, errors.NewInsufficientData("character name missing from page")
	}
	if snap.Level < 1 {
		return nil, errors.NewInsufficientData(fmt.Sprintf("character %q has no valid level", snap.Name))
	}

	return snap, nil
}

func (a *RubinotAdapter) applyProfileField(snap *domain.CharacterSnapshot, key, value string) {
	switch key {
	case "name":
		snap.Name = value
	case "level":
		if lvl, err := ParseInt(value); err == nil {
			snap.Level = int(lvl)
		}
	case "vocation":
		snap.Vocation = value
	case "residence", "city":
		snap.Residence = value
	case "guild membership", "guild":
		snap.Guild, snap.GuildRank = splitGuildMembership(value)
	case "status":
		snap.IsOnline = util.Normalize(value) == "online"
	case "last login":
		if t, err := ParseLongDate(value); err == nil {
			snap.LastLogin = &t
		} else {
			a.logger.Debug("Unparseable last login", zap.String("value", value))
		}
	case "charm points":
		if v, err := ParseInt(value); err == nil {
			points := int(v)
			snap.CharmPoints = &points
		}
	case "bosstiary points":
		if v, err := ParseInt(value); err == nil {
			points := int(v)
			snap.BosstiaryPoints = &points
		}
	case "achievement points":
		if v, err := ParseInt(value); err == nil {
			points := int(v)
			snap.AchievementPoints = &points
		}
	case "world":
		// Informational only; the caller's world always wins.
		if snap.World == "" {
			snap.World = value
		}
	}
}

func (a *RubinotAdapter) extractExperienceHistory(doc *goquery.Document, snap *domain.CharacterSnapshot) {
	now := a.now()

	doc.Find("table#experience-history tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		label := util.CollapseSpaces(cells.Eq(0).Text())
		delta, ok := ParseExperienceDelta(cells.Eq(1).Text())
		if !ok {
			a.logger.Debug("Unparseable experience cell",
				zap.String("label", label),
				zap.String("value", cells.Eq(1).Text()))
			return
		}

		snap.Experience = append(snap.Experience, domain.ExperienceEntry{
			Date:             ParseDayLabel(label, now, "Jan 2 2006", "Jan 2", "2006-01-02"),
			RawLabel:         label,
			ExperienceGained: delta,
		})
	})
}
