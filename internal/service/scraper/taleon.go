package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
	"github.com/kapu/otstats-go/pkg/errors"
	"go.uber.org/zap"
)

// TaleonAdapter scrapes taleon.online character profiles. Each world lives
// on its own subdomain; the profile is a definition list and the experience
// table uses absolute day-first dates.
type TaleonAdapter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTaleonAdapter(logger *zap.Logger) *TaleonAdapter {
	return &TaleonAdapter{
		logger: logger,
		now:    util.NowServer,
	}
}

func (a *TaleonAdapter) ServerName() string {
	return "taleon"
}

func (a *TaleonAdapter) SupportedWorlds() []string {
	return []string{"Aura", "Gaia", "San"}
}

var taleonDelays = map[string]time.Duration{
	"san": 1 * time.Second,
}

func (a *TaleonAdapter) RequestDelay(world string) time.Duration {
	if d, ok := taleonDelays[util.Normalize(world)]; ok {
		return d
	}
	return 600 * time.Millisecond
}

func (a *TaleonAdapter) CharacterURL(name, world string) string {
	return fmt.Sprintf("https://%s.taleon.online/characterprofile.php?name=%s",
		util.Normalize(world), url.QueryEscape(name))
}

func (a *TaleonAdapter) IsNotFound(html string) bool {
	return strings.Contains(html, "does not exist on this world") ||
		strings.Contains(html, "Character not found")
}

func (a *TaleonAdapter) Extract(html, world string) (*domain.CharacterSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.NewInsufficientData(fmt.Sprintf("unparseable markup: %v", err))
	}

	snap := &domain.CharacterSnapshot{
		Server: a.ServerName(),
		World:  world,
	}

	doc.Find("dl.character-details").Each(func(_ int, list *goquery.Selection) {
		terms := list.Find("dt")
		values := list.Find("dd")
		for i := 0; i < terms.Length() && i < values.Length(); i++ {
			key := util.Normalize(strings.TrimSuffix(util.CollapseSpaces(terms.Eq(i).Text()), ":"))
			value := util.CollapseSpaces(values.Eq(i).Text())
			a.applyProfileField(snap, key, value)
		}
	})

	if snap.Name == "" {
		snap.Name = util.CollapseSpaces(doc.Find("div.profile h2").First().Text())
	}

	a.extractExperienceHistory(doc, snap)

	if snap.Name == "" {
		return nil, errors.NewInsufficientData("character name missing from page")
	}
	if snap.Level < 1 {
		return nil, errors.NewInsufficientData(fmt.Sprintf("character %q has no valid level", snap.Name))
	}

	return snap, nil
}

func (a *TaleonAdapter) applyProfileField(snap *domain.CharacterSnapshot, key, value string) {
	switch key {
	case "name":
		snap.Name = value
	case "level":
		if lvl, err := ParseInt(value); err == nil {
			snap.Level = int(lvl)
		}
	case "vocation":
		snap.Vocation = value
	case "residence", "town":
		snap.Residence = value
	case "guild":
		snap.Guild, snap.GuildRank = splitGuildMembership(value)
	case "status":
		snap.IsOnline = util.Normalize(value) == "online"
	case "deaths":
		if v, err := ParseInt(value); err == nil {
			snap.Deaths = int(v)
		}
	case "last login":
		if t, err := ParseLongDate(value); err == nil {
			snap.LastLogin = &t
		} else {
			a.logger.Debug("Unparseable last login", zap.String("value", value))
		}
	case "achievement points":
		if v, err := ParseInt(value); err == nil {
			points := int(v)
			snap.AchievementPoints = &points
		}
	}
}

func (a *TaleonAdapter) extractExperienceHistory(doc *goquery.Document, snap *domain.CharacterSnapshot) {
	now := a.now()

	doc.Find("table.exp-history tbody tr").Each(func(_ int, row *goquery.Selection) {
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
			Date:             ParseDayLabel(label, now, "02/01/2006", "2006-01-02"),
			RawLabel:         label,
			ExperienceGained: delta,
		})
	})
}
