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

// NocteraAdapter scrapes noctera-global.com, a coarse-grained source: no
// per-day experience table, only occasional (date, level) observations and a
// running experience total. Missing days are filled by linear interpolation.
type NocteraAdapter struct {
	baseURL string
	logger  *zap.Logger
}

func NewNocteraAdapter(logger *zap.Logger) *NocteraAdapter {
	return &NocteraAdapter{
		baseURL: "https://noctera-global.com",
		logger:  logger,
	}
}

func (a *NocteraAdapter) ServerName() string {
	return "noctera"
}

func (a *NocteraAdapter) SupportedWorlds() []string {
	return []string{"Noctera", "Umbra"}
}

func (a *NocteraAdapter) RequestDelay(_ string) time.Duration {
	return 750 * time.Millisecond
}

func (a *NocteraAdapter) CharacterURL(name, _ string) string {
	return fmt.Sprintf("%s/character/%s", a.baseURL, util.Slugify(name))
}

func (a *NocteraAdapter) IsNotFound(html string) bool {
	return strings.Contains(html, "No character with this name")
}

func (a *NocteraAdapter) Extract(html, world string) (*domain.CharacterSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.NewInsufficientData(fmt.Sprintf("unparseable markup: %v", err))
	}

	snap := &domain.CharacterSnapshot{
		Server: a.ServerName(),
		World:  world,
	}

	doc.Find("div.char-info p").Each(func(_ int, p *goquery.Selection) {
		text := util.CollapseSpaces(p.Text())
		key, value, found := strings.Cut(text, ":")
		if !found {
			return
		}
		a.applyProfileField(snap, util.Normalize(key), strings.TrimSpace(value))
	})

	if snap.Name == "" {
		snap.Name = util.CollapseSpaces(doc.Find("div.char-info h3").First().Text())
	}

	// The page only hints at the world in its header. The hint is
	// best-effort and never overrides an explicitly supplied world.
	if snap.World == "" {
		snap.World = a.inferWorld(doc)
	}

	snap.Experience = InterpolateLevels(a.levelObservations(doc))

	if snap.Name == "" {
		return nil, errors.NewInsufficientData("character name missing from page")
	}
	if snap.Level < 1 {
		return nil, errors.NewInsufficientData(fmt.Sprintf("character %q has no valid level", snap.Name))
	}

	return snap, nil
}

func (a *NocteraAdapter) applyProfileField(snap *domain.CharacterSnapshot, key, value string) {
	switch key {
	case "name":
		snap.Name = value
	case "level":
		if lvl, err := ParseInt(value); err == nil {
			snap.Level = int(lvl)
		}
	case "vocation":
		snap.Vocation = value
	case "residence":
		snap.Residence = value
	case "guild":
		snap.Guild, snap.GuildRank = splitGuildMembership(value)
	case "status":
		snap.IsOnline = util.Normalize(value) == "online"
	case "total experience":
		if v, err := ParseInt(value); err == nil && v > 0 {
			snap.TotalExperience = v
		}
	}
}

// levelObservations reads the sparse level-history list, items shaped like
// "2025-07-01 - Level 120".
func (a *NocteraAdapter) levelObservations(doc *goquery.Document) []LevelObservation {
	var observations []LevelObservation

	doc.Find("ul.level-history li").Each(func(_ int, item *goquery.Selection) {
		text := util.CollapseSpaces(item.Text())
		datePart, levelPart, found := strings.Cut(text, " - ")
		if !found {
			return
		}

		date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(datePart), util.ServerLocation())
		if err != nil {
			a.logger.Debug("Unparseable level-history date", zap.String("item", text))
			return
		}

		level, err := ParseInt(strings.TrimPrefix(util.Normalize(levelPart), "level "))
		if err != nil {
			a.logger.Debug("Unparseable level-history level", zap.String("item", text))
			return
		}

		observations = append(observations, LevelObservation{
			Date:  date,
			Level: int(level),
		})
	})

	return observations
}

func (a *NocteraAdapter) inferWorld(doc *goquery.Document) string {
	header := util.CollapseSpaces(doc.Find("header .world-banner").Text())
	for _, world := range a.SupportedWorlds() {
		if strings.Contains(strings.ToLower(header), strings.ToLower(world)) {
			return world
		}
	}
	return ""
}
