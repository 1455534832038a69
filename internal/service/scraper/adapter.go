package scraper

import (
	"sort"
	"strings"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"go.uber.org/zap"
)

// Adapter is the per-server scraping capability: where a character page
// lives, how fast the server tolerates being polled, how it phrases
// "character not found", and how its markup maps to a normalized snapshot.
// One implementation per server; the orchestrator is generic over this.
type Adapter interface {
	ServerName() string
	SupportedWorlds() []string
	RequestDelay(world string) time.Duration
	CharacterURL(name, world string) string
	IsNotFound(html string) bool
	Extract(html, world string) (*domain.CharacterSnapshot, error)
}

// Registry resolves adapters by server name, case-insensitively.
type Registry struct {
	adapters map[string]Adapter
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		logger:   logger,
	}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.ServerName())] = a
	}

	logger.Info("Scraper registry initialized",
		zap.Int("adapters", len(r.adapters)),
		zap.Strings("servers", r.Servers()))

	return r
}

func (r *Registry) Get(server string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(server))]
	return a, ok
}

func (r *Registry) Servers() []string {
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.ServerName())
	}
	sort.Strings(names)
	return names
}
