package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kapu/otstats-go/internal/constants"
	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
	"github.com/kapu/otstats-go/pkg/errors"
	"go.uber.org/zap"
)

// ResultCache absorbs duplicate scrapes of the same character page within a
// short window. A nil cache disables it.
type ResultCache interface {
	GetScrape(ctx context.Context, server, world, name string) (*domain.CharacterSnapshot, bool)
	SetScrape(ctx context.Context, server, world, name string, snap *domain.CharacterSnapshot, ttl time.Duration)
}

// Orchestrator drives one scrape round through its stages: validate world,
// pace, fetch, textual not-found detection, extract, minimum-data
// validation. Every stage short-circuits into a classified ScrapeResult;
// expected failures never escape as errors.
type Orchestrator struct {
	registry *Registry
	fetcher  *FetchClient
	cache    ResultCache
	cacheTTL time.Duration
	logger   *zap.Logger

	breakerMu sync.Mutex
	breakers  map[string]*util.CircuitBreaker

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

func NewOrchestrator(registry *Registry, fetcher *FetchClient, cache ResultCache, cacheTTL time.Duration, logger *zap.Logger) *Orchestrator {
	if cacheTTL <= 0 {
		cacheTTL = constants.ScraperConfig.ResultCacheTTL
	}
	return &Orchestrator{
		registry: registry,
		fetcher:  fetcher,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		breakers: make(map[string]*util.CircuitBreaker),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// Breaker thresholds for one game site. Page-level failures (not found,
// thin profiles) never trip it; only the site itself going dark does.
const (
	breakerFailureThreshold = 5
	breakerResetTimeout     = 2 * time.Minute
)

func (o *Orchestrator) breaker(server string) *util.CircuitBreaker {
	o.breakerMu.Lock()
	defer o.breakerMu.Unlock()

	cb, ok := o.breakers[server]
	if !ok {
		cb = util.NewCircuitBreaker(server, breakerFailureThreshold, breakerResetTimeout, o.logger)
		o.breakers[server] = cb
	}
	return cb
}

func isInfrastructureFailure(kind errors.Kind) bool {
	switch kind {
	case errors.KindNetworkError, errors.KindTimeout, errors.KindHTTPError:
		return true
	}
	return false
}

// Scrape runs one full round for a character. An empty world is allowed for
// adapters that can infer it from the page; a non-empty world must be on the
// adapter's supported list.
func (o *Orchestrator) Scrape(ctx context.Context, server, name, world string) *domain.ScrapeResult {
	start := o.now()

	adapter, ok := o.registry.Get(server)
	if !ok {
		return o.failure(start, &errors.ScrapeError{
			Kind:    errors.KindUnsupportedWorld,
			Message: fmt.Sprintf("no adapter for server %q", server),
		})
	}

	if world != "" && !util.ContainsFold(adapter.SupportedWorlds(), world) {
		return o.failure(start, errors.NewUnsupportedWorld(world))
	}

	if o.cache != nil {
		if snap, hit := o.cache.GetScrape(ctx, server, world, name); hit {
			o.logger.Debug("Scrape cache hit",
				zap.String("server", server),
				zap.String("name", name))
			return o.success(start, snap)
		}
	}

	cb := o.breaker(server)
	if !cb.CanExecute() {
		return o.failure(start, errors.NewNetworkError(
			fmt.Sprintf("server %s is unreachable, backing off", server), nil))
	}

	if delay := adapter.RequestDelay(world); delay > 0 {
		o.sleep(ctx, delay)
	}
	if err := ctx.Err(); err != nil {
		return o.failure(start, errors.NewTimeout("scrape cancelled", err))
	}

	body, err := o.fetcher.Get(ctx, adapter.CharacterURL(name, world))
	if err != nil {
		if isInfrastructureFailure(errors.KindOf(err)) {
			cb.RecordFailure()
		}
		return o.failure(start, err)
	}
	cb.RecordSuccess()

	// Plenty of sources answer 200 with an error page.
	if adapter.IsNotFound(body) {
		return o.failure(start, errors.NewNotFound(
			fmt.Sprintf("character %q not found on %s", name, server)))
	}

	snap, err := adapter.Extract(body, world)
	if err != nil {
		return o.failure(start, err)
	}

	if snap.Name == "" || snap.Level < constants.ScraperConfig.MinimumLevel {
		return o.failure(start, errors.NewInsufficientData(
			fmt.Sprintf("extraction for %q produced no usable data", name)))
	}

	if o.cache != nil {
		o.cache.SetScrape(ctx, server, world, name, snap, o.cacheTTL)
	}

	o.logger.Info("Scrape succeeded",
		zap.String("server", server),
		zap.String("name", snap.Name),
		zap.Int("level", snap.Level),
		zap.Int("history_entries", len(snap.Experience)))

	return o.success(start, snap)
}

func (o *Orchestrator) success(start time.Time, snap *domain.CharacterSnapshot) *domain.ScrapeResult {
	return &domain.ScrapeResult{
		Success:  true,
		Snapshot: snap,
		Duration: o.now().Sub(start),
	}
}

func (o *Orchestrator) failure(start time.Time, err error) *domain.ScrapeResult {
	kind := errors.KindOf(err)

	var se *errors.ScrapeError
	if !stderrors.As(err, &se) {
		se = errors.NewInternal(err.Error(), err)
	}

	o.logger.Warn("Scrape failed",
		zap.String("kind", string(kind)),
		zap.String("error", se.Error()))

	return &domain.ScrapeResult{
		Success:    false,
		ErrorKind:  kind,
		ErrorText:  se.Error(),
		RetryAfter: constants.RetryAfter(kind),
		Duration:   o.now().Sub(start),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
