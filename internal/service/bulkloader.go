package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kapu/otstats-go/internal/constants"
	"github.com/kapu/otstats-go/internal/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// BulkLoader onboards many characters at once: sequential batches, bounded
// concurrency inside each batch, per-character retries. One bad character
// never aborts its batch.
type BulkLoader struct {
	scraper    Scraper
	reconciler *Reconciler
	store      CharacterStore
	logger     *zap.Logger
	opts       domain.BulkLoadOptions

	sleep func(ctx context.Context, d time.Duration)
}

func NewBulkLoader(scraper Scraper, reconciler *Reconciler, store CharacterStore, opts domain.BulkLoadOptions, logger *zap.Logger) *BulkLoader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.BulkLoadDefaults.BatchSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = constants.BulkLoadDefaults.MaxConcurrent
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = constants.BulkLoadDefaults.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = constants.BulkLoadDefaults.RetryDelay
	}

	return &BulkLoader{
		scraper:    scraper,
		reconciler: reconciler,
		store:      store,
		logger:     logger,
		opts:       opts,
		sleep:      sleepCtx,
	}
}

type loadOutcome int

const (
	loadSucceeded loadOutcome = iota
	loadSkipped
	loadFailed
)

// Load runs one bulk onboarding request. Request-level batch size and
// concurrency override the configured defaults when positive.
func (l *BulkLoader) Load(ctx context.Context, req domain.BulkLoadRequest) *domain.BulkLoadReport {
	opts := l.opts
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.MaxConcurrent > 0 {
		opts.MaxConcurrent = req.MaxConcurrent
	}

	start := time.Now()
	report := &domain.BulkLoadReport{}
	var mu sync.Mutex

	batches := partition(req.Characters, opts.BatchSize)

	l.logger.Info("Bulk load started",
		zap.String("server", req.Server),
		zap.String("world", req.World),
		zap.Int("characters", len(req.Characters)),
		zap.Int("batches", len(batches)),
		zap.Int("max_concurrent", opts.MaxConcurrent))

	for i, batch := range batches {
		if ctx.Err() != nil {
			l.logger.Warn("Bulk load cancelled between batches",
				zap.Int("completed_batches", i))
			break
		}

		p := pool.New().WithMaxGoroutines(opts.MaxConcurrent)
		for _, desc := range batch {
			desc := desc
			p.Go(func() {
				outcome, errText := l.loadOne(ctx, desc.Name, req.Server, req.World, opts)

				mu.Lock()
				defer mu.Unlock()
				report.TotalProcessed++
				switch outcome {
				case loadSucceeded:
					report.Successful++
				case loadSkipped:
					report.Skipped++
				case loadFailed:
					report.Failed++
					if len(report.Errors) < constants.BulkLoadDefaults.ReportErrorCap {
						report.Errors = append(report.Errors, errText)
					}
				}
			})
		}
		p.Wait()

		if i < len(batches)-1 && opts.DelayBetweenBatches > 0 {
			l.sleep(ctx, opts.DelayBetweenBatches)
		}
	}

	report.Duration = time.Since(start)

	l.logger.Info("Bulk load completed",
		zap.Int("processed", report.TotalProcessed),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration))

	return report
}

// loadOne handles a single character: skip if already tracked, otherwise
// scrape with retries and persist. Panics are contained here so a broken
// page can never take down the surrounding batch.
func (l *BulkLoader) loadOne(ctx context.Context, name, server, world string, opts domain.BulkLoadOptions) (outcome loadOutcome, errText string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = loadFailed
			errText = fmt.Sprintf("%s: panic: %v", name, r)
			l.logger.Error("Recovered panic during bulk load",
				zap.String("name", name),
				zap.Any("panic", r))
		}
	}()

	existing, err := l.store.FindCharacter(ctx, name, server, world)
	if err != nil {
		return loadFailed, fmt.Sprintf("%s: lookup failed: %v", name, err)
	}
	if existing != nil {
		l.logger.Debug("Character already tracked, skipping",
			zap.String("name", name),
			zap.String("world", world))
		return loadSkipped, ""
	}

	var lastErr string
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		// Abort between attempts only; a started attempt always finishes.
		if ctx.Err() != nil {
			return loadFailed, fmt.Sprintf("%s: cancelled", name)
		}
		if attempt > 0 {
			l.sleep(ctx, opts.RetryDelay)
		}
		if opts.DelayBetweenRequests > 0 {
			l.sleep(ctx, opts.DelayBetweenRequests)
		}

		result := l.scraper.Scrape(ctx, server, name, world)
		if !result.Success {
			lastErr = fmt.Sprintf("%s: %s", name, result.ErrorText)
			continue
		}

		snap := result.Snapshot
		charWorld := world
		if charWorld == "" {
			charWorld = snap.World
		}
		id, err := l.store.CreateCharacter(ctx, &domain.Character{
			Name:           snap.Name,
			Server:         server,
			World:          charWorld,
			Level:          snap.Level,
			Vocation:       snap.Vocation,
			Guild:          snap.Guild,
			GuildRank:      snap.GuildRank,
			Residence:      snap.Residence,
			OutfitURL:      snap.OutfitURL,
			IsOnline:       snap.IsOnline,
			LastLogin:      snap.LastLogin,
			RecoveryActive: true,
			IsActive:       true,
		})
		if err != nil {
			lastErr = fmt.Sprintf("%s: create failed: %v", name, err)
			continue
		}

		if _, err := l.reconciler.Reconcile(ctx, id, snap, domain.SourceBulkLoad); err != nil {
			lastErr = fmt.Sprintf("%s: reconcile failed: %v", name, err)
			continue
		}

		return loadSucceeded, ""
	}

	return loadFailed, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func partition(descriptors []domain.CharacterDescriptor, size int) [][]domain.CharacterDescriptor {
	if size <= 0 || len(descriptors) == 0 {
		return nil
	}

	batches := make([][]domain.CharacterDescriptor, 0, (len(descriptors)+size-1)/size)
	for start := 0; start < len(descriptors); start += size {
		end := start + size
		if end > len(descriptors) {
			end = len(descriptors)
		}
		batches = append(batches, descriptors[start:end])
	}
	return batches
}
