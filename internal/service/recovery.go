package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kapu/otstats-go/internal/constants"
	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
	"go.uber.org/zap"
)

// LevelUpFunc is invoked when a scheduled scrape observes a level increase.
// The surrounding service layer decides what to do with it.
type LevelUpFunc func(character *domain.Character, fromLevel, toLevel int)

// RecoveryScheduler is the daily driver that decides which characters remain
// worth polling. It rescrapes due characters, applies the retry policy on
// failure, auto-deactivates after repeated failures, and sweeps characters
// that have shown no experience gain for the trailing window. Deactivation
// is one-way; Reactivate is the explicit external trigger.
type RecoveryScheduler struct {
	store      CharacterStore
	scraper    Scraper
	reconciler *Reconciler
	logger     *zap.Logger
	runHour    int
	sweepHour  int
	onLevelUp  LevelUpFunc

	// runMu serializes passes; an overlapping trigger coalesces into the
	// pass already running instead of stacking a second one.
	runMu   sync.Mutex
	running atomic.Bool

	statusMu sync.RWMutex
	lastRun  *time.Time
	nextRun  *time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

func NewRecoveryScheduler(store CharacterStore, scraper Scraper, reconciler *Reconciler, runHour, sweepHour int, onLevelUp LevelUpFunc, logger *zap.Logger) *RecoveryScheduler {
	return &RecoveryScheduler{
		store:      store,
		scraper:    scraper,
		reconciler: reconciler,
		logger:     logger,
		runHour:    runHour,
		sweepHour:  sweepHour,
		onLevelUp:  onLevelUp,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		now:        util.NowServer,
	}
}

// Start launches the hourly tick loop. Exactly one instance may run; call
// Stop to shut it down and wait for an in-flight pass to finish.
func (rs *RecoveryScheduler) Start(ctx context.Context) {
	rs.ticker = time.NewTicker(time.Hour)
	rs.updateNextRun()

	rs.logger.Info("Recovery scheduler started",
		zap.Int("run_hour", rs.runHour),
		zap.Int("sweep_hour", rs.sweepHour))

	go func() {
		defer close(rs.doneCh)
		for {
			select {
			case <-rs.ticker.C:
				rs.onTick(ctx)
			case <-rs.stopCh:
				rs.logger.Info("Recovery scheduler stopped")
				return
			case <-ctx.Done():
				rs.logger.Info("Recovery scheduler context cancelled")
				return
			}
		}
	}()
}

// Stop halts the tick loop and blocks until it has exited. A pass already
// in flight finishes its current character list.
func (rs *RecoveryScheduler) Stop() {
	if rs.ticker != nil {
		rs.ticker.Stop()
	}
	close(rs.stopCh)
	<-rs.doneCh
	rs.runMu.Lock()
	rs.runMu.Unlock()
}

func (rs *RecoveryScheduler) onTick(ctx context.Context) {
	hour := rs.now().Hour()
	if hour == rs.runHour {
		rs.RunOnce(ctx)
	}
	if hour == rs.sweepHour {
		if _, err := rs.Sweep(ctx); err != nil {
			rs.logger.Error("Inactivity sweep failed", zap.Error(err))
		}
	}
	rs.updateNextRun()
}

// RunOnce executes one recovery pass. Returns nil when a pass is already
// running (the trigger coalesces).
func (rs *RecoveryScheduler) RunOnce(ctx context.Context) *domain.RecoveryReport {
	if !rs.runMu.TryLock() {
		rs.logger.Warn("Recovery pass already running, coalescing trigger")
		return nil
	}
	defer rs.runMu.Unlock()

	rs.running.Store(true)
	defer rs.running.Store(false)

	now := rs.now()
	report := &domain.RecoveryReport{StartedAt: now}

	characters, err := rs.store.DueForRecovery(ctx, now)
	if err != nil {
		rs.logger.Error("Failed to select due characters", zap.Error(err))
		return report
	}

	rs.logger.Info("Recovery pass started", zap.Int("due", len(characters)))

	for _, c := range characters {
		if ctx.Err() != nil {
			rs.logger.Warn("Recovery pass cancelled",
				zap.Int("processed", report.Processed))
			break
		}
		rs.recoverOne(ctx, c, report)
	}

	report.Duration = rs.now().Sub(now)

	finished := rs.now()
	rs.statusMu.Lock()
	rs.lastRun = &finished
	rs.statusMu.Unlock()

	rs.logger.Info("Recovery pass completed",
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("deactivated", report.Deactivated),
		zap.Strings("first_failures", report.Failures),
		zap.Strings("newly_deactivated", report.NewlyDeactivated),
		zap.Duration("duration", report.Duration))

	return report
}

func (rs *RecoveryScheduler) recoverOne(ctx context.Context, c *domain.Character, report *domain.RecoveryReport) {
	report.Processed++

	// Reconcile propagates the new level onto the character row, so the
	// pre-scrape level is captured first.
	prevLevel := c.Level

	result := rs.scraper.Scrape(ctx, c.Server, c.Name, c.World)

	if result.Success {
		if _, err := rs.reconciler.Reconcile(ctx, c.ID, result.Snapshot, domain.SourceScheduled); err != nil {
			// A persistence failure is a hard failure for this character
			// alone; siblings in the same pass keep going.
			rs.failCharacter(ctx, c, err.Error(), constants.RetryAfter(""), report)
			return
		}

		next := rs.now().Add(constants.RecoveryConfig.RescrapeInterval)
		if err := rs.store.MarkScrapeSuccess(ctx, c.ID, next); err != nil {
			rs.logger.Error("Failed to mark scrape success",
				zap.String("name", c.Name),
				zap.Error(err))
		}

		if result.Snapshot.Level > prevLevel && rs.onLevelUp != nil {
			rs.onLevelUp(c, prevLevel, result.Snapshot.Level)
		}

		report.Succeeded++
		return
	}

	rs.failCharacter(ctx, c, result.ErrorText, result.RetryAfter, report)
}

func (rs *RecoveryScheduler) failCharacter(ctx context.Context, c *domain.Character, errText string, retryAfter time.Duration, report *domain.RecoveryReport) {
	report.Failed++
	if len(report.Failures) < constants.RecoveryConfig.ReportErrorCap {
		report.Failures = append(report.Failures, fmt.Sprintf("%s: %s", c.Name, errText))
	}

	count, err := rs.store.MarkScrapeFailure(ctx, c.ID, errText, rs.now().Add(retryAfter))
	if err != nil {
		rs.logger.Error("Failed to mark scrape failure",
			zap.String("name", c.Name),
			zap.Error(err))
		return
	}

	if count >= constants.RecoveryConfig.DeactivationThreshold {
		if err := rs.store.SetRecoveryActive(ctx, c.ID, false); err != nil {
			rs.logger.Error("Failed to deactivate character",
				zap.String("name", c.Name),
				zap.Error(err))
			return
		}
		report.Deactivated++
		if len(report.NewlyDeactivated) < constants.RecoveryConfig.ReportErrorCap {
			report.NewlyDeactivated = append(report.NewlyDeactivated, c.Name)
		}
		rs.logger.Warn("Character auto-deactivated after repeated failures",
			zap.String("name", c.Name),
			zap.Int("failures", count))
	}
}

// Sweep deactivates characters that gained no experience at all in the
// trailing window: they have, for tracking purposes, quit.
func (rs *RecoveryScheduler) Sweep(ctx context.Context) ([]string, error) {
	characters, err := rs.store.ActiveRecoveryCharacters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to select active characters: %w", err)
	}

	since := util.DateOnly(rs.now()).AddDate(0, 0, -constants.RecoveryConfig.InactivityWindowDays)

	var deactivated []string
	for _, c := range characters {
		if ctx.Err() != nil {
			break
		}

		days, err := rs.store.PositiveExperienceDays(ctx, c.ID, since)
		if err != nil {
			rs.logger.Warn("Failed to count active days",
				zap.String("name", c.Name),
				zap.Error(err))
			continue
		}
		if days > 0 {
			continue
		}

		if err := rs.store.SetRecoveryActive(ctx, c.ID, false); err != nil {
			rs.logger.Error("Failed to deactivate inactive character",
				zap.String("name", c.Name),
				zap.Error(err))
			continue
		}
		deactivated = append(deactivated, c.Name)
	}

	rs.logger.Info("Inactivity sweep completed",
		zap.Int("checked", len(characters)),
		zap.Int("deactivated", len(deactivated)))

	return deactivated, nil
}

// Reactivate re-enables automatic polling for a character and makes it due
// immediately. This is the explicit external trigger; nothing in the
// scheduler calls it.
func (rs *RecoveryScheduler) Reactivate(ctx context.Context, characterID int64) error {
	if err := rs.store.SetRecoveryActive(ctx, characterID, true); err != nil {
		return fmt.Errorf("failed to reactivate character: %w", err)
	}
	if err := rs.store.MarkScrapeSuccess(ctx, characterID, rs.now()); err != nil {
		return fmt.Errorf("failed to reset scrape state: %w", err)
	}
	return nil
}

// Status is the introspection surface exposed to the service layer.
func (rs *RecoveryScheduler) Status() domain.SchedulerStatus {
	rs.statusMu.RLock()
	defer rs.statusMu.RUnlock()

	return domain.SchedulerStatus{
		Running: rs.running.Load(),
		LastRun: rs.lastRun,
		NextRun: rs.nextRun,
		JobList: []string{"recovery", "inactivity-sweep"},
	}
}

func (rs *RecoveryScheduler) updateNextRun() {
	now := rs.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), rs.runHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	rs.statusMu.Lock()
	rs.nextRun = &next
	rs.statusMu.Unlock()
}
