package service

import (
	"context"
	"testing"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/pkg/errors"
	"go.uber.org/zap"
)

func newTestBulkLoader(store *memoryStore, scraper *fakeScraper, opts domain.BulkLoadOptions) *BulkLoader {
	reconciler := NewReconciler(store, zap.NewNop())
	l := NewBulkLoader(scraper, reconciler, store, opts, zap.NewNop())
	l.sleep = func(context.Context, time.Duration) {}
	return l
}

func descriptors(names ...string) []domain.CharacterDescriptor {
	out := make([]domain.CharacterDescriptor, len(names))
	for i, name := range names {
		out[i] = domain.CharacterDescriptor{Name: name}
	}
	return out
}

func failureResult(kind errors.Kind, text string) *domain.ScrapeResult {
	return &domain.ScrapeResult{
		Success:    false,
		ErrorKind:  kind,
		ErrorText:  text,
		RetryAfter: 5 * time.Minute,
	}
}

func TestBulkLoadOnboardsCharacters(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{})

	report := l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors("Alpha", "Bravo", "Charlie"),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.TotalProcessed != 3 || report.Successful != 3 {
		t.Fatalf("report = %+v, want 3 successful", report)
	}

	for _, name := range []string{"Alpha", "Bravo", "Charlie"} {
		c, err := store.FindCharacter(context.Background(), name, "rubinot", "Mystera")
		if err != nil || c == nil {
			t.Fatalf("character %s not created: %v", name, err)
		}
		if !c.RecoveryActive || !c.IsActive {
			t.Errorf("character %s should start active with recovery on", name)
		}
		if store.snapshotCount(c.ID) == 0 {
			t.Errorf("character %s has no initial snapshot", name)
		}
	}
}

func TestBulkLoadSkipsExisting(t *testing.T) {
	store := newMemoryStore()
	store.addCharacter(&domain.Character{
		Name: "Alpha", Server: "rubinot", World: "Mystera", IsActive: true,
	})
	scraper := newFakeScraper()
	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{})

	report := l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors("Alpha", "Bravo"),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.Skipped != 1 || report.Successful != 1 {
		t.Fatalf("report = %+v, want 1 skipped 1 successful", report)
	}
	if scraper.callCount("Alpha") != 0 {
		t.Error("already tracked character must not be scraped")
	}
}

func TestBulkLoadBoundsConcurrency(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	scraper.settle = 20 * time.Millisecond

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{
		BatchSize:     10,
		MaxConcurrent: 2,
	})

	names := make([]string, 10)
	for i := range names {
		names[i] = string(rune('A' + i))
	}

	l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors(names...),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if scraper.maxSeen > 2 {
		t.Errorf("observed %d concurrent scrapes, limit is 2", scraper.maxSeen)
	}
}

func TestBulkLoadRetriesTransientFailures(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	scraper.results["Flaky"] = failureResult(errors.KindNetworkError, "connection reset")

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{MaxRetries: 2})

	report := l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors("Flaky"),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.Failed != 1 {
		t.Fatalf("report = %+v, want 1 failed", report)
	}
	if got := scraper.callCount("Flaky"); got != 3 {
		t.Errorf("scrape attempts = %d, want 3 (initial + 2 retries)", got)
	}
	if len(report.Errors) != 1 {
		t.Errorf("errors = %v, want the last failure recorded", report.Errors)
	}
}

func TestBulkLoadOneFailureDoesNotAbortBatch(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	scraper.results["Ghost"] = failureResult(errors.KindNotFound, "character not found")

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{MaxRetries: 0})

	report := l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors("Alpha", "Ghost", "Bravo"),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.Successful != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 2 successful 1 failed", report)
	}
}

func TestBulkLoadRecoversPanics(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	scraper.fallback = func(_, name, _ string) *domain.ScrapeResult {
		if name == "Broken" {
			panic("malformed page blew up the extractor")
		}
		return successResult(name, 100)
	}

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{MaxRetries: 0})

	report := l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors("Alpha", "Broken", "Bravo"),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.Successful != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want the panic contained as 1 failure", report)
	}
}

func TestBulkLoadCapsReportedErrors(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	scraper.fallback = func(_, name, _ string) *domain.ScrapeResult {
		return failureResult(errors.KindNotFound, "not found")
	}

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{MaxRetries: 0})

	names := make([]string, 25)
	for i := range names {
		names[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}

	report := l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors(names...),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.Failed != 25 {
		t.Fatalf("failed = %d, want all 25 counted", report.Failed)
	}
	if len(report.Errors) != 10 {
		t.Errorf("recorded errors = %d, want capped at 10", len(report.Errors))
	}
}

func TestBulkLoadWorldFallsBackToSnapshot(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()
	scraper.fallback = func(_, name, _ string) *domain.ScrapeResult {
		return successResult(name, 50) // snapshot carries World Mystera
	}

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{})

	// No world in the request; the scraped page's world is used instead.
	l.Load(context.Background(), domain.BulkLoadRequest{
		Characters: descriptors("Alpha"),
		Server:     "noctera",
	})

	c, _ := store.FindCharacter(context.Background(), "Alpha", "noctera", "Mystera")
	if c == nil {
		t.Fatal("character should carry the world inferred from the page")
	}
}

func TestBulkLoadCancelledBetweenBatches(t *testing.T) {
	store := newMemoryStore()
	scraper := newFakeScraper()

	ctx, cancel := context.WithCancel(context.Background())

	l := newTestBulkLoader(store, scraper, domain.BulkLoadOptions{
		BatchSize:           2,
		MaxConcurrent:       1,
		DelayBetweenBatches: time.Millisecond,
	})
	l.sleep = func(context.Context, time.Duration) { cancel() }

	report := l.Load(ctx, domain.BulkLoadRequest{
		Characters: descriptors("Alpha", "Bravo", "Charlie", "Delta"),
		Server:     "rubinot",
		World:      "Mystera",
	})

	if report.TotalProcessed >= 4 {
		t.Errorf("processed = %d, expected the run to stop early", report.TotalProcessed)
	}
}
