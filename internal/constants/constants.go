package constants

import (
	"time"

	"github.com/kapu/otstats-go/pkg/errors"
)

var ScraperConfig = struct {
	UserAgent      string
	RequestTimeout time.Duration
	ResultCacheTTL time.Duration
	HistoryWindow  int
	MinimumLevel   int
}{
	UserAgent:      "Mozilla/5.0 (compatible; OTStatsTracker/1.0; +https://github.com/kapu/otstats-go)",
	RequestTimeout: 15 * time.Second,
	ResultCacheTTL: 5 * time.Minute,
	HistoryWindow:  14,
	MinimumLevel:   1,
}

// RetryPolicy maps every failure classification to how long the character
// should wait before the next attempt. The orchestrator stamps it on every
// failed ScrapeResult and the recovery scheduler reschedules from it, so the
// two can never disagree.
var RetryPolicy = map[errors.Kind]time.Duration{
	errors.KindNotFound:         1 * time.Hour,
	errors.KindUnsupportedWorld: 1 * time.Hour,
	errors.KindHTTPError:        5 * time.Minute,
	errors.KindNetworkError:     5 * time.Minute,
	errors.KindTimeout:          5 * time.Minute,
	errors.KindInsufficientData: 15 * time.Minute,
	errors.KindInternal:         15 * time.Minute,
}

// RetryAfter looks up the policy with a safe fallback for unknown kinds.
func RetryAfter(kind errors.Kind) time.Duration {
	if d, ok := RetryPolicy[kind]; ok {
		return d
	}
	return 15 * time.Minute
}

var RecoveryConfig = struct {
	DeactivationThreshold int
	InactivityWindowDays  int
	RescrapeInterval      time.Duration
	ReportErrorCap        int
}{
	DeactivationThreshold: 3,
	InactivityWindowDays:  10,
	RescrapeInterval:      24 * time.Hour,
	ReportErrorCap:        10,
}

var BulkLoadDefaults = struct {
	BatchSize            int
	MaxConcurrent        int
	DelayBetweenBatches  time.Duration
	DelayBetweenRequests time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	ReportErrorCap       int
}{
	BatchSize:            50,
	MaxConcurrent:        5,
	DelayBetweenBatches:  2 * time.Second,
	DelayBetweenRequests: 250 * time.Millisecond,
	MaxRetries:           2,
	RetryDelay:           1 * time.Second,
	ReportErrorCap:       10,
}

var DatabaseConfig = struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}{
	MaxOpenConns:    25,
	MaxIdleConns:    5,
	ConnMaxLifetime: 5 * time.Minute,
	PingTimeout:     5 * time.Second,
}
