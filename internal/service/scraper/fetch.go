package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kapu/otstats-go/internal/constants"
	"github.com/kapu/otstats-go/pkg/errors"
	"go.uber.org/zap"
)

// FetchClient is the single pooled HTTP client every adapter fetch goes
// through. One client means keep-alive connections are reused across the
// thousands of sequential requests a bulk load or recovery pass makes.
type FetchClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

func NewFetchClient(timeout time.Duration, userAgent string, logger *zap.Logger) *FetchClient {
	if timeout <= 0 {
		timeout = constants.ScraperConfig.RequestTimeout
	}
	if userAgent == "" {
		userAgent = constants.ScraperConfig.UserAgent
	}

	return &FetchClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Get fetches one page and returns its body, or a classified ScrapeError.
// The only side effect is network I/O.
func (f *FetchClient) Get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", errors.NewInternal("failed to build request", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			f.logger.Warn("Fetch timed out", zap.String("url", pageURL))
			return "", errors.NewTimeout(fmt.Sprintf("request to %s timed out", pageURL), err)
		}
		f.logger.Warn("Fetch failed", zap.String("url", pageURL), zap.Error(err))
		return "", errors.NewNetworkError(fmt.Sprintf("request to %s failed", pageURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewNetworkError("failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errors.NewNotFound(fmt.Sprintf("page %s returned 404", pageURL))
	case resp.StatusCode >= 400:
		f.logger.Warn("Fetch returned error status",
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode))
		return "", errors.NewHTTPError(resp.StatusCode, fmt.Sprintf("page %s returned status %d", pageURL, resp.StatusCode))
	}

	return string(body), nil
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
