package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/utils"
)

// Fetcher performs whole-document requests (the record source) with exponential backoff.
// Asset downloads go through Engine instead, which has its own retry policy.
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig // SourceMaxRetries, InitialRetryDelay, MaxRetryDelay
	log    *logrus.Logger
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// FetchWithRetry performs req, retrying network errors, 5xx and 429 with exponential backoff and jitter.
// On success the caller must close the response body. Other 4xx and unexpected statuses
// return both the response and an error.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.cfg.SourceMaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) after error: %w", err, lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		resp, err := f.client.Do(req.WithContext(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", err)
			lastErr = fmt.Errorf("%w: %w", utils.ErrTransport, err)
			continue
		}

		resLog := reqLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "attempt": attempt})
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case resp.StatusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, resp.StatusCode, resp.Status)
			drainAndClose(resp)

		case resp.StatusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, resp.StatusCode, resp.Status)
			drainAndClose(resp)

		case resp.StatusCode >= 400:
			resLog.Warn("Client error (4xx), not retrying")
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, resp.StatusCode, resp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", resp.StatusCode)
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, resp.StatusCode, resp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff returns initial * 2^(attempt-1) capped at MaxRetryDelay, with +/- 10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	maxDelay := f.cfg.MaxRetryDelay
	delay := time.Duration(float64(f.cfg.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		delay += time.Duration(rand.Int63n(jitterRange)) - delay/10
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// drainAndClose discards a bounded amount of the remaining body so the connection can be reused
func drainAndClose(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 64<<10)
	resp.Body.Close()
}
