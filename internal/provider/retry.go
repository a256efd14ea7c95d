package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryPolicy bounds the retries of an idempotent request.
type RetryPolicy struct {
	Attempts int           // retries after the first try
	Backoff  time.Duration // base delay; attempt n waits n*n*Backoff plus jitter
}

// LookupBackoff is the base delay used for configured lookup retries.
const LookupBackoff = 500 * time.Millisecond

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// DoWithRetry executes a request with quadratic backoff for transient errors
// (network failures, 5xx, 429). buildReq is called once per attempt.
func DoWithRetry(ctx context.Context, client *http.Client, policy RetryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error

	for attempt := 0; attempt <= policy.Attempts; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * policy.Backoff
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			logger.Debug("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			if attempt < policy.Attempts {
				logger.Warn("request failed, will retry", "host", req.URL.Host, "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", policy.Attempts, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < policy.Attempts {
				logger.Warn("server error, will retry", "host", req.URL.Host, "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", policy.Attempts, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
