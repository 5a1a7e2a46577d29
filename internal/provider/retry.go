package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// Retry policy: at most one retry, and only for transient transport failures
// (connection errors, 5xx). Timeouts are never retried — a second identical
// call under the same deadline pressure is assumed futile — and 4xx responses
// are client errors, surfaced immediately.
const (
	maxRetries       = 1
	retryBackoffBase = 250 * time.Millisecond
)

// serverError is a 5xx response treated as transient.
type serverError struct {
	statusCode int
	body       string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request under the single-retry policy.
// Non-5xx responses (including 4xx) are returned to the caller for status
// handling; transport errors and persistent 5xx come back as errors.
// Context expiry aborts immediately and is never retried.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase + time.Duration(rand.Int64N(int64(retryBackoffBase)))
			logger.Warn("retrying provider request", "attempt", attempt+1, "backoff", backoff)
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
			// Deadline pressure is a timeout, not a transport flake.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < maxRetries {
				logger.Warn("provider request failed, will retry once", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after retry: %w", err)
		}

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &serverError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				logger.Warn("provider server error, will retry once",
					"status", resp.StatusCode, "body", string(body))
				continue
			}
			return nil, fmt.Errorf("server error after retry: %w", lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

// isTimeout reports whether err means the call ran out of deadline rather
// than hitting a transport fault.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
