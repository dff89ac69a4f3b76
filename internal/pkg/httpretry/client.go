// Package httpretry wraps an HTTP client with bounded retries, exponential
// backoff and full jitter for calls to external enrichment and storage APIs.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

// HTTPDoer executes a single HTTP request. *http.Client satisfies it, and so
// does *Client, so retrying clients can wrap each other or be swapped out in
// tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries requests that fail with transport errors or a retryable
// status (429, 500, 502, 503, 504). Client errors such as 400 and 404 are
// returned to the caller untouched.
type Client struct {
	inner      HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New wraps inner with retry behavior. A nil inner gets a default
// http.Client with a 30s timeout. maxRetries counts attempts after the
// first; values <= 0 mean 3.
func New(inner HTTPDoer, maxRetries int) *Client {
	if inner == nil {
		inner = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Do runs the request, retrying transport failures and retryable statuses.
// The final attempt's response is returned as-is so callers can read the
// body and status. Requests with a body must carry GetBody (http.NewRequest
// sets it for the common body types), otherwise retries would replay a
// drained reader.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := c.backoff(attempt)
			logger.Warn("retrying request",
				"attempt", attempt,
				"max", c.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"delay", delay.String())
			if err := sleep(req.Context(), delay); err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, err
			}
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == c.maxRetries {
			return resp, nil
		}

		// Drain so the transport can reuse the connection.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff computes the wait before retry n: full jitter over
// min(maxDelay, baseDelay * 2^(n-1)), floored at 100ms.
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(c.maxDelay) {
		ceiling = float64(c.maxDelay)
	}
	d := time.Duration(rand.Float64() * ceiling)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
