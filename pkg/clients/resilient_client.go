// Package clients provides the resilient HTTP layer shared by every source
// client. A ResilientClient executes one request at a time under the merged
// policy for its source: composite rate limiting before each attempt,
// exponential-backoff retries for retryable statuses on retryable methods,
// and a per-source circuit breaker that fails fast after repeated failures.
package clients

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/observability"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/ratelimit"
)

// ResilientClient wraps net/http for one external source. It does not
// implement transport itself; it layers admission control, retries, and
// fail-fast behavior over a standard http.Client.
type ResilientClient struct {
	source     string
	settings   Settings
	httpClient *http.Client
	limiters   *ratelimit.LimiterSet
	retry      *RetryPolicy
	breaker    *CircuitBreaker
	logger     *zap.Logger
}

// NewResilientClient builds a client for one source from merged settings.
// The limiter set is shared process-wide so the global ceiling spans all
// sources.
func NewResilientClient(source string, settings Settings, limiters *ratelimit.LimiterSet, logger *zap.Logger) *ResilientClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   settings.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: settings.ReadTimeout,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	if settings.RateLimit != nil && limiters != nil {
		limiters.SetSource(source, *settings.RateLimit)
	}

	return &ResilientClient{
		source:   source,
		settings: settings,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   settings.TotalTimeout,
		},
		limiters: limiters,
		retry:    settings.RetryPolicy(),
		breaker:  NewCircuitBreaker(settings.BreakerConfig(), logger.With(zap.String("source", source))),
		logger:   logger.With(zap.String("component", "resilient_client"), zap.String("source", source)),
	}
}

// Source returns the source name the client was built for.
func (c *ResilientClient) Source() string {
	return c.source
}

// BreakerState exposes the circuit state for metrics.
func (c *ResilientClient) BreakerState() CircuitState {
	return c.breaker.State()
}

// Get executes a GET request against a path relative to the source base URL.
func (c *ResilientClient) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// Do executes one HTTP request under the merged policy. The response body
// is fully read and returned; non-2xx terminal responses surface as
// *APIError, exhausted transport failures as *TransportError.
func (c *ResilientClient) Do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempts := c.retry.TotalAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if !c.breaker.Allow() {
			observability.SetCircuitState(c.source, int(c.breaker.State()))
			return nil, ErrCircuitOpen
		}

		if c.limiters != nil {
			if err := c.limiters.Acquire(ctx, c.source); err != nil {
				observability.RecordRateLimit(c.source, "blocked")
				return nil, err
			}
			observability.RecordRateLimit(c.source, "allowed")
		}

		c.logger.Debug("request",
			zap.String("method", method),
			zap.String("url", fullURL),
			zap.Int("attempt", attempt+1))

		if attempt > 0 {
			observability.RecordRetry(c.source)
		}

		start := time.Now()
		respBody, status, retryAfter, err := c.doOnce(ctx, method, fullURL, body)
		observability.ObserveRequest(c.source, statusLabel(status, err), time.Since(start))
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err

			if !c.retry.MethodRetryable(method) || attempt+1 >= attempts {
				break
			}
			c.logger.Warn("retrying after transport failure",
				zap.String("url", fullURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if err := c.sleep(ctx, c.retry.Delay(attempt, "")); err != nil {
				return nil, err
			}
			continue
		}

		if status >= 200 && status < 300 {
			c.breaker.RecordSuccess()
			return respBody, nil
		}

		c.breaker.RecordFailure()
		lastErr = &APIError{
			StatusCode: status,
			Method:     method,
			URL:        fullURL,
			Body:       truncate(string(respBody), 512),
		}

		if !c.retry.ShouldRetry(method, status) || attempt+1 >= attempts {
			break
		}

		delay := c.retry.Delay(attempt, retryAfter)
		c.logger.Warn("retrying after error response",
			zap.String("url", fullURL),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.logger.Error("request failed",
		zap.String("method", method),
		zap.String("url", fullURL),
		zap.Error(lastErr))

	if apiErr, ok := lastErr.(*APIError); ok {
		return nil, apiErr
	}
	return nil, &TransportError{
		Attempts: attempts,
		Method:   method,
		URL:      fullURL,
		Err:      lastErr,
	}
}

// doOnce performs a single attempt and fully consumes the response body.
func (c *ResilientClient) doOnce(ctx context.Context, method, fullURL string, body []byte) ([]byte, int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, 0, "", err
	}

	for key, value := range c.settings.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", err
	}

	return respBody, resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

// buildURL joins the base URL, path, and query.
func (c *ResilientClient) buildURL(path string, query url.Values) (string, error) {
	base := c.settings.BaseURL
	if base == "" {
		base = path
	} else {
		base = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Set(key, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

// sleep waits with context cancellation.
func (c *ResilientClient) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusLabel(status int, err error) string {
	if err != nil {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
