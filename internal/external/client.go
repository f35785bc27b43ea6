// Package external wraps the three remote services the orchestrator
// consults: a config analyzer, a live BGP session poller, and a
// prefix-origin (RPKI-adjacent) validator. Every call goes through a
// circuit breaker, a bounded connection semaphore, and linear-backoff
// retries.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/breaker"
	"github.com/example/bgp-orchestrator/internal/metrics"
)

// ErrUnavailable is returned when the circuit is open or retries are
// exhausted. Callers must treat this as "no determination", never as a
// negative result.
var ErrUnavailable = fmt.Errorf("external dependency unavailable")

// RetryConfig controls the bounded linear-backoff retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 200 * time.Millisecond
	}
	return r
}

// baseClient bundles the resilience primitives shared by the three
// external clients: a circuit breaker, a connection semaphore, and the
// underlying http.Client.
type baseClient struct {
	name    string
	http    *http.Client
	breaker *breaker.Breaker
	sem     chan struct{}
	retry   RetryConfig
	logger  *zap.Logger
}

func newBaseClient(name string, httpClient *http.Client, maxInFlight int, cb breaker.Config, retry RetryConfig, logger *zap.Logger) *baseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if maxInFlight <= 0 {
		maxInFlight = 10
	}
	return &baseClient{
		name:    name,
		http:    httpClient,
		breaker: breaker.New(name, cb),
		sem:     make(chan struct{}, maxInFlight),
		retry:   retry.withDefaults(),
		logger:  logger,
	}
}

// Breaker exposes the client's circuit breaker for health reporting (e.g.
// internal/http's /readyz aggregate check).
func (b *baseClient) Breaker() *breaker.Breaker {
	return b.breaker
}

// do runs fn under the connection semaphore, the circuit breaker, and the
// retry loop. fn should perform exactly one network attempt and return an
// error only for transient failures worth retrying.
func (b *baseClient) do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	var lastErr error
	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		start := time.Now()
		err := b.breaker.Call(func() error { return fn(ctx) })
		if err == nil {
			metrics.ExternalCallDuration.WithLabelValues(b.name, "ok").Observe(time.Since(start).Seconds())
			return nil
		}
		if err == breaker.ErrOpen {
			metrics.ExternalCallDuration.WithLabelValues(b.name, "rejected").Observe(time.Since(start).Seconds())
			b.logger.Warn("external call rejected: circuit open", zap.String("client", b.name))
			return ErrUnavailable
		}
		metrics.ExternalCallDuration.WithLabelValues(b.name, "error").Observe(time.Since(start).Seconds())
		lastErr = err
		if attempt < b.retry.MaxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * b.retry.BaseDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	b.logger.Warn("external call exhausted retries", zap.String("client", b.name), zap.Error(lastErr))
	return ErrUnavailable
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: server error %d", resp.Request.URL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors are returned like server errors: do() retries
		// them and the breaker counts each attempt as a failure; 4xx
		// responses are not told apart from transient failures.
		return fmt.Errorf("%s: client error %d", resp.Request.URL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
