package external

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/breaker"
)

// AnalyzerResult is the config analyzer's validation response.
type AnalyzerResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Issues   []string `json:"issues"`
	Loops    []string `json:"loops"`
}

// ConfigAnalyzerClient validates textual router configuration against an
// external analyzer. The analyzer may be slow to come up (it is started on
// demand alongside this service), so the first call waits for its readiness
// endpoint before issuing the request.
type ConfigAnalyzerClient struct {
	*baseClient
	endpoint string

	readyOnce sync.Once
}

func NewConfigAnalyzerClient(endpoint string, httpClient *http.Client, cb breaker.Config, retry RetryConfig, logger *zap.Logger) *ConfigAnalyzerClient {
	return &ConfigAnalyzerClient{
		baseClient: newBaseClient("config_analyzer", httpClient, 5, cb, retry, logger),
		endpoint:   endpoint,
	}
}

// ensureReady polls the analyzer's /health endpoint for up to 30 seconds on
// the first call. A readiness failure does not poison later calls — the
// regular retry/breaker machinery takes over from there.
func (c *ConfigAnalyzerClient) ensureReady(ctx context.Context) {
	c.readyOnce.Do(func() {
		deadline := time.Now().Add(30 * time.Second)
		for time.Now().Before(deadline) {
			if c.Healthy(ctx) {
				return
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
		c.logger.Warn("config analyzer did not become ready within 30s")
	})
}

// Validate submits a router configuration for analysis. On unavailability
// it returns ErrUnavailable; callers must treat that as "not determined",
// not as a validation failure.
func (c *ConfigAnalyzerClient) Validate(ctx context.Context, routerConfig string) (*AnalyzerResult, error) {
	c.ensureReady(ctx)

	var result AnalyzerResult
	err := c.do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/validate", strings.NewReader(routerConfig))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "text/plain")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("config analyzer: %w", err)
	}
	return &result, nil
}

// Healthy polls the analyzer's readiness endpoint. Used at startup by
// ensureReady.
func (c *ConfigAnalyzerClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
