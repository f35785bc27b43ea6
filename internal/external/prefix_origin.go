package external

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/breaker"
)

// cacheEntry is one memoized prefix-origin result.
type cacheEntry struct {
	valid      bool
	determined bool
	expiresAt  time.Time
}

// PrefixOriginValidator consults a prefix-origin (RPKI-adjacent) service,
// memoizing results in a shared, concurrency-safe TTL cache. It implements
// rules.RPKIValidator.
type PrefixOriginValidator struct {
	*baseClient
	endpoint string
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewPrefixOriginValidator builds a validator. ttl defaults to 300s.
func NewPrefixOriginValidator(endpoint string, ttl time.Duration, httpClient *http.Client, cb breaker.Config, retry RetryConfig, logger *zap.Logger) *PrefixOriginValidator {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &PrefixOriginValidator{
		baseClient: newBaseClient("prefix_origin_validator", httpClient, 10, cb, retry, logger),
		endpoint:   endpoint,
		ttl:        ttl,
		cache:      make(map[string]cacheEntry),
	}
}

func cacheKey(prefix string, originASN int64) string {
	return fmt.Sprintf("%s|%d", prefix, originASN)
}

// Validate implements rules.RPKIValidator. determined=false (with err=nil)
// signals "not determined" — the caller must not treat this as invalid.
func (v *PrefixOriginValidator) Validate(prefix string, originASN int64) (valid bool, determined bool, err error) {
	key := cacheKey(prefix, originASN)

	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.valid, entry.determined, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result struct {
		Valid bool `json:"valid"`
	}
	callErr := v.do(ctx, func(ctx context.Context) error {
		u := fmt.Sprintf("%s/validate?prefix=%s&origin_asn=%d", v.endpoint, prefix, originASN)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := v.http.Do(req)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &result)
	})

	if callErr != nil {
		// Unavailable: "not determined", not an error the caller should
		// surface as invalid.
		return false, false, nil
	}

	v.mu.Lock()
	v.cache[key] = cacheEntry{valid: result.Valid, determined: true, expiresAt: time.Now().Add(v.ttl)}
	v.mu.Unlock()

	return result.Valid, true, nil
}

// OriginObservation is one historical record of a prefix being announced by
// an origin ASN within the queried window.
type OriginObservation struct {
	Prefix    string    `json:"prefix"`
	OriginASN int64     `json:"origin_asn"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int64     `json:"count"`
}

// History queries the validator's historical record of origins observed for
// a prefix within the window. Unavailability surfaces as ErrUnavailable.
func (v *PrefixOriginValidator) History(ctx context.Context, prefix string, window time.Duration) ([]OriginObservation, error) {
	var out []OriginObservation
	err := v.do(ctx, func(ctx context.Context) error {
		u := fmt.Sprintf("%s/history?prefix=%s&window_seconds=%d",
			v.endpoint, url.QueryEscape(prefix), int(window.Seconds()))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := v.http.Do(req)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("prefix origin history: %w", err)
	}
	return out, nil
}

// OriginUpdate is one live announcement/withdrawal observed by the
// validator's streaming API.
type OriginUpdate struct {
	Prefix    string    `json:"prefix"`
	OriginASN int64     `json:"origin_asn"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscribe opens the validator's live-update stream (newline-delimited
// JSON) and delivers updates on the returned channel until ctx is cancelled
// or the stream ends. The channel is closed on exit. The subscription runs
// outside the circuit breaker: it is a single long-lived connection, not a
// request/response call, and a dropped stream is resubscribed by the caller.
func (v *PrefixOriginValidator) Subscribe(ctx context.Context) (<-chan OriginUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"/stream", nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prefix origin stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("prefix origin stream: status %d", resp.StatusCode)
	}

	updates := make(chan OriginUpdate, 64)
	go func() {
		defer close(updates)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var u OriginUpdate
			if err := json.Unmarshal(scanner.Bytes(), &u); err != nil {
				v.logger.Warn("prefix origin stream: skipping malformed update", zap.Error(err))
				continue
			}
			select {
			case updates <- u:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			v.logger.Warn("prefix origin stream closed", zap.Error(err))
		}
	}()
	return updates, nil
}
