package external

import (
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/breaker"
)

func TestConfigAnalyzerClient_Validate(t *testing.T) {
	srv := httptest.NewServer(validateHandler(t, `{"valid":true,"errors":[],"warnings":[],"issues":[],"loops":[]}`))
	defer srv.Close()

	c := NewConfigAnalyzerClient(srv.URL, srv.Client(), breaker.Config{}, RetryConfig{}, zap.NewNop())
	res, err := c.Validate(ctxTest(t), "router bgp 65000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid=true, got %+v", res)
	}
}

func TestPrefixOriginValidator_MemoizesResult(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(countingHandler(&calls, `{"valid":true}`))
	defer srv.Close()

	v := NewPrefixOriginValidator(srv.URL, time.Minute, srv.Client(), breaker.Config{}, RetryConfig{}, zap.NewNop())

	valid, determined, err := v.Validate("203.0.113.0/24", 65001)
	if err != nil || !determined || !valid {
		t.Fatalf("unexpected first call result: valid=%v determined=%v err=%v", valid, determined, err)
	}

	valid2, determined2, err2 := v.Validate("203.0.113.0/24", 65001)
	if err2 != nil || !determined2 || !valid2 {
		t.Fatalf("unexpected second call result: valid=%v determined=%v err=%v", valid2, determined2, err2)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected the second call to be served from cache, server saw %d calls", calls)
	}
}

func TestPrefixOriginValidator_UnavailableIsNotDetermined(t *testing.T) {
	srv := httptest.NewServer(failingHandler())
	defer srv.Close()

	v := NewPrefixOriginValidator(srv.URL, time.Minute, srv.Client(),
		breaker.Config{FailureThreshold: 1}, RetryConfig{MaxAttempts: 1}, zap.NewNop())

	valid, determined, err := v.Validate("203.0.113.0/24", 65001)
	if err != nil {
		t.Fatalf("validator must never surface a hard error to the rule: %v", err)
	}
	if determined {
		t.Fatal("expected not-determined on an unavailable dependency")
	}
	if valid {
		t.Fatal("not-determined must not default to valid")
	}
}

func TestPrefixOriginValidator_History(t *testing.T) {
	srv := httptest.NewServer(validateHandler(t, `[{"prefix":"203.0.113.0/24","origin_asn":65001,"count":12}]`))
	defer srv.Close()

	v := NewPrefixOriginValidator(srv.URL, time.Minute, srv.Client(), breaker.Config{}, RetryConfig{}, zap.NewNop())
	obs, err := v.History(ctxTest(t), "203.0.113.0/24", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 1 || obs[0].OriginASN != 65001 || obs[0].Count != 12 {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestPrefixOriginValidator_SubscribeDeliversUpdates(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		`{"prefix":"203.0.113.0/24","origin_asn":65001,"type":"announce"}`,
		`not json`,
		`{"prefix":"198.51.100.0/24","origin_asn":65002,"type":"withdraw"}`,
	))
	defer srv.Close()

	v := NewPrefixOriginValidator(srv.URL, time.Minute, srv.Client(), breaker.Config{}, RetryConfig{}, zap.NewNop())
	updates, err := v.Subscribe(ctxTest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []OriginUpdate
	for u := range updates {
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 well-formed updates (malformed line skipped), got %d: %+v", len(got), got)
	}
	if got[0].OriginASN != 65001 || got[1].Type != "withdraw" {
		t.Fatalf("unexpected updates: %+v", got)
	}
}
