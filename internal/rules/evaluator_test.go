package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type instantRule struct {
	name     string
	conflict *Conflict
	err      error
}

func (r instantRule) Name() string { return r.name }
func (r instantRule) Check(Candidate, Snapshot) (*Conflict, error) {
	return r.conflict, r.err
}

type sleepyRule struct {
	name string
	d    time.Duration
}

func (r sleepyRule) Name() string { return r.name }
func (r sleepyRule) Check(Candidate, Snapshot) (*Conflict, error) {
	time.Sleep(r.d)
	return &Conflict{Type: ConflictRoutingLoop, Severity: SeverityCritical}, nil
}

func TestEvaluator_AggregatesInRegistrationOrder(t *testing.T) {
	c1 := &Conflict{Type: ConflictSessionOverlap, Severity: SeverityCritical}
	c2 := &Conflict{Type: ConflictASNCollision, Severity: SeverityHigh}

	e := NewEvaluator(DefaultEvaluatorConfig(), zap.NewNop(),
		instantRule{name: "a", conflict: c1},
		instantRule{name: "b"},
		instantRule{name: "c", conflict: c2},
	)

	got := e.Detect(context.Background(), Candidate{}, Snapshot{})
	if len(got) != 2 {
		t.Fatalf("expected 2 conflicts, got %d: %+v", len(got), got)
	}
	if got[0].Type != ConflictSessionOverlap || got[1].Type != ConflictASNCollision {
		t.Fatalf("expected stable registration order, got %+v", got)
	}
}

// A rule that sleeps past its deadline never blocks other rules and never
// prevents a mutation (the evaluator call) from completing.
func TestEvaluator_FailOpenOnTimeout(t *testing.T) {
	cfg := EvaluatorConfig{RuleTimeout: 20 * time.Millisecond}
	e := NewEvaluator(cfg, zap.NewNop(),
		sleepyRule{name: "slow", d: 200 * time.Millisecond},
		instantRule{name: "fast", conflict: &Conflict{Type: ConflictRoutingLoop, Severity: SeverityCritical}},
	)

	start := time.Now()
	got := e.Detect(context.Background(), Candidate{}, Snapshot{})
	elapsed := time.Since(start)

	if elapsed >= 200*time.Millisecond {
		t.Fatalf("slow rule blocked the evaluator call: took %v", elapsed)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the fast rule's conflict to survive, got %+v", got)
	}
}

func TestEvaluator_FailOpenOnError(t *testing.T) {
	e := NewEvaluator(DefaultEvaluatorConfig(), zap.NewNop(),
		instantRule{name: "broken", err: errors.New("boom")},
	)
	got := e.Detect(context.Background(), Candidate{}, Snapshot{})
	if len(got) != 0 {
		t.Fatalf("expected erroring rule to be absorbed, got %+v", got)
	}
}

type panicRule struct{}

func (panicRule) Name() string { return "panics" }
func (panicRule) Check(Candidate, Snapshot) (*Conflict, error) {
	panic("rule exploded")
}

func TestEvaluator_FailOpenOnPanic(t *testing.T) {
	e := NewEvaluator(DefaultEvaluatorConfig(), zap.NewNop(), panicRule{},
		instantRule{name: "ok", conflict: &Conflict{Type: ConflictRoutingLoop}})
	got := e.Detect(context.Background(), Candidate{}, Snapshot{})
	if len(got) != 1 {
		t.Fatalf("expected the panic to be absorbed and the other rule to still report, got %+v", got)
	}
}

func TestEvaluator_AddRemoveRule(t *testing.T) {
	e := NewEvaluator(DefaultEvaluatorConfig(), zap.NewNop())
	e.AddRule(instantRule{name: "r1", conflict: &Conflict{Type: ConflictRoutingLoop}})
	got := e.Detect(context.Background(), Candidate{}, Snapshot{})
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict after AddRule, got %d", len(got))
	}
	e.RemoveRule("r1")
	got = e.Detect(context.Background(), Candidate{}, Snapshot{})
	if len(got) != 0 {
		t.Fatalf("expected 0 conflicts after RemoveRule, got %d", len(got))
	}
}
