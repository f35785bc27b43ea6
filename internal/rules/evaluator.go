package rules

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/bgp-orchestrator/internal/metrics"
)

// Evaluator orchestrates concurrent execution of all registered Rules
// against a candidate peering, enforcing per-rule deadlines and isolating
// rule failures. It never returns an error itself: a rule that panics,
// times out, or returns an error is logged and treated as "no conflict".
type Evaluator struct {
	mu     sync.RWMutex
	rules  []Rule
	cfg    EvaluatorConfig
	logger *zap.Logger
}

// NewEvaluator builds an Evaluator with the given registration-ordered rule
// set. Rule instances must be stateless; they are shared across calls.
func NewEvaluator(cfg EvaluatorConfig, logger *zap.Logger, initial ...Rule) *Evaluator {
	return &Evaluator{
		rules:  append([]Rule(nil), initial...),
		cfg:    cfg,
		logger: logger,
	}
}

// AddRule registers a rule at runtime, appended to the stable order.
func (e *Evaluator) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// RemoveRule removes a previously-registered rule by name.
func (e *Evaluator) RemoveRule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.rules[:0]
	for _, r := range e.rules {
		if r.Name() != name {
			out = append(out, r)
		}
	}
	e.rules = out
}

// Detect launches every rule in parallel with an individual deadline. It
// returns when all rules have settled (completed, timed out, or panicked).
// Conflicts are returned in stable registration order; the evaluator never
// raises.
func (e *Evaluator) Detect(ctx context.Context, candidate Candidate, snapshot Snapshot) []Conflict {
	e.mu.RLock()
	active := append([]Rule(nil), e.rules...)
	e.mu.RUnlock()

	results := make([]*Conflict, len(active))

	// Plain errgroup.Group, not WithContext: each rule's failure is isolated
	// by runOne and never returned here, so one rule's timeout must never
	// cancel the others' context.
	var g errgroup.Group
	for i, rule := range active {
		i, rule := i, rule
		g.Go(func() error {
			results[i] = e.runOne(ctx, rule, candidate, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	var conflicts []Conflict
	for _, c := range results {
		if c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	return conflicts
}

// runOne runs a single rule with its own deadline and absorbs any error,
// timeout, or panic as "no conflict", logging the failure.
func (e *Evaluator) runOne(ctx context.Context, rule Rule, candidate Candidate, snapshot Snapshot) *Conflict {
	ruleCtx, cancel := context.WithTimeout(ctx, e.cfg.RuleTimeout)
	defer cancel()

	type outcome struct {
		conflict *Conflict
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("rule %s panicked: %v", rule.Name(), r)}
			}
		}()
		c, err := rule.Check(candidate, snapshot)
		done <- outcome{conflict: c, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			metrics.RuleEvaluationsTotal.WithLabelValues(rule.Name(), "error").Inc()
			e.logger.Warn("rule evaluation failed, treating as no conflict",
				zap.String("rule", rule.Name()), zap.Error(o.err))
			return nil
		}
		if o.conflict != nil {
			metrics.RuleEvaluationsTotal.WithLabelValues(rule.Name(), "conflict").Inc()
		} else {
			metrics.RuleEvaluationsTotal.WithLabelValues(rule.Name(), "no_conflict").Inc()
		}
		return o.conflict
	case <-ruleCtx.Done():
		metrics.RuleEvaluationsTotal.WithLabelValues(rule.Name(), "timeout").Inc()
		e.logger.Warn("rule evaluation timed out, treating as no conflict",
			zap.String("rule", rule.Name()), zap.Duration("timeout", e.cfg.RuleTimeout))
		return nil
	}
}
