package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/papertrade/automation-api/internal/ledger"
	"github.com/papertrade/automation-api/internal/notify"
	"github.com/papertrade/automation-api/internal/quotes"
	"github.com/papertrade/automation-api/internal/rules"
	"github.com/papertrade/automation-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config carries the engine's scheduling parameters.
type Config struct {
	// OpenInterval is the polling cadence while the primary market is in
	// session; ClosedInterval applies otherwise.
	OpenInterval   time.Duration
	ClosedInterval time.Duration
	// LeaseDuration bounds how long one worker may hold a rule. Keep it at
	// or above twice OpenInterval so a slow execution is not preempted.
	LeaseDuration time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine is the action automation scheduler: on a cadence it loads active
// rules, fetches one quote batch for their symbols, evaluates each rule,
// and drives lease -> execute -> record for the ones that fire.
type Engine struct {
	store    *rules.Database
	executor *ledger.Executor
	quotes   quotes.Provider
	leases   *LeaseManager
	recorder *Recorder
	notifier notify.Notifier
	calendar MarketCalendar
	metrics  *Metrics
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// New wires an engine from its collaborators.
func New(cfg Config, store *rules.Database, executor *ledger.Executor, provider quotes.Provider, notifier notify.Notifier, calendar MarketCalendar) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    store,
		executor: executor,
		quotes:   provider,
		leases:   NewLeaseManager(store, cfg.LeaseDuration),
		recorder: NewRecorder(store),
		notifier: notifier,
		calendar: calendar,
		metrics:  NewMetrics(),
		cfg:      cfg,
		now:      now,
		logger:   log.With().Str("component", "automation_engine").Logger(),
	}
}

// Metrics returns the introspection counters for the status surface.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Start runs the scheduler loop until ctx is cancelled. Cycle failures are
// logged and retried on the next tick; the loop itself never exits on them.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info().
		Dur("open_interval", e.cfg.OpenInterval).
		Dur("closed_interval", e.cfg.ClosedInterval).
		Msg("starting automation engine")

	timer := time.NewTimer(e.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("shutting down automation engine")
			return
		case <-timer.C:
			if err := e.RunCycle(ctx); err != nil {
				e.logger.Error().Err(err).Msg("cycle failed, retrying next tick")
			}
			timer.Reset(e.interval())
		}
	}
}

func (e *Engine) interval() time.Duration {
	if e.calendar != nil && e.calendar.IsOpen(e.now()) {
		return e.cfg.OpenInterval
	}
	return e.cfg.ClosedInterval
}

// RunCycle performs one full evaluation pass. Exported so the simulation
// and tests can drive the engine without the timer.
func (e *Engine) RunCycle(ctx context.Context) error {
	now := e.now()

	active, err := e.store.ListActiveRules()
	if err != nil {
		e.metrics.cycleFinished(true)
		return fmt.Errorf("failed to load active rules: %w", err)
	}
	if len(active) == 0 {
		e.metrics.cycleFinished(false)
		return nil
	}

	snapshot, err := e.fetchSnapshot(ctx, active)
	if err != nil {
		// Partial snapshots are usable: rules without a fresh quote skip
		// this cycle and retry on the next one.
		e.logger.Warn().Err(err).Msg("quote batch fetch degraded")
	}

	e.logger.Debug().
		Int("rules", len(active)).
		Int("symbols", len(snapshot)).
		Msg("evaluating rules")

	errored := false
	for i := range active {
		if ctx.Err() != nil {
			e.metrics.cycleFinished(true)
			return ctx.Err()
		}
		if err := e.processRule(&active[i], snapshot, now); err != nil {
			errored = true
			e.metrics.ruleErrored()
			e.logger.Error().
				Err(err).
				Str("rule_id", active[i].RuleID).
				Msg("rule processing failed, continuing cycle")
		}
	}

	e.metrics.cycleFinished(errored)
	return nil
}

// fetchSnapshot issues one batched quote request for the distinct symbols
// referenced by the cycle's rules. The symbol set is computed fresh each
// cycle from the rules themselves.
func (e *Engine) fetchSnapshot(ctx context.Context, active []types.Rule) (quotes.Snapshot, error) {
	seen := make(map[string]struct{})
	for i := range active {
		if s := active[i].Symbol; s != "" {
			seen[s] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return quotes.Snapshot{}, nil
	}

	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fetched, err := e.quotes.GetQuotes(ctx, symbols)
	if fetched == nil {
		fetched = map[string]quotes.Quote{}
	}
	return quotes.Snapshot(fetched), err
}

// processRule drives one rule through evaluate -> lease -> execute ->
// record. A panic from any collaborator is contained here so one bad rule
// cannot take down the cycle.
func (e *Engine) processRule(rule *types.Rule, snapshot quotes.Snapshot, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing rule: %v", r)
		}
	}()

	decision := rules.Evaluate(rule, snapshot, now)
	e.metrics.ruleEvaluated()

	switch decision.Outcome {
	case rules.OutcomeNotFired:
		return nil

	case rules.OutcomeSkipped:
		e.metrics.ruleSkipped()
		if decision.Exhausted {
			// The evaluator reports exhaustion; the transition is ours.
			return e.store.MarkCompleted(rule.RuleID)
		}
		return nil
	}

	e.metrics.ruleTriggered()

	acquired, err := e.leases.TryAcquire(rule.RuleID)
	if err != nil {
		return fmt.Errorf("lease acquisition failed: %w", err)
	}
	if !acquired {
		e.logger.Debug().Str("rule_id", rule.RuleID).Msg("rule leased elsewhere, skipping")
		return nil
	}

	// The cycle's snapshot may predate another worker's execution of this
	// same firing. Re-read the row under the lease and re-run the guards
	// (status, cooldown, counters) against fresh state before trading.
	fresh, err := e.store.GetRule(rule.RuleID)
	if err != nil {
		e.leases.Release(rule.RuleID)
		return fmt.Errorf("failed to reload rule under lease: %w", err)
	}
	if fresh == nil {
		e.leases.Release(rule.RuleID)
		return nil
	}
	decision = rules.Evaluate(fresh, snapshot, now)
	if decision.Outcome != rules.OutcomeFired {
		e.leases.Release(rule.RuleID)
		if decision.Exhausted {
			return e.store.MarkCompleted(fresh.RuleID)
		}
		return nil
	}
	rule = fresh

	result := e.executor.Execute(rule, decision.Price)
	if result.Success {
		e.metrics.ruleExecuted()
		if rule.ActionType == types.ActionNotify && e.notifier != nil {
			e.notifier.RuleTriggered(rule, decision.Price, decision.ChangePercent)
		}
	}

	if _, err := e.recorder.Record(rule, result, decision.Price, now); err != nil {
		// Keep the lease: letting it expire blocks a retry until the
		// counters and audit trail can be trusted again.
		return fmt.Errorf("failed to record execution: %w", err)
	}

	e.leases.Release(rule.RuleID)
	return nil
}
