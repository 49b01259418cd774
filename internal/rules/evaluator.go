package rules

import (
	"time"

	"github.com/papertrade/automation-api/internal/quotes"
	"github.com/papertrade/automation-api/internal/types"
)

// Outcome is the evaluator's verdict for one rule in one cycle.
type Outcome string

const (
	OutcomeFired    Outcome = "fired"
	OutcomeNotFired Outcome = "not_fired"
	OutcomeSkipped  Outcome = "skipped"
)

// SkipReason explains why a rule was not considered this cycle.
type SkipReason string

const (
	SkipNotActive       SkipReason = "rule_not_active"
	SkipOutsideValidity SkipReason = "outside_validity_window"
	SkipCoolingDown     SkipReason = "cooldown_in_effect"
	SkipExhausted       SkipReason = "max_executions_reached"
	SkipNoQuote         SkipReason = "no_fresh_quote"
	SkipBadParams       SkipReason = "invalid_trigger_params"
)

// Decision is the result of evaluating one rule against one market snapshot.
// Price carries the evaluation-time price for the rule's symbol when one was
// available; the executor uses it for sizing and fills. Exhausted tells the
// caller the rule should transition to completed — the evaluator itself
// never touches storage.
type Decision struct {
	Outcome       Outcome
	Reason        SkipReason
	Price         float64
	ChangePercent float64
	Exhausted     bool
}

func skipped(reason SkipReason) Decision {
	return Decision{Outcome: OutcomeSkipped, Reason: reason}
}

// Evaluate decides fire / no-fire / skip for one rule. It is pure: same
// rule, snapshot, and clock always produce the same decision.
func Evaluate(rule *types.Rule, snapshot quotes.Snapshot, now time.Time) Decision {
	if rule.Status != types.RuleActive {
		return skipped(SkipNotActive)
	}
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return skipped(SkipOutsideValidity)
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return skipped(SkipOutsideValidity)
	}
	if rule.CooldownSeconds > 0 && rule.LastTriggeredAt != nil {
		eligibleAt := rule.LastTriggeredAt.Add(time.Duration(rule.CooldownSeconds) * time.Second)
		if now.Before(eligibleAt) {
			return skipped(SkipCoolingDown)
		}
	}
	if rule.ExecutionsCount >= rule.MaxExecutions {
		d := skipped(SkipExhausted)
		d.Exhausted = true
		return d
	}

	params, err := types.ParseTriggerParams(rule.TriggerType, rule.TriggerParams)
	if err != nil {
		return skipped(SkipBadParams)
	}

	switch p := params.(type) {
	case types.ThresholdParams:
		quote, ok := freshQuote(snapshot, rule.Symbol)
		if !ok {
			return skipped(SkipNoQuote)
		}
		// Boundary inclusive on both trigger kinds.
		fired := false
		if rule.TriggerType == types.TriggerPriceAbove {
			fired = quote.Price >= p.Threshold
		} else {
			fired = quote.Price <= p.Threshold
		}
		return verdict(fired, quote)

	case types.ChangeParams:
		quote, ok := freshQuote(snapshot, rule.Symbol)
		if !ok {
			return skipped(SkipNoQuote)
		}
		fired := false
		if p.Direction == "down" {
			fired = quote.ChangePercent <= -p.Change
		} else {
			fired = quote.ChangePercent >= p.Change
		}
		return verdict(fired, quote)

	case types.WindowParams:
		// A trading window rule cannot size or fill without a price, so it
		// skips and retries next cycle. NOTIFY window rules fire priceless.
		quote, ok := freshQuote(snapshot, rule.Symbol)
		if !ok && rule.ActionType != types.ActionNotify {
			return skipped(SkipNoQuote)
		}
		clock := types.ClockTimeOf(now)
		fired := clock >= p.Start && clock <= p.End
		return verdict(fired, quote)

	default:
		return skipped(SkipBadParams)
	}
}

func freshQuote(snapshot quotes.Snapshot, symbol string) (quotes.Quote, bool) {
	if symbol == "" {
		return quotes.Quote{}, false
	}
	quote, ok := snapshot.Lookup(symbol)
	if !ok || quote.Stale {
		return quotes.Quote{}, false
	}
	return quote, true
}

func verdict(fired bool, quote quotes.Quote) Decision {
	outcome := OutcomeNotFired
	if fired {
		outcome = OutcomeFired
	}
	return Decision{
		Outcome:       outcome,
		Price:         quote.Price,
		ChangePercent: quote.ChangePercent,
	}
}
