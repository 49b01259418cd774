package engine

import (
	"encoding/json"
	"time"

	"github.com/papertrade/automation-api/internal/rules"
	"github.com/papertrade/automation-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Recorder appends the immutable audit record for every fired-and-attempted
// rule and advances rule counters on success. Failed attempts are recorded
// but do not consume an execution slot, so the rule retries on the next
// eligible cycle.
type Recorder struct {
	store *rules.Database
}

func NewRecorder(store *rules.Database) *Recorder {
	return &Recorder{store: store}
}

// Record writes exactly one execution record for the attempt and, on
// success, consumes an execution slot (completing the rule at the cap).
// firedAt is the evaluation clock, stamped into last_triggered_at so
// cooldown math lines up with the cycle that fired. Returns whether the
// rule is now completed.
func (r *Recorder) Record(rule *types.Rule, result types.ExecutionResult, price float64, firedAt time.Time) (bool, error) {
	logger := log.With().
		Str("component", "execution_recorder").
		Str("rule_id", rule.RuleID).
		Logger()

	details := types.ExecutionDetails{
		Symbol: rule.Symbol,
		Price:  price,
	}
	status := types.ExecutionSuccess
	if !result.Success {
		status = types.ExecutionFailed
		if result.Err != nil {
			details.Error = result.Err.Error()
		}
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return false, err
	}

	record := &types.ExecutionRecord{
		RuleID:  rule.RuleID,
		Status:  status,
		Details: payload,
	}
	if result.Transaction != nil {
		record.TransactionID = result.Transaction.TransactionID
	}

	if err := r.store.AppendExecution(record); err != nil {
		return false, err
	}

	if !result.Success {
		logger.Info().Str("error", details.Error).Msg("recorded failed execution, slot not consumed")
		return false, nil
	}

	completed, err := r.store.AdvanceCounters(rule.RuleID, firedAt)
	if err != nil {
		return false, err
	}
	if completed {
		logger.Info().Msg("rule reached max executions, completed")
	}
	return completed, nil
}
