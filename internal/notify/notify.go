package notify

import (
	"github.com/papertrade/automation-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Notifier receives successful NOTIFY firings. Delivery channels (email,
// push) plug in behind this; rendering is owned by the delivery side.
type Notifier interface {
	RuleTriggered(rule *types.Rule, price, changePercent float64)
}

// LogNotifier writes firings to the structured log. It is the default sink
// and the one the simulation uses.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) RuleTriggered(rule *types.Rule, price, changePercent float64) {
	log.Info().
		Str("component", "notifier").
		Str("rule_id", rule.RuleID).
		Str("user_id", rule.UserID).
		Str("symbol", rule.Symbol).
		Str("trigger_type", string(rule.TriggerType)).
		Float64("price", price).
		Float64("change_percent", changePercent).
		Msg("rule triggered notification")
}
