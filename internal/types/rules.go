package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActionType describes what a rule does when its trigger fires.
type ActionType string

const (
	ActionBuy    ActionType = "BUY"
	ActionSell   ActionType = "SELL"
	ActionNotify ActionType = "NOTIFY"
)

// TriggerType describes the condition class a rule is evaluated against.
type TriggerType string

const (
	TriggerPriceAbove TriggerType = "price_above"
	TriggerPriceBelow TriggerType = "price_below"
	TriggerChangePct  TriggerType = "change_pct"
	TriggerTimeOfDay  TriggerType = "time_of_day"
)

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	RuleActive    RuleStatus = "active"
	RulePaused    RuleStatus = "paused"
	RuleCompleted RuleStatus = "completed"
	RuleCancelled RuleStatus = "cancelled"
	RuleExpired   RuleStatus = "expired"
)

// Rule is a standing instruction evaluated repeatedly until exhausted,
// expired, or cancelled. Counters, lease, and status are mutated only by
// the engine; everything else is owned by the rule CRUD surface.
type Rule struct {
	gorm.Model           `json:"-"`
	RuleID               string         `gorm:"uniqueIndex" json:"rule_id"`
	UserID               string         `gorm:"index" json:"user_id"`
	ActionType           ActionType     `json:"action_type"`
	Symbol               string         `json:"symbol"`
	Quantity             float64        `json:"quantity"`
	AmountUSD            float64        `json:"amount_usd"`
	TriggerType          TriggerType    `json:"trigger_type"`
	TriggerParams        datatypes.JSON `json:"trigger_params"`
	ValidFrom            *time.Time     `json:"valid_from,omitempty"`
	ValidUntil           *time.Time     `json:"valid_until,omitempty"`
	MaxExecutions        int            `gorm:"default:1" json:"max_executions"`
	ExecutionsCount      int            `json:"executions_count"`
	CooldownSeconds      int            `json:"cooldown_seconds"`
	LastTriggeredAt      *time.Time     `json:"last_triggered_at,omitempty"`
	Status               RuleStatus     `gorm:"index" json:"status"`
	ProcessingLeaseUntil *time.Time     `json:"processing_lease_until,omitempty"`
}

// ErrInvalidTriggerParams marks a trigger_params payload that cannot be
// interpreted for the rule's trigger type. Rules carrying it are skipped
// permanently; the CRUD surface validates at creation time via ValidateRule.
var ErrInvalidTriggerParams = errors.New("invalid trigger params")

// ThresholdParams configures price_above / price_below triggers.
type ThresholdParams struct {
	Threshold float64 `json:"threshold"`
}

// ChangeParams configures change_pct triggers. Change is an unsigned
// percent magnitude; Direction is "up" or "down" and defaults to "up".
type ChangeParams struct {
	Change    float64 `json:"change"`
	Direction string  `json:"direction"`
}

// WindowParams configures time_of_day triggers. Start and End are HH:MM
// wall-clock times in UTC; the window is inclusive on both ends.
type WindowParams struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// ClockTime is a minutes-since-midnight wall-clock time serialized as HH:MM.
type ClockTime int

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return fmt.Errorf("%w: bad clock time %q", ErrInvalidTriggerParams, s)
	}
	*c = ClockTime(parsed.Hour()*60 + parsed.Minute())
	return nil
}

// ClockTimeOf extracts the UTC minutes-since-midnight of t.
func ClockTimeOf(t time.Time) ClockTime {
	utc := t.UTC()
	return ClockTime(utc.Hour()*60 + utc.Minute())
}

// ParseTriggerParams decodes raw trigger_params into the typed variant for
// the given trigger type. Unknown trigger types and malformed or incomplete
// payloads return ErrInvalidTriggerParams.
func ParseTriggerParams(triggerType TriggerType, raw datatypes.JSON) (interface{}, error) {
	switch triggerType {
	case TriggerPriceAbove, TriggerPriceBelow:
		var p ThresholdParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerParams, err)
		}
		if p.Threshold <= 0 {
			return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidTriggerParams)
		}
		return p, nil

	case TriggerChangePct:
		var p ChangeParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerParams, err)
		}
		if p.Change <= 0 {
			return nil, fmt.Errorf("%w: change must be positive", ErrInvalidTriggerParams)
		}
		switch p.Direction {
		case "":
			p.Direction = "up"
		case "up", "down":
		default:
			return nil, fmt.Errorf("%w: direction must be up or down", ErrInvalidTriggerParams)
		}
		return p, nil

	case TriggerTimeOfDay:
		var aux struct {
			Start *ClockTime `json:"start"`
			End   *ClockTime `json:"end"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerParams, err)
		}
		if aux.Start == nil || aux.End == nil {
			return nil, fmt.Errorf("%w: window requires start and end", ErrInvalidTriggerParams)
		}
		if *aux.End < *aux.Start {
			return nil, fmt.Errorf("%w: window end before start", ErrInvalidTriggerParams)
		}
		return WindowParams{Start: *aux.Start, End: *aux.End}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidTriggerParams, triggerType)
	}
}

// ValidateRule checks a rule the way the CRUD surface does at creation time,
// so the engine never sees a structurally invalid rule in the common case.
func ValidateRule(rule *Rule) error {
	switch rule.ActionType {
	case ActionBuy:
		if rule.Symbol == "" {
			return errors.New("buy rule requires a symbol")
		}
		if rule.Quantity <= 0 && rule.AmountUSD <= 0 {
			return errors.New("buy rule requires quantity or amount_usd")
		}
	case ActionSell:
		if rule.Symbol == "" {
			return errors.New("sell rule requires a symbol")
		}
		if rule.Quantity <= 0 {
			return errors.New("sell rule requires quantity")
		}
	case ActionNotify:
	default:
		return fmt.Errorf("unsupported action type %q", rule.ActionType)
	}

	if rule.MaxExecutions < 1 {
		return errors.New("max_executions must be at least 1")
	}
	if rule.CooldownSeconds < 0 {
		return errors.New("cooldown_seconds cannot be negative")
	}
	if rule.ValidFrom != nil && rule.ValidUntil != nil && rule.ValidUntil.Before(*rule.ValidFrom) {
		return errors.New("valid_until precedes valid_from")
	}

	_, err := ParseTriggerParams(rule.TriggerType, rule.TriggerParams)
	return err
}
