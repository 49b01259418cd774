package ledger

import (
	"fmt"

	"github.com/papertrade/automation-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Executor turns a fired rule into a ledger mutation. It trades against the
// owner's primary portfolio at the evaluation-time price; NOTIFY rules touch
// nothing and always succeed.
type Executor struct {
	db *Database
}

func NewExecutor(db *Database) *Executor {
	return &Executor{db: db}
}

// Execute performs the trade for one fired rule. A failed result carries a
// classified error (ErrInsufficientFunds, ErrInsufficientShares,
// ErrNoPriceAvailable, ErrNoPortfolio, or a storage error); the ledger is
// untouched on any failure.
func (e *Executor) Execute(rule *types.Rule, priceAtEvaluation float64) types.ExecutionResult {
	logger := log.With().
		Str("component", "trade_executor").
		Str("rule_id", rule.RuleID).
		Str("action", string(rule.ActionType)).
		Str("symbol", rule.Symbol).
		Logger()

	if rule.ActionType == types.ActionNotify {
		logger.Debug().Msg("notify rule, no ledger mutation")
		return types.ExecutionResult{Success: true}
	}

	if priceAtEvaluation <= 0 {
		return types.ExecutionResult{Err: fmt.Errorf("%w: %s", ErrNoPriceAvailable, rule.Symbol)}
	}

	portfolio, err := e.db.GetPrimaryPortfolio(rule.UserID)
	if err != nil {
		return types.ExecutionResult{Err: err}
	}

	var side types.TradeSide
	var shares float64

	switch rule.ActionType {
	case types.ActionBuy:
		side = types.TradeBuy
		shares = rule.Quantity
		if shares <= 0 {
			// Dollar-sized order: convert at the evaluation price.
			shares = rule.AmountUSD / priceAtEvaluation
		}
	case types.ActionSell:
		side = types.TradeSell
		shares = rule.Quantity
	default:
		return types.ExecutionResult{Err: fmt.Errorf("unsupported action type %q", rule.ActionType)}
	}

	if shares <= 0 {
		return types.ExecutionResult{Err: fmt.Errorf("rule %s resolves to zero shares", rule.RuleID)}
	}

	txn, err := e.db.ApplyTrade(portfolio.PortfolioID, rule.RuleID, rule.Symbol, shares, priceAtEvaluation, side)
	if err != nil {
		logger.Warn().Err(err).Float64("price", priceAtEvaluation).Msg("trade failed")
		return types.ExecutionResult{Err: err}
	}

	logger.Info().
		Str("transaction_id", txn.TransactionID).
		Float64("shares", shares).
		Float64("price", priceAtEvaluation).
		Float64("cash_after", txn.CashAfter).
		Msg("trade executed")

	return types.ExecutionResult{
		Success:        true,
		Transaction:    txn,
		NewCashBalance: txn.CashAfter,
	}
}
