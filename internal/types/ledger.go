package types

import (
	"time"

	"gorm.io/gorm"
)

// TradeSide is the direction of a ledger mutation.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Portfolio holds a user's cash balance. Every executed trade keeps
// CashBalance non-negative.
type Portfolio struct {
	gorm.Model  `json:"-"`
	PortfolioID string    `gorm:"uniqueIndex" json:"portfolio_id"`
	UserID      string    `gorm:"index" json:"user_id"`
	Name        string    `json:"name"`
	CashBalance float64   `json:"cash_balance"`
	IsPrimary   bool      `json:"is_primary"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Holding is the position in one symbol within a portfolio. Shares stays
// non-negative; the row is deleted when shares reach zero.
type Holding struct {
	gorm.Model  `json:"-"`
	PortfolioID string    `gorm:"index:idx_portfolio_symbol,unique" json:"portfolio_id"`
	Symbol      string    `gorm:"index:idx_portfolio_symbol,unique" json:"symbol"`
	Shares      float64   `json:"shares"`
	AverageCost float64   `json:"average_cost"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transaction is the append-only system of record for executed trades.
// CashAfter captures the portfolio's cash balance immediately after the
// trade was applied.
type Transaction struct {
	gorm.Model    `json:"-"`
	TransactionID string    `gorm:"uniqueIndex" json:"transaction_id"`
	PortfolioID   string    `gorm:"index" json:"portfolio_id"`
	RuleID        string    `gorm:"index" json:"rule_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          TradeSide `json:"side"`
	Shares        float64   `json:"shares"`
	Price         float64   `json:"price"`
	TotalAmount   float64   `json:"total_amount"`
	CashAfter     float64   `json:"cash_after"`
	CreatedAt     time.Time `json:"created_at"`
}
