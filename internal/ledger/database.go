package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade/automation-api/internal/types"
	"gorm.io/gorm"
)

// Business-rule failures surfaced by trade application. Callers classify
// with errors.Is; anything else is a storage error.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoPriceAvailable   = errors.New("no price available")
	ErrNoPortfolio        = errors.New("no portfolio for user")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreatePortfolio persists a new portfolio with the given opening cash.
func (d *Database) CreatePortfolio(portfolio *types.Portfolio) error {
	portfolio.PortfolioID = "PTF_" + uuid.New().String()
	portfolio.CreatedAt = time.Now()
	portfolio.UpdatedAt = time.Now()
	return d.db.Create(portfolio).Error
}

// GetPrimaryPortfolio resolves the portfolio the engine trades against for
// a user: the one flagged primary, else the oldest.
func (d *Database) GetPrimaryPortfolio(userID string) (*types.Portfolio, error) {
	var portfolio types.Portfolio
	err := d.db.Where("user_id = ?", userID).
		Order("is_primary DESC, created_at ASC").
		First(&portfolio).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPortfolio
		}
		return nil, err
	}
	return &portfolio, nil
}

func (d *Database) GetPortfolio(portfolioID string) (*types.Portfolio, error) {
	var portfolio types.Portfolio
	if err := d.db.Where("portfolio_id = ?", portfolioID).First(&portfolio).Error; err != nil {
		return nil, err
	}
	return &portfolio, nil
}

func (d *Database) GetHolding(portfolioID, symbol string) (*types.Holding, error) {
	var holding types.Holding
	err := d.db.Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).
		First(&holding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &holding, nil
}

func (d *Database) ListTransactions(portfolioID string) ([]types.Transaction, error) {
	var txns []types.Transaction
	err := d.db.Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").
		Find(&txns).Error
	return txns, err
}

// ApplyTrade applies one trade to the ledger as a single transaction: cash
// movement, holding upsert, and the append-only Transaction row commit or
// roll back together. Balance and share checks run against the in-transaction
// state, so a concurrent trade on the same portfolio cannot interleave
// partially.
func (d *Database) ApplyTrade(portfolioID, ruleID, symbol string, shares, price float64, side types.TradeSide) (*types.Transaction, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var portfolio types.Portfolio
	if err := tx.Where("portfolio_id = ?", portfolioID).First(&portfolio).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	total := shares * price
	var newCash float64

	switch side {
	case types.TradeBuy:
		if total > portfolio.CashBalance {
			tx.Rollback()
			return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, total, portfolio.CashBalance)
		}
		newCash = portfolio.CashBalance - total
		if err := applyBuyHolding(tx, portfolioID, symbol, shares, price); err != nil {
			tx.Rollback()
			return nil, err
		}

	case types.TradeSell:
		var holding types.Holding
		err := tx.Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).First(&holding).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && holding.Shares < shares) {
			tx.Rollback()
			return nil, fmt.Errorf("%w: %s", ErrInsufficientShares, symbol)
		}
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		newCash = portfolio.CashBalance + total
		if err := applySellHolding(tx, &holding, shares); err != nil {
			tx.Rollback()
			return nil, err
		}

	default:
		tx.Rollback()
		return nil, fmt.Errorf("unsupported trade side %q", side)
	}

	if err := tx.Model(&types.Portfolio{}).
		Where("portfolio_id = ?", portfolioID).
		Update("cash_balance", newCash).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	txn := &types.Transaction{
		TransactionID: "TXN_" + uuid.New().String(),
		PortfolioID:   portfolioID,
		RuleID:        ruleID,
		Symbol:        symbol,
		Side:          side,
		Shares:        shares,
		Price:         price,
		TotalAmount:   total,
		CashAfter:     newCash,
		CreatedAt:     time.Now(),
	}
	if err := tx.Create(txn).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// applyBuyHolding upserts the position with a volume-weighted average cost.
func applyBuyHolding(tx *gorm.DB, portfolioID, symbol string, shares, price float64) error {
	var holding types.Holding
	err := tx.Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&types.Holding{
			PortfolioID: portfolioID,
			Symbol:      symbol,
			Shares:      shares,
			AverageCost: price,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}).Error
	}
	if err != nil {
		return err
	}

	newShares := holding.Shares + shares
	newAvg := (holding.Shares*holding.AverageCost + shares*price) / newShares
	return tx.Model(&holding).Updates(map[string]interface{}{
		"shares":       newShares,
		"average_cost": newAvg,
	}).Error
}

// applySellHolding reduces the position, deleting the row at zero shares.
// Average cost is unchanged by a sale.
func applySellHolding(tx *gorm.DB, holding *types.Holding, shares float64) error {
	remaining := holding.Shares - shares
	if remaining <= 0 {
		return tx.Unscoped().Delete(holding).Error
	}
	return tx.Model(holding).Update("shares", remaining).Error
}
