package types

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionStatus is the outcome of one fired-and-attempted rule.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExecutionRecord is the immutable audit entry appended once per attempted
// firing. Records are never updated or deleted.
type ExecutionRecord struct {
	gorm.Model    `json:"-"`
	RecordID      string          `gorm:"uniqueIndex" json:"record_id"`
	RuleID        string          `gorm:"index" json:"rule_id"`
	Status        ExecutionStatus `json:"status"`
	Details       datatypes.JSON  `json:"details"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ExecutionDetails is the payload serialized into ExecutionRecord.Details.
type ExecutionDetails struct {
	Symbol string  `json:"symbol,omitempty"`
	Price  float64 `json:"price,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// ExecutionResult reports what the trade executor did for one firing.
type ExecutionResult struct {
	Success        bool
	Transaction    *Transaction
	NewCashBalance float64
	Err            error
}
