package rules

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade/automation-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetDB exposes the underlying gorm handle for callers needing raw access.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// CreateRule validates and persists a new rule in active status.
func (d *Database) CreateRule(rule *types.Rule) error {
	if rule.MaxExecutions == 0 {
		rule.MaxExecutions = 1
	}
	if err := types.ValidateRule(rule); err != nil {
		return err
	}

	rule.RuleID = "RULE_" + uuid.New().String()
	rule.Status = types.RuleActive
	rule.ExecutionsCount = 0
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()

	return d.db.Create(rule).Error
}

func (d *Database) GetRule(ruleID string) (*types.Rule, error) {
	var rule types.Rule
	if err := d.db.Where("rule_id = ?", ruleID).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// ListActiveRules loads every active rule across all users. The scheduler
// consumes this as one cross-tenant batch per cycle.
func (d *Database) ListActiveRules() ([]types.Rule, error) {
	var list []types.Rule
	if err := d.db.Where("status = ?", types.RuleActive).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Database) UpdateStatus(ruleID string, status types.RuleStatus) error {
	return d.db.Model(&types.Rule{}).
		Where("rule_id = ?", ruleID).
		Update("status", status).Error
}

// CancelRule soft-cancels a rule; the row persists for audit.
func (d *Database) CancelRule(ruleID string) error {
	return d.UpdateStatus(ruleID, types.RuleCancelled)
}

// AcquireLease claims the rule for one worker until the given expiry. The
// claim is a single conditional update judged by affected-row count, so two
// workers racing on the same free rule cannot both win.
func (d *Database) AcquireLease(ruleID string, now, until time.Time) (bool, error) {
	res := d.db.Model(&types.Rule{}).
		Where("rule_id = ? AND status = ? AND (processing_lease_until IS NULL OR processing_lease_until <= ?)",
			ruleID, types.RuleActive, now).
		Update("processing_lease_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLease clears the rule's lease. Expiry covers the crashed-worker
// case; this covers the normal path.
func (d *Database) ReleaseLease(ruleID string) error {
	return d.db.Model(&types.Rule{}).
		Where("rule_id = ?", ruleID).
		Update("processing_lease_until", nil).Error
}

// AdvanceCounters consumes one execution slot after a successful firing:
// increments executions_count, stamps last_triggered_at, and completes the
// rule once the count reaches max_executions. The increment is guarded so
// the count can never pass max_executions even under duplicate calls.
// Returns whether the rule is now completed.
func (d *Database) AdvanceCounters(ruleID string, firedAt time.Time) (bool, error) {
	res := d.db.Model(&types.Rule{}).
		Where("rule_id = ? AND executions_count < max_executions", ruleID).
		Updates(map[string]interface{}{
			"executions_count":  gorm.Expr("executions_count + 1"),
			"last_triggered_at": firedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Slot already consumed elsewhere; make sure the status caught up.
		return true, d.completeExhausted(ruleID)
	}

	rule, err := d.GetRule(ruleID)
	if err != nil || rule == nil {
		return false, err
	}
	if rule.ExecutionsCount >= rule.MaxExecutions {
		return true, d.completeExhausted(ruleID)
	}
	return false, nil
}

func (d *Database) completeExhausted(ruleID string) error {
	return d.db.Model(&types.Rule{}).
		Where("rule_id = ? AND executions_count >= max_executions AND status = ?",
			ruleID, types.RuleActive).
		Update("status", types.RuleCompleted).Error
}

// MarkCompleted transitions an exhausted rule out of the active pool. Used
// when the evaluator reports exhaustion for a rule whose status lagged.
func (d *Database) MarkCompleted(ruleID string) error {
	return d.db.Model(&types.Rule{}).
		Where("rule_id = ? AND status = ?", ruleID, types.RuleActive).
		Update("status", types.RuleCompleted).Error
}

// ExpireRules transitions active or paused rules whose validity window has
// closed. Returns the number of rules expired.
func (d *Database) ExpireRules(now time.Time) (int64, error) {
	res := d.db.Model(&types.Rule{}).
		Where("valid_until IS NOT NULL AND valid_until < ? AND status IN ?",
			now, []types.RuleStatus{types.RuleActive, types.RulePaused}).
		Update("status", types.RuleExpired)
	return res.RowsAffected, res.Error
}

// ClearStaleLeases releases leases that expired before the cutoff, so a
// crashed worker's claim does not linger in introspection views.
func (d *Database) ClearStaleLeases(cutoff time.Time) (int64, error) {
	res := d.db.Model(&types.Rule{}).
		Where("processing_lease_until IS NOT NULL AND processing_lease_until < ?", cutoff).
		Update("processing_lease_until", nil)
	return res.RowsAffected, res.Error
}

// AppendExecution writes one immutable audit record for an attempted firing.
func (d *Database) AppendExecution(record *types.ExecutionRecord) error {
	record.RecordID = "EXEC_" + uuid.New().String()
	record.CreatedAt = time.Now()
	return d.db.Create(record).Error
}

// ListExecutions returns a rule's audit trail, newest first.
func (d *Database) ListExecutions(ruleID string) ([]types.ExecutionRecord, error) {
	var records []types.ExecutionRecord
	err := d.db.Where("rule_id = ?", ruleID).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}
