package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade/automation-api/internal/ledger"
	"github.com/papertrade/automation-api/internal/quotes"
	"github.com/papertrade/automation-api/internal/rules"
	"github.com/papertrade/automation-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testHarness struct {
	engine   *Engine
	rules    *rules.Database
	ledger   *ledger.Database
	quotes   *quotes.Static
	notified []string
	clock    *time.Time
}

type captureNotifier struct{ fired *[]string }

func (n captureNotifier) RuleTriggered(rule *types.Rule, _, _ float64) {
	*n.fired = append(*n.fired, rule.RuleID)
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Rule{}, &types.Portfolio{}, &types.Holding{},
		&types.Transaction{}, &types.ExecutionRecord{},
	))

	now := time.Now()
	h := &testHarness{
		rules:  rules.NewDatabase(db),
		ledger: ledger.NewDatabase(db),
		quotes: quotes.NewStatic(nil),
		clock:  &now,
	}
	h.engine = New(Config{
		OpenInterval:   time.Second,
		ClosedInterval: time.Minute,
		LeaseDuration:  time.Minute,
		Clock:          func() time.Time { return *h.clock },
	}, h.rules, ledger.NewExecutor(h.ledger), h.quotes,
		captureNotifier{fired: &h.notified}, AlwaysOpenCalendar())
	return h
}

func (h *testHarness) seedPortfolio(t *testing.T, userID string, cash float64) *types.Portfolio {
	t.Helper()
	portfolio := &types.Portfolio{UserID: userID, Name: "Main", CashBalance: cash, IsPrimary: true}
	require.NoError(t, h.ledger.CreatePortfolio(portfolio))
	return portfolio
}

func (h *testHarness) seedRule(t *testing.T, rule *types.Rule) *types.Rule {
	t.Helper()
	require.NoError(t, h.rules.CreateRule(rule))
	return rule
}

func (h *testHarness) runCycles(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.engine.RunCycle(context.Background()))
	}
}

func dipBuyRule(userID string, threshold float64, quantity float64) *types.Rule {
	return &types.Rule{
		UserID:        userID,
		ActionType:    types.ActionBuy,
		Symbol:        "AAPL",
		Quantity:      quantity,
		TriggerType:   types.TriggerPriceBelow,
		TriggerParams: datatypes.JSON(fmt.Sprintf(`{"threshold": %.2f}`, threshold)),
		MaxExecutions: 1,
	}
}

// Scenario: price_below buy with sufficient cash executes once and
// completes the rule.
func TestCycleExecutesDipBuy(t *testing.T) {
	h := newHarness(t)
	portfolio := h.seedPortfolio(t, "user-1", 2000)
	rule := h.seedRule(t, dipBuyRule("user-1", 150, 10))
	h.quotes.Set("AAPL", 148, -1.2)

	h.runCycles(t, 1)

	reloaded, err := h.ledger.GetPortfolio(portfolio.PortfolioID)
	require.NoError(t, err)
	assert.InDelta(t, 520, reloaded.CashBalance, 1e-9)

	holding, err := h.ledger.GetHolding(portfolio.PortfolioID, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.InDelta(t, 10, holding.Shares, 1e-9)

	loaded, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ExecutionsCount)
	assert.Equal(t, types.RuleCompleted, loaded.Status)

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.ExecutionSuccess, records[0].Status)
	assert.NotEmpty(t, records[0].TransactionID)
}

// Scenario: the same buy with too little cash records a failure, keeps the
// rule active, and consumes no execution slot.
func TestCycleRecordsInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 1000)
	rule := h.seedRule(t, dipBuyRule("user-1", 150, 10))
	h.quotes.Set("AAPL", 148, -1.2)

	h.runCycles(t, 1)

	loaded, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.ExecutionsCount)
	assert.Equal(t, types.RuleActive, loaded.Status)

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.ExecutionFailed, records[0].Status)
	assert.Empty(t, records[0].TransactionID)
	assert.Contains(t, string(records[0].Details), "insufficient funds")
}

// Scenario: a change_pct notify fires, mutates no ledger state, and records
// a success with no transaction id.
func TestCycleNotifyOnPercentMove(t *testing.T) {
	h := newHarness(t)
	portfolio := h.seedPortfolio(t, "user-1", 2000)
	rule := h.seedRule(t, &types.Rule{
		UserID:        "user-1",
		ActionType:    types.ActionNotify,
		Symbol:        "AAPL",
		TriggerType:   types.TriggerChangePct,
		TriggerParams: datatypes.JSON(`{"change": 5, "direction": "up"}`),
		MaxExecutions: 1,
	})
	h.quotes.Set("AAPL", 160, 6.2)

	h.runCycles(t, 1)

	reloaded, err := h.ledger.GetPortfolio(portfolio.PortfolioID)
	require.NoError(t, err)
	assert.InDelta(t, 2000, reloaded.CashBalance, 1e-9)

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.ExecutionSuccess, records[0].Status)
	assert.Empty(t, records[0].TransactionID)
	assert.Equal(t, []string{rule.RuleID}, h.notified)
}

// Scenario: an expired validity window skips the rule entirely, whatever
// the trigger says.
func TestCycleSkipsExpiredValidity(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 2000)
	past := time.Now().Add(-time.Hour)
	rule := h.seedRule(t, dipBuyRule("user-1", 150, 10))
	require.NoError(t, h.rules.GetDB().Model(&types.Rule{}).
		Where("rule_id = ?", rule.RuleID).
		Update("valid_until", past).Error)
	h.quotes.Set("AAPL", 148, -1.2)

	h.runCycles(t, 1)

	loaded, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.ExecutionsCount)

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Empty(t, records, "skipped evaluations never produce records")
}

// Idempotency bound: however many cycles run with the trigger continuously
// true, executions never pass max_executions and no records are appended
// after completion.
func TestIdempotencyBoundOverManyCycles(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 100000)
	rule := dipBuyRule("user-1", 150, 1)
	rule.MaxExecutions = 3
	h.seedRule(t, rule)
	h.quotes.Set("AAPL", 148, 0)

	h.runCycles(t, 25)

	loaded, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.ExecutionsCount)
	assert.Equal(t, types.RuleCompleted, loaded.Status)

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

// Cooldown: after a firing at t, the rule must not fire again before t+C
// even though the condition stays true.
func TestCooldownSuppressesRefire(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 100000)
	rule := dipBuyRule("user-1", 150, 1)
	rule.MaxExecutions = 10
	rule.CooldownSeconds = 600
	h.seedRule(t, rule)
	h.quotes.Set("AAPL", 148, 0)

	h.runCycles(t, 5)
	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "cooldown holds while the clock stands still")

	*h.clock = h.clock.Add(11 * time.Minute)
	h.runCycles(t, 5)
	records, err = h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "one more firing once the cooldown elapsed")
}

// A worker carrying a rule row loaded before another worker's execution
// must not fire it again: the guards re-run against the fresh row under
// the lease, where the cooldown from the first firing now holds.
func TestStaleRuleSnapshotCannotDoubleFire(t *testing.T) {
	h := newHarness(t)
	portfolio := h.seedPortfolio(t, "user-1", 100000)
	rule := dipBuyRule("user-1", 150, 1)
	rule.MaxExecutions = 10
	rule.CooldownSeconds = 600
	h.seedRule(t, rule)
	h.quotes.Set("AAPL", 148, 0)

	stale, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)

	h.runCycles(t, 1) // first worker fires, records, releases the lease

	// Second worker arrives with its pre-cycle view of the rule and the
	// same firing price.
	snapshot := quotes.Snapshot{"AAPL": {Symbol: "AAPL", Price: 148}}
	require.NoError(t, h.engine.processRule(stale, snapshot, *h.clock))

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "the second worker must not consume another slot")

	txns, err := h.ledger.ListTransactions(portfolio.PortfolioID)
	require.NoError(t, err)
	assert.Len(t, txns, 1, "only one trade applied to the ledger")

	loaded, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ExecutionsCount)
	assert.Nil(t, loaded.ProcessingLeaseUntil, "the aborted attempt releases its lease")
}

// A rule leased by another worker is left alone for the cycle.
func TestCycleRespectsForeignLease(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 2000)
	rule := h.seedRule(t, dipBuyRule("user-1", 150, 10))
	h.quotes.Set("AAPL", 148, 0)

	now := time.Now()
	acquired, err := h.rules.AcquireLease(rule.RuleID, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, acquired)

	h.runCycles(t, 1)

	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Empty(t, records, "no execution while another worker holds the lease")

	loaded, err := h.rules.GetRule(rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.ExecutionsCount)
}

// A symbol missing from the quote batch skips its rules for the cycle and
// retries naturally on the next one.
func TestCycleRetriesAfterMissingQuote(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 2000)
	rule := h.seedRule(t, dipBuyRule("user-1", 150, 10))

	h.runCycles(t, 3) // no quote yet
	records, err := h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Empty(t, records)

	h.quotes.Set("AAPL", 148, 0)
	h.runCycles(t, 1)
	records, err = h.rules.ListExecutions(rule.RuleID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// One rule with broken params must not stop the rest of the cycle.
func TestCycleIsolatesBadRule(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 2000)

	bad := dipBuyRule("user-1", 150, 10)
	h.seedRule(t, bad)
	// Corrupt the params after creation; validation cannot help us here.
	require.NoError(t, h.rules.GetDB().Model(&types.Rule{}).
		Where("rule_id = ?", bad.RuleID).
		Update("trigger_params", `{"threshold": "oops"}`).Error)

	good := h.seedRule(t, dipBuyRule("user-1", 150, 5))
	h.quotes.Set("AAPL", 148, 0)

	h.runCycles(t, 1)

	records, err := h.rules.ListExecutions(good.RuleID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "healthy rule still executed")

	badRecords, err := h.rules.ListExecutions(bad.RuleID)
	require.NoError(t, err)
	assert.Empty(t, badRecords, "configuration errors skip silently")
}

func TestMetricsTrackCycleActivity(t *testing.T) {
	h := newHarness(t)
	h.seedPortfolio(t, "user-1", 2000)
	h.seedRule(t, dipBuyRule("user-1", 150, 10))
	h.quotes.Set("AAPL", 148, 0)

	h.runCycles(t, 2)

	m := h.engine.Metrics()
	assert.Equal(t, int64(2), m.CyclesRun)
	assert.Equal(t, int64(1), m.RulesEvaluated, "completed rule leaves the active pool")
	assert.Equal(t, int64(1), m.RulesTriggered)
	assert.Equal(t, int64(1), m.RulesExecuted)
	assert.False(t, m.LastCycleAt.IsZero())
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.engine.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on context cancellation")
	}
}
