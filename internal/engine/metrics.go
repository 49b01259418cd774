package engine

import (
	"sync"
	"time"
)

// Metrics is the engine's introspection surface: cheap counters read by the
// status endpoint. All methods are safe for concurrent use.
type Metrics struct {
	mu             sync.Mutex
	cyclesRun      int64
	cyclesErrored  int64
	rulesEvaluated int64
	rulesTriggered int64
	rulesExecuted  int64
	rulesSkipped   int64
	rulesErrored   int64
	lastCycleAt    time.Time
}

// MetricsSnapshot is a point-in-time copy served over the status API.
type MetricsSnapshot struct {
	CyclesRun      int64     `json:"cycles_run"`
	CyclesErrored  int64     `json:"cycles_errored"`
	RulesEvaluated int64     `json:"rules_evaluated"`
	RulesTriggered int64     `json:"rules_triggered"`
	RulesExecuted  int64     `json:"rules_executed"`
	RulesSkipped   int64     `json:"rules_skipped"`
	RulesErrored   int64     `json:"rules_errored"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) cycleFinished(errored bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cyclesRun++
	if errored {
		m.cyclesErrored++
	}
	m.lastCycleAt = time.Now()
}

func (m *Metrics) ruleEvaluated() { m.add(&m.rulesEvaluated) }
func (m *Metrics) ruleTriggered() { m.add(&m.rulesTriggered) }
func (m *Metrics) ruleExecuted()  { m.add(&m.rulesExecuted) }
func (m *Metrics) ruleSkipped()   { m.add(&m.rulesSkipped) }
func (m *Metrics) ruleErrored()   { m.add(&m.rulesErrored) }

func (m *Metrics) add(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		CyclesRun:      m.cyclesRun,
		CyclesErrored:  m.cyclesErrored,
		RulesEvaluated: m.rulesEvaluated,
		RulesTriggered: m.rulesTriggered,
		RulesExecuted:  m.rulesExecuted,
		RulesSkipped:   m.rulesSkipped,
		RulesErrored:   m.rulesErrored,
		LastCycleAt:    m.lastCycleAt,
	}
}
