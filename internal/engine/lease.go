package engine

import (
	"time"

	"github.com/papertrade/automation-api/internal/rules"
	"github.com/rs/zerolog/log"
)

// LeaseManager grants time-boxed execution claims on rules so concurrent
// scheduler instances cannot act on the same firing twice. Acquisition is a
// single conditional update in the rule store; a zero-row result means
// another worker holds the lease.
type LeaseManager struct {
	store    *rules.Database
	duration time.Duration
}

// NewLeaseManager creates a lease manager granting claims of the given
// duration. The duration should exceed the worst-case evaluate-and-execute
// time; at least twice the scheduler cadence is a sane floor.
func NewLeaseManager(store *rules.Database, duration time.Duration) *LeaseManager {
	return &LeaseManager{store: store, duration: duration}
}

// TryAcquire claims the rule for this worker. False means another worker
// currently owns it (or the rule left active status).
func (m *LeaseManager) TryAcquire(ruleID string) (bool, error) {
	now := time.Now()
	return m.store.AcquireLease(ruleID, now, now.Add(m.duration))
}

// Release clears the claim after the execution path finishes. Failures are
// logged and swallowed: the lease expires on its own.
func (m *LeaseManager) Release(ruleID string) {
	if err := m.store.ReleaseLease(ruleID); err != nil {
		log.Warn().
			Str("component", "lease_manager").
			Str("rule_id", ruleID).
			Err(err).
			Msg("failed to release lease, will expire naturally")
	}
}
