package engine

import (
	"time"

	"github.com/papertrade/automation-api/internal/rules"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// staleLeaseGrace is how long past expiry a lease may linger before the
// maintenance job clears it. Generous on purpose: the conditional acquire
// already treats expired leases as free, this is housekeeping.
const staleLeaseGrace = 10 * time.Minute

// Maintenance runs the engine's periodic housekeeping on a cron schedule:
// expiring rules whose validity window has closed and clearing leases left
// behind by crashed workers.
type Maintenance struct {
	store    *rules.Database
	cron     *cron.Cron
	schedule string
}

// NewMaintenance creates the maintenance job. schedule is a standard cron
// expression ("@hourly" by default in config).
func NewMaintenance(store *rules.Database, schedule string) *Maintenance {
	return &Maintenance{
		store:    store,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start registers and begins the cron schedule.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, m.Run); err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Run performs one housekeeping pass. Exposed for tests and for running
// once at boot.
func (m *Maintenance) Run() {
	logger := log.With().Str("component", "engine_maintenance").Logger()
	now := time.Now()

	expired, err := m.store.ExpireRules(now)
	if err != nil {
		logger.Error().Err(err).Msg("failed to expire rules")
	} else if expired > 0 {
		logger.Info().Int64("count", expired).Msg("expired rules past validity window")
	}

	cleared, err := m.store.ClearStaleLeases(now.Add(-staleLeaseGrace))
	if err != nil {
		logger.Error().Err(err).Msg("failed to clear stale leases")
	} else if cleared > 0 {
		logger.Info().Int64("count", cleared).Msg("cleared stale processing leases")
	}
}
