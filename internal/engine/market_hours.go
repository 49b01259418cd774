package engine

import "time"

// MarketCalendar reports whether the primary market is in its core trading
// session. The engine only uses this to pick its polling cadence; it is a
// scheduling hint, never a correctness gate.
type MarketCalendar interface {
	IsOpen(at time.Time) bool
}

// USEquityCalendar approximates NYSE/NASDAQ core hours: 09:30–16:00 Eastern,
// Monday through Friday. Exchange holidays are ignored; on a holiday the
// engine merely polls at the open-market cadence against a quiet feed.
type USEquityCalendar struct {
	loc *time.Location
}

func NewUSEquityCalendar() *USEquityCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fixed-offset fallback; off by an hour half the year, which only
		// shifts the cadence switchover.
		loc = time.FixedZone("ET", -5*60*60)
	}
	return &USEquityCalendar{loc: loc}
}

func (c *USEquityCalendar) IsOpen(at time.Time) bool {
	local := at.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// alwaysOpen is used by the simulation so cycles run at the fast cadence
// regardless of wall-clock time.
type alwaysOpen struct{}

func (alwaysOpen) IsOpen(time.Time) bool { return true }

// AlwaysOpenCalendar returns a calendar that reports the market open at all
// times.
func AlwaysOpenCalendar() MarketCalendar { return alwaysOpen{} }
