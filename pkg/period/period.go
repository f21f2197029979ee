// Package period computes boundary-crossing information for irregular
// consumption updates. All period starts are derived in the device's local
// time zone, so daylight-saving transitions shift the absolute boundary
// instants with the zone offset.
package period

import (
	"time"

	"github.com/utilitycost/utilitycost/pkg/types"
)

// Calculator derives period snapshots in a fixed local time zone. The zone is
// process-wide configuration and must not change between updates.
type Calculator struct {
	loc *time.Location
}

// NewCalculator creates a Calculator for the given location.
func NewCalculator(loc *time.Location) *Calculator {
	return &Calculator{loc: loc}
}

// Location returns the calculator's time zone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Compute returns the period snapshot for now relative to lastUpdate.
// lastUpdate may be the zero time when no update has been recorded yet; in
// that case all rollover flags are false.
//
// A rollover flag fires exactly once per boundary: lastUpdate must be strictly
// before the period start and now at or after it. When updates skip more than
// one boundary, the interval is still split only at the most recent one.
func (c *Calculator) Compute(now, lastUpdate time.Time) types.PeriodSnapshot {
	local := now.In(c.loc)

	startOfHour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, c.loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	startOfMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.loc)
	startOfYear := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, c.loc)

	crossed := func(start time.Time) bool {
		return !lastUpdate.IsZero() && lastUpdate.Before(start) && !now.Before(start)
	}

	return types.PeriodSnapshot{
		Now:          now,
		LastUpdate:   lastUpdate,
		StartOfHour:  startOfHour,
		StartOfDay:   startOfDay,
		StartOfMonth: startOfMonth,
		StartOfYear:  startOfYear,
		NewHour:      crossed(startOfHour),
		NewDay:       crossed(startOfDay),
		NewMonth:     crossed(startOfMonth),
		NewYear:      crossed(startOfYear),
	}
}

// DaysInMonth returns the number of calendar days in at's month.
func (c *Calculator) DaysInMonth(at time.Time) int {
	local := at.In(c.loc)
	// day 0 of the next month is the last day of this month
	return time.Date(local.Year(), local.Month()+1, 0, 0, 0, 0, 0, c.loc).Day()
}

// DaysInYear returns the number of calendar days in at's year.
func (c *Calculator) DaysInYear(at time.Time) int {
	local := at.In(c.loc)
	return time.Date(local.Year(), time.December, 31, 0, 0, 0, 0, c.loc).YearDay()
}

// HoursInMonth returns the nominal number of hours in at's month, used for the
// MONTHLY_HOURS formula variable.
func (c *Calculator) HoursInMonth(at time.Time) int {
	return c.DaysInMonth(at) * 24
}
