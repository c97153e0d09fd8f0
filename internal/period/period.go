// Package period computes billing cycle boundaries and reference-date
// navigation. Everything here is pure calendar arithmetic; callers pass the
// cycle configuration and reference month in, nothing is read from ambient
// state, so boundaries can be computed for any historical or future month.
package period

import (
	"fmt"
	"time"

	"bilancio/internal/core"
)

// Range is one billing cycle as a concrete [Start, End] instant pair.
// Start is the first instant of the cycle, End the last.
type Range struct {
	Start time.Time
	End   time.Time
}

// Boundaries maps a cycle configuration and a reference year/month to the
// concrete cycle range.
//
// Calendar mode covers the whole reference month: day 1 at 00:00:00 through
// the last calendar day at the final nanosecond. Month length comes from
// day-0-of-next-month arithmetic, so leap years resolve correctly.
//
// Custom-days mode starts on StartDay of the reference month and ends on
// EndDay of the same month when EndDay >= StartDay, otherwise EndDay of the
// following month (e.g. 15th through the 14th).
func Boundaries(year int, month time.Month, cfg core.CycleConfig) (Range, error) {
	if err := cfg.Validate(); err != nil {
		return Range{}, err
	}

	switch cfg.Kind {
	case core.CalendarCycle:
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
		return Range{Start: start, End: end}, nil

	case core.CustomDaysCycle:
		start := time.Date(year, month, cfg.StartDay, 0, 0, 0, 0, time.UTC)
		endYear, endMonth := year, month
		if cfg.EndDay < cfg.StartDay {
			endYear, endMonth = nextMonth(year, month)
		}
		endDay := ClampDay(endYear, endMonth, cfg.EndDay)
		end := time.Date(endYear, endMonth, endDay+1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
		return Range{Start: start, End: end}, nil

	default:
		return Range{}, core.ErrInvalidCycle
	}
}

// Complete reports whether the cycle has ended relative to now. A cycle still
// in progress is never eligible for surplus forwarding.
func (r Range) Complete(now time.Time) bool {
	return r.End.Before(now)
}

// Label renders a human-readable header for the range: "March 2024" when the
// range is exactly one calendar month, "Mar 15 2024 – Apr 14 2024" otherwise.
// Formatting the same range twice yields identical strings.
func (r Range) Label() string {
	monthStart := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Nanosecond)
	if r.Start.Equal(monthStart) && r.End.Equal(monthEnd) {
		return r.Start.Format("January 2006")
	}
	return fmt.Sprintf("%s – %s", r.Start.Format("Jan 2 2006"), r.End.Format("Jan 2 2006"))
}

// DaysInMonth returns the number of calendar days in the given month,
// leap years included.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay limits a day-of-month to the last valid day of the target month,
// e.g. requesting the 31st of April yields the 30th.
func ClampDay(year int, month time.Month, day int) int {
	if last := DaysInMonth(year, month); day > last {
		return last
	}
	return day
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return t.Year(), t.Month()
}

// Cursor is the user's navigation position: the reference date that all
// period-dependent views derive their boundaries from.
type Cursor struct {
	Year  int
	Month time.Month
	Day   int
}

// Today returns a cursor positioned on the given instant.
func Today(now time.Time) Cursor {
	return Cursor{Year: now.Year(), Month: now.Month(), Day: now.Day()}
}

// ChangeMonth advances or retreats the reference month by delta, rolling the
// year over at the month boundaries and resetting the day to 1.
func (c Cursor) ChangeMonth(delta int) Cursor {
	t := time.Date(c.Year, c.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return Cursor{Year: t.Year(), Month: t.Month(), Day: 1}
}

// ChangeDay advances or retreats the reference day by delta, cascading into
// month and year changes (day 0 of January becomes December 31 of the
// previous year).
func (c Cursor) ChangeDay(delta int) Cursor {
	t := time.Date(c.Year, c.Month, c.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, delta)
	return Cursor{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}
