package core

import (
	"errors"
	"fmt"
)

const (
	CalendarCycle   CycleKind = "calendar"
	CustomDaysCycle CycleKind = "custom_days"
)

type (
	CycleKind string

	// CycleConfig is the per-user billing cycle shape. It is a tagged variant:
	// CalendarCycle uses whole calendar months and ignores the day fields;
	// CustomDaysCycle runs from StartDay of the reference month through EndDay
	// of the following month (or the same month when EndDay >= StartDay).
	//
	// Exactly one configuration is active per user at any time; every
	// period-dependent view must derive its boundaries from the same config
	// and reference month to keep totals consistent.
	CycleConfig struct {
		Kind     CycleKind
		StartDay int // 1-28, custom_days only
		EndDay   int // 1-28, custom_days only
	}
)

var ErrInvalidCycle = errors.New("invalid cycle configuration")

// DefaultCycleConfig is calendar-month billing.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{Kind: CalendarCycle}
}

func (k CycleKind) Valid() bool {
	return k == CalendarCycle || k == CustomDaysCycle
}

func (c CycleConfig) Validate() error {
	switch c.Kind {
	case CalendarCycle:
		return nil
	case CustomDaysCycle:
		// Days past 28 would shift the cycle anchor in short months, so they
		// are rejected up front rather than clamped per month.
		if c.StartDay < 1 || c.StartDay > 28 {
			return fmt.Errorf("%w: start day %d out of range 1-28", ErrInvalidCycle, c.StartDay)
		}
		if c.EndDay < 1 || c.EndDay > 28 {
			return fmt.Errorf("%w: end day %d out of range 1-28", ErrInvalidCycle, c.EndDay)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCycle, c.Kind)
	}
}
