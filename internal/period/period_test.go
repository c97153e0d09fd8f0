package period

import (
	"testing"
	"time"

	"bilancio/internal/core"
)

func TestBoundariesCalendar(t *testing.T) {
	cfg := core.CycleConfig{Kind: core.CalendarCycle}

	tests := []struct {
		name    string
		year    int
		month   time.Month
		lastDay int
	}{
		{"january", 2024, time.January, 31},
		{"february leap year", 2024, time.February, 29},
		{"february non-leap", 2023, time.February, 28},
		{"february century non-leap", 1900, time.February, 28},
		{"february 400-year leap", 2000, time.February, 29},
		{"april", 2024, time.April, 30},
		{"december", 2024, time.December, 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Boundaries(tt.year, tt.month, cfg)
			if err != nil {
				t.Fatalf("Boundaries() error = %v", err)
			}
			wantStart := time.Date(tt.year, tt.month, 1, 0, 0, 0, 0, time.UTC)
			if !r.Start.Equal(wantStart) {
				t.Errorf("Start = %v, want %v", r.Start, wantStart)
			}
			if r.End.Day() != tt.lastDay {
				t.Errorf("End day = %d, want %d", r.End.Day(), tt.lastDay)
			}
			if r.End.Hour() != 23 || r.End.Minute() != 59 || r.End.Second() != 59 {
				t.Errorf("End not at last instant of day: %v", r.End)
			}
			if r.End.Month() != tt.month {
				t.Errorf("End month = %v, want %v", r.End.Month(), tt.month)
			}
		})
	}
}

func TestBoundariesAllMonths(t *testing.T) {
	cfg := core.CycleConfig{Kind: core.CalendarCycle}
	for _, year := range []int{2023, 2024} {
		for m := time.January; m <= time.December; m++ {
			r, err := Boundaries(year, m, cfg)
			if err != nil {
				t.Fatalf("Boundaries(%d, %v) error = %v", year, m, err)
			}
			// the instant after End must be the first of the next month
			next := r.End.Add(time.Nanosecond)
			if next.Day() != 1 {
				t.Errorf("%d %v: end %v does not abut next month", year, m, r.End)
			}
		}
	}
}

func TestBoundariesCustomDays(t *testing.T) {
	cfg := core.CycleConfig{Kind: core.CustomDaysCycle, StartDay: 15, EndDay: 14}

	r, err := Boundaries(2024, time.March, cfg)
	if err != nil {
		t.Fatalf("Boundaries() error = %v", err)
	}
	if r.Start.Day() != 15 || r.Start.Month() != time.March {
		t.Errorf("Start = %v, want Mar 15", r.Start)
	}
	if r.End.Day() != 14 || r.End.Month() != time.April {
		t.Errorf("End = %v, want Apr 14", r.End)
	}

	// December cycle crosses the year boundary
	r, err = Boundaries(2024, time.December, cfg)
	if err != nil {
		t.Fatalf("Boundaries() error = %v", err)
	}
	if r.End.Year() != 2025 || r.End.Month() != time.January || r.End.Day() != 14 {
		t.Errorf("End = %v, want Jan 14 2025", r.End)
	}
}

func TestBoundariesInvalidConfig(t *testing.T) {
	_, err := Boundaries(2024, time.March, core.CycleConfig{Kind: "weekly"})
	if err == nil {
		t.Error("expected error for unknown cycle kind")
	}
	_, err = Boundaries(2024, time.March, core.CycleConfig{Kind: core.CustomDaysCycle, StartDay: 31, EndDay: 30})
	if err == nil {
		t.Error("expected error for out-of-range custom day")
	}
}

func TestRangeComplete(t *testing.T) {
	cfg := core.CycleConfig{Kind: core.CalendarCycle}
	r, _ := Boundaries(2024, time.March, cfg)

	if !r.Complete(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("March should be complete on April 1")
	}
	if r.Complete(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)) {
		t.Error("March should not be complete mid-March")
	}
	// the final instant of the cycle is still in progress
	if r.Complete(r.End) {
		t.Error("cycle should not be complete at its own end instant")
	}
}

func TestRangeLabel(t *testing.T) {
	calendar, _ := Boundaries(2024, time.March, core.CycleConfig{Kind: core.CalendarCycle})
	if got := calendar.Label(); got != "March 2024" {
		t.Errorf("Label() = %q, want %q", got, "March 2024")
	}

	custom, _ := Boundaries(2024, time.March, core.CycleConfig{Kind: core.CustomDaysCycle, StartDay: 15, EndDay: 14})
	want := "Mar 15 2024 – Apr 14 2024"
	if got := custom.Label(); got != want {
		t.Errorf("Label() = %q, want %q", got, want)
	}

	// formatting is idempotent
	if custom.Label() != custom.Label() {
		t.Error("Label() not stable across calls")
	}
}

func TestClampDay(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		day   int
		want  int
	}{
		{2024, time.April, 31, 30},
		{2024, time.February, 31, 29},
		{2023, time.February, 31, 28},
		{2024, time.March, 31, 31},
		{2024, time.March, 5, 5},
	}
	for _, tt := range tests {
		if got := ClampDay(tt.year, tt.month, tt.day); got != tt.want {
			t.Errorf("ClampDay(%d, %v, %d) = %d, want %d", tt.year, tt.month, tt.day, got, tt.want)
		}
	}
}

func TestCursorChangeMonth(t *testing.T) {
	tests := []struct {
		name  string
		start Cursor
		delta int
		want  Cursor
	}{
		{"forward", Cursor{2024, time.March, 10}, 1, Cursor{2024, time.April, 1}},
		{"backward", Cursor{2024, time.March, 10}, -1, Cursor{2024, time.February, 1}},
		{"year rollover forward", Cursor{2024, time.December, 5}, 1, Cursor{2025, time.January, 1}},
		{"year rollover backward", Cursor{2024, time.January, 5}, -1, Cursor{2023, time.December, 1}},
		{"multi-month", Cursor{2024, time.November, 5}, 3, Cursor{2025, time.February, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.start.ChangeMonth(tt.delta); got != tt.want {
				t.Errorf("ChangeMonth(%d) = %+v, want %+v", tt.delta, got, tt.want)
			}
		})
	}
}

func TestCursorChangeDay(t *testing.T) {
	tests := []struct {
		name  string
		start Cursor
		delta int
		want  Cursor
	}{
		{"forward", Cursor{2024, time.March, 10}, 1, Cursor{2024, time.March, 11}},
		{"month cascade", Cursor{2024, time.March, 31}, 1, Cursor{2024, time.April, 1}},
		{"day zero of january", Cursor{2024, time.January, 1}, -1, Cursor{2023, time.December, 31}},
		{"leap day", Cursor{2024, time.February, 28}, 1, Cursor{2024, time.February, 29}},
		{"non-leap skip", Cursor{2023, time.February, 28}, 1, Cursor{2023, time.March, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.start.ChangeDay(tt.delta); got != tt.want {
				t.Errorf("ChangeDay(%d) = %+v, want %+v", tt.delta, got, tt.want)
			}
		})
	}
}
