package station

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Reporting window for P&L and sales summaries
// =============================================================================

// Period is the half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// DayPeriod returns the calendar day containing date, in loc.
func DayPeriod(date time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Period{Start: start, End: start.AddDate(0, 0, 1)}
}

// MonthPeriod returns the calendar month, in loc.
func MonthPeriod(year int, month time.Month, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Filters selects records whose field falls inside the period.
func (p Period) Filters(field string) []Filter {
	return Between(field, p.Start, p.End)
}

// DayLabel formats the period start as YYYY-MM-DD.
func (p Period) DayLabel() string {
	return p.Start.Format("2006-01-02")
}

// MonthLabel formats the period start as YYYY-MM.
func (p Period) MonthLabel() string {
	return fmt.Sprintf("%04d-%02d", p.Start.Year(), int(p.Start.Month()))
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}
