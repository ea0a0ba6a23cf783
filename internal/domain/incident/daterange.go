package incident

import (
	"fmt"
	"time"
)

// DateRange is the half-open [Start, End) window a collection run covers.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange validates and builds a collection window.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if !end.After(start) {
		return DateRange{}, fmt.Errorf("date range end %s must be after start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return DateRange{Start: start, End: end}, nil
}

// MonthRange returns the window covering a single calendar month.
func MonthRange(year int, month time.Month) DateRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return DateRange{Start: start, End: start.AddDate(0, 1, 0)}
}

// WidenStart moves the window start earlier by the given number of months,
// used by collectors that need to catch late-disclosed incidents.
func (d DateRange) WidenStart(months int) DateRange {
	return DateRange{Start: d.Start.AddDate(0, -months, 0), End: d.End}
}

// Contains reports whether t falls inside the window.
func (d DateRange) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

func (d DateRange) String() string {
	return fmt.Sprintf("%s..%s", d.Start.Format("2006-01-02"), d.End.Format("2006-01-02"))
}
