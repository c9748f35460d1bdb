package quota

import (
	"fmt"
	"time"
)

// PeriodLayout is the time layout of a period key.
const PeriodLayout = "2006-01"

// PeriodKey returns the "YYYY-MM" key for t, using t's own location.
// The month is zero-padded and the day is dropped.
func PeriodKey(t time.Time) string {
	return t.Format(PeriodLayout)
}

// ParsePeriod validates a period key and returns the first instant of the
// month in loc.
func ParsePeriod(period string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(PeriodLayout, period, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: expected YYYY-MM", period)
	}
	return t, nil
}

// PeriodEnd returns the first instant of the month after period.
func PeriodEnd(period string, loc *time.Location) (time.Time, error) {
	start, err := ParsePeriod(period, loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, 0), nil
}
