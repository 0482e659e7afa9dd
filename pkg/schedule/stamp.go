package schedule

import "time"

// Timestamp layouts accepted on the wire. Minute precision is
// canonical, trailing seconds are tolerated on input.
const (
	stampLayout        = "2006-01-02T15:04"
	stampLayoutSeconds = "2006-01-02T15:04:05"
)

// ParseStamp parses a wire timestamp.
func ParseStamp(s string) (time.Time, error) {
	if t, err := time.Parse(stampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(stampLayoutSeconds, s)
}

// FormatStamp renders t in the canonical minute-precision layout.
func FormatStamp(t time.Time) string {
	return t.Format(stampLayout)
}

// MonthWindow returns the span covering one calendar month.
func MonthWindow(year int, month time.Month) Span {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Span{Start: start, End: start.AddDate(0, 1, 0)}
}
