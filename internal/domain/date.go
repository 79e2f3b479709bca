package domain

import "time"

// DateLayout is the on-disk and wire format of calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date, expressed as midnight UTC.
// The calendar date is taken in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the calendar date n days after t.
func AddDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}

// FormatDate renders the calendar date of t.
func FormatDate(t time.Time) string {
	return Day(t).Format(DateLayout)
}

// ParseDate parses a date written by FormatDate.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// TimestampLayout is the on-disk format of instants, always written in UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t in UTC with second precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a timestamp written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}
