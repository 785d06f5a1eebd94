// Package timeutil provides calendar helpers for the academies' local time
// (America/Sao_Paulo). Time-in-belt is counted in calendar months, so these
// helpers work on dates, not durations.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// SaoPauloTZ is the academies' timezone. Brazil dropped DST in 2019, so a
// fixed UTC-3 zone is used when the tz database is unavailable.
var SaoPauloTZ = loadZone("America/Sao_Paulo", -3*60*60)

func loadZone(name string, offset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offset)
	}
	return loc
}

// Now returns the current time in the academies' timezone.
func Now() time.Time {
	return time.Now().In(SaoPauloTZ)
}

// ToLocal converts a time to the academies' timezone.
func ToLocal(t time.Time) time.Time {
	return t.In(SaoPauloTZ)
}

// Date creates a local midnight time with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, SaoPauloTZ)
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	t = t.In(SaoPauloTZ)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, SaoPauloTZ)
}

// StartOfMonth returns the first local midnight of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.In(SaoPauloTZ)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, SaoPauloTZ)
}

// MonthsBetween counts whole calendar months from start to end: the month
// difference, minus one when end's day of month is before start's.
// Never negative.
//
//	MonthsBetween(2024-01-31, 2024-02-29) == 0
//	MonthsBetween(2024-01-15, 2025-01-15) == 12
func MonthsBetween(start, end time.Time) int {
	start = start.In(SaoPauloTZ)
	end = end.In(SaoPauloTZ)

	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// AddMonths returns the date n calendar months after t, clamped to the last
// day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	t = t.In(SaoPauloTZ)
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), SaoPauloTZ)
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// DaysBetween calculates the number of calendar days between two times.
func DaysBetween(t1, t2 time.Time) int {
	d1 := StartOfDay(t1)
	d2 := StartOfDay(t2)
	if d2.Before(d1) {
		d1, d2 = d2, d1
	}
	days := 0
	for d := d1; d.Before(d2); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// Common date formats.
const (
	DateFormat          = "2006-01-02"
	DateTimeFormat      = "2006-01-02 15:04"
	BrazilianDateFormat = "02/01/2006"
)

// FormatDateStr formats a time as YYYY-MM-DD in local time.
func FormatDateStr(t time.Time) string {
	return t.In(SaoPauloTZ).Format(DateFormat)
}

// FormatBrazilian formats a time as DD/MM/YYYY in local time.
func FormatBrazilian(t time.Time) string {
	return t.In(SaoPauloTZ).Format(BrazilianDateFormat)
}

// ParseDate parses YYYY-MM-DD as local midnight.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateFormat, value, SaoPauloTZ)
}
