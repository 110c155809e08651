// Package calendar does the day-of-month arithmetic of billing cycles. Every
// day marker is clamped to the last valid day of its target month.
package calendar

import "time"

// DaysIn returns the number of days of month in year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Clamp builds the UTC date year-month-day, lowering day to the last day of
// the month when the month is shorter.
func Clamp(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts date by n months keeping its day of month, clamped.
// Jan 31 + 1 month is Feb 28 (or 29), + 2 months is Mar 31.
func AddMonths(date time.Time, n int) time.Time {
	y, m, d := date.Date()
	total := int(m) - 1 + n
	year := y + floorDiv(total, 12)
	month := time.Month(floorMod(total, 12) + 1)
	return Clamp(year, month, d)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CycleDates returns the closing and due dates of the billing cycle for
// month/year. The due date lands in the same month when it falls after the
// closing date, otherwise in the following month.
func CycleDates(year int, month time.Month, closingDay, dueDay int) (closing, due time.Time) {
	closing = Clamp(year, month, closingDay)
	due = Clamp(year, month, dueDay)
	if !due.After(closing) {
		next := AddMonths(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), 1)
		due = Clamp(next.Year(), next.Month(), dueDay)
	}
	return closing, due
}

// PreviousClosing returns the closing date of the cycle before month/year.
func PreviousClosing(year int, month time.Month, closingDay int) time.Time {
	prev := AddMonths(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), -1)
	return Clamp(prev.Year(), prev.Month(), closingDay)
}

// NextOnOrAfter returns the first date on or after from whose day of month
// is day (clamped per month).
func NextOnOrAfter(from time.Time, day int) time.Time {
	from = DateOnly(from)
	candidate := Clamp(from.Year(), from.Month(), day)
	if candidate.Before(from) {
		next := AddMonths(time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC), 1)
		candidate = Clamp(next.Year(), next.Month(), day)
	}
	return candidate
}

// DaysBetween counts whole calendar days from a to b; negative when b is
// before a.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
