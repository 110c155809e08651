package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClamp_ShortMonths(t *testing.T) {
	assert.Equal(t, date(2026, time.February, 28), Clamp(2026, time.February, 31))
	assert.Equal(t, date(2028, time.February, 29), Clamp(2028, time.February, 31))
	assert.Equal(t, date(2026, time.April, 30), Clamp(2026, time.April, 31))
	assert.Equal(t, date(2026, time.May, 15), Clamp(2026, time.May, 15))
	assert.Equal(t, date(2026, time.May, 1), Clamp(2026, time.May, 0))
}

func TestAddMonths_KeepsAnchorDay(t *testing.T) {
	first := date(2026, time.January, 31)
	assert.Equal(t, date(2026, time.February, 28), AddMonths(first, 1))
	assert.Equal(t, date(2026, time.March, 31), AddMonths(first, 2))
	assert.Equal(t, date(2027, time.January, 31), AddMonths(first, 12))
	assert.Equal(t, date(2025, time.December, 31), AddMonths(first, -1))
	assert.Equal(t, date(2025, time.November, 30), AddMonths(first, -2))
}

func TestCycleDates(t *testing.T) {
	closing, due := CycleDates(2026, time.March, 25, 5)
	assert.Equal(t, date(2026, time.March, 25), closing)
	assert.Equal(t, date(2026, time.April, 5), due)

	closing, due = CycleDates(2026, time.February, 31, 10)
	assert.Equal(t, date(2026, time.February, 28), closing)
	assert.Equal(t, date(2026, time.March, 10), due)

	closing, due = CycleDates(2026, time.June, 3, 13)
	assert.Equal(t, date(2026, time.June, 3), closing)
	assert.Equal(t, date(2026, time.June, 13), due)

	closing, due = CycleDates(2026, time.December, 28, 8)
	assert.Equal(t, date(2026, time.December, 28), closing)
	assert.Equal(t, date(2027, time.January, 8), due)
}

func TestPreviousClosing(t *testing.T) {
	assert.Equal(t, date(2026, time.February, 28), PreviousClosing(2026, time.March, 31))
	assert.Equal(t, date(2025, time.December, 10), PreviousClosing(2026, time.January, 10))
}

func TestNextOnOrAfter(t *testing.T) {
	assert.Equal(t, date(2026, time.October, 20), NextOnOrAfter(date(2026, time.October, 14), 20))
	assert.Equal(t, date(2026, time.November, 5), NextOnOrAfter(date(2026, time.October, 14), 5))
	assert.Equal(t, date(2026, time.October, 14), NextOnOrAfter(time.Date(2026, time.October, 14, 18, 0, 0, 0, time.UTC), 14))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 7, DaysBetween(date(2026, time.October, 1), date(2026, time.October, 8)))
	assert.Equal(t, -1, DaysBetween(date(2026, time.October, 8), date(2026, time.October, 7)))
	assert.Equal(t, 0, DaysBetween(time.Date(2026, time.October, 8, 23, 0, 0, 0, time.UTC), date(2026, time.October, 8)))
}
