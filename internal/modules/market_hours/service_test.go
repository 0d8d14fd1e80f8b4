package market_hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func seoul(year int, month time.Month, day, hour, minute int) time.Time {
	loc := mustLoadLocation("Asia/Seoul")
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func TestIsOpen_RegularSession(t *testing.T) {
	s := NewService()

	// Tuesday 2024-01-16 is a plain trading day.
	assert.True(t, s.IsOpen(seoul(2024, 1, 16, 10, 0)))
	assert.False(t, s.IsOpen(seoul(2024, 1, 16, 8, 59)))
	assert.False(t, s.IsOpen(seoul(2024, 1, 16, 15, 30)))
	assert.True(t, s.IsOpen(seoul(2024, 1, 16, 15, 29)))
}

func TestIsOpen_Weekend(t *testing.T) {
	s := NewService()
	assert.False(t, s.IsOpen(seoul(2024, 1, 20, 10, 0))) // Saturday
	assert.False(t, s.IsOpen(seoul(2024, 1, 21, 10, 0))) // Sunday
}

func TestIsOpen_FixedHoliday(t *testing.T) {
	s := NewService()
	assert.False(t, s.IsOpen(seoul(2024, 1, 1, 10, 0)))  // New Year's Day
	assert.False(t, s.IsOpen(seoul(2024, 12, 25, 10, 0))) // Christmas
}

func TestIsOpen_SubstituteHolidayMovesToMonday(t *testing.T) {
	s := NewService()
	// Children's Day (May 5) falls on a Sunday in 2024; observed Monday May 6.
	assert.Equal(t, time.Sunday, time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC).Weekday())
	assert.False(t, s.IsOpen(seoul(2024, 5, 6, 10, 0)))
}

func TestIsOpen_LunarHoliday(t *testing.T) {
	s := NewService()
	assert.False(t, s.IsOpen(seoul(2024, 2, 10, 10, 0))) // Seollal 2024
	assert.False(t, s.IsOpen(seoul(2024, 9, 17, 10, 0))) // Chuseok 2024
	assert.True(t, s.IsOpen(seoul(2024, 2, 8, 10, 0)))   // day before Seollal eve
}

func TestIsOpen_YearEndHalfDay(t *testing.T) {
	s := NewService()
	assert.True(t, s.IsOpen(seoul(2024, 12, 30, 13, 30)))
	assert.False(t, s.IsOpen(seoul(2024, 12, 30, 14, 0)))
}

func TestStatus_ReportsClosesAt(t *testing.T) {
	s := NewService()
	status, err := s.Status(seoul(2024, 1, 16, 10, 0))
	assert.NoError(t, err)
	assert.True(t, status.Open)
	assert.Equal(t, "15:30", status.ClosesAt)
}

func TestStatus_ReportsNextOpenAfterWeekend(t *testing.T) {
	s := NewService()
	status, err := s.Status(seoul(2024, 1, 20, 10, 0)) // Saturday
	assert.NoError(t, err)
	assert.False(t, status.Open)
	assert.Equal(t, "09:00", status.OpensAt)
	assert.Equal(t, "2024-01-22", status.OpensDate)
}

func TestShouldCheckMarketHours(t *testing.T) {
	s := NewService()
	assert.True(t, s.ShouldCheckMarketHours("SELL"))
	assert.True(t, s.ShouldCheckMarketHours("BUY"))
}
