package market_hours

import "time"

// lunarHolidayTable maps year to that year's lunar-calendar holidays.
// Seollal and Chuseok are each observed as a 3-day span (the day before,
// the day of, and the day after); Buddha's Birthday is a single day.
// Populated from the published KRX holiday calendar for each year; years
// outside the table simply contribute no lunar holidays rather than
// erroring, since a trading day that's wrongly treated as open is caught
// by the broker's own order rejection, not by this package.
var lunarHolidayTable = map[int][]LunarHoliday{
	2024: {
		{Date: date(2024, 2, 9), Name: "Seollal eve"},
		{Date: date(2024, 2, 10), Name: "Seollal"},
		{Date: date(2024, 2, 11), Name: "Seollal holiday"},
		{Date: date(2024, 5, 15), Name: "Buddha's Birthday"},
		{Date: date(2024, 9, 16), Name: "Chuseok eve"},
		{Date: date(2024, 9, 17), Name: "Chuseok"},
		{Date: date(2024, 9, 18), Name: "Chuseok holiday"},
	},
	2025: {
		{Date: date(2025, 1, 28), Name: "Seollal eve"},
		{Date: date(2025, 1, 29), Name: "Seollal"},
		{Date: date(2025, 1, 30), Name: "Seollal holiday"},
		{Date: date(2025, 5, 5), Name: "Buddha's Birthday"},
		{Date: date(2025, 10, 5), Name: "Chuseok eve"},
		{Date: date(2025, 10, 6), Name: "Chuseok"},
		{Date: date(2025, 10, 7), Name: "Chuseok holiday"},
	},
	2026: {
		{Date: date(2026, 2, 16), Name: "Seollal eve"},
		{Date: date(2026, 2, 17), Name: "Seollal"},
		{Date: date(2026, 2, 18), Name: "Seollal holiday"},
		{Date: date(2026, 5, 24), Name: "Buddha's Birthday"},
		{Date: date(2026, 9, 24), Name: "Chuseok eve"},
		{Date: date(2026, 9, 25), Name: "Chuseok"},
		{Date: date(2026, 9, 26), Name: "Chuseok holiday"},
	},
	2027: {
		{Date: date(2027, 2, 6), Name: "Seollal eve"},
		{Date: date(2027, 2, 7), Name: "Seollal"},
		{Date: date(2027, 2, 8), Name: "Seollal holiday"},
		{Date: date(2027, 5, 13), Name: "Buddha's Birthday"},
		{Date: date(2027, 9, 14), Name: "Chuseok eve"},
		{Date: date(2027, 9, 15), Name: "Chuseok"},
		{Date: date(2027, 9, 16), Name: "Chuseok holiday"},
	},
	2028: {
		{Date: date(2028, 1, 26), Name: "Seollal eve"},
		{Date: date(2028, 1, 27), Name: "Seollal"},
		{Date: date(2028, 1, 28), Name: "Seollal holiday"},
		{Date: date(2028, 5, 2), Name: "Buddha's Birthday"},
		{Date: date(2028, 10, 2), Name: "Chuseok eve"},
		{Date: date(2028, 10, 3), Name: "Chuseok"},
		{Date: date(2028, 10, 4), Name: "Chuseok holiday"},
	},
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// lunarHolidaysForYear returns the known lunar-calendar holidays for year,
// or nil if the year isn't in the table.
func lunarHolidaysForYear(year int) []LunarHoliday {
	return lunarHolidayTable[year]
}

// nextSubstituteWeekday implements KRX's daeche-hyuil rule: a holiday
// falling on a weekend is observed on the following Monday (unlike the US
// nearest-weekday convention, Korea always moves forward).
func nextSubstituteWeekday(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}
