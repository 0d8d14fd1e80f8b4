package market_hours

import "time"

const krxCode = "XKRX"

// krxConfig is the single exchange this service knows about: the Korea
// Exchange (KOSPI/KOSDAQ share the same session calendar). Regular
// session only; KRX dropped its lunch break in 2000.
var krxConfig = ExchangeConfig{
	Code: krxCode,
	Name: "Korea Exchange",
	TradingHours: TradingHours{
		OpenHour:    9,
		OpenMinute:  0,
		CloseHour:   15,
		CloseMinute: 30,
	},
	Timezone: mustLoadLocation("Asia/Seoul"),
	EarlyCloseRules: []EarlyCloseRule{
		{
			Name:        "Year-end half day",
			CloseHour:   14,
			CloseMinute: 0,
			DatePattern: func(t time.Time) bool {
				return t.Month() == 12 && t.Day() == 30
			},
		},
	},
	HolidayRules: HolidayRuleSet{
		FixedDateHolidays: []FixedDateHoliday{
			{Month: 1, Day: 1, Name: "New Year's Day", Substitute: false},
			{Month: 3, Day: 1, Name: "Independence Movement Day", Substitute: true},
			{Month: 5, Day: 5, Name: "Children's Day", Substitute: true},
			{Month: 6, Day: 6, Name: "Memorial Day", Substitute: false},
			{Month: 8, Day: 15, Name: "Liberation Day", Substitute: true},
			{Month: 10, Day: 3, Name: "National Foundation Day", Substitute: true},
			{Month: 10, Day: 9, Name: "Hangul Day", Substitute: true},
			{Month: 12, Day: 25, Name: "Christmas", Substitute: false},
			{Month: 12, Day: 31, Name: "Year-end closure", Substitute: false},
		},
	},
}

// mustLoadLocation loads a timezone location, panicking if it fails.
func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("failed to load timezone: " + name + ": " + err.Error())
	}
	return loc
}
