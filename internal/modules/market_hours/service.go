// Package market_hours answers whether KRX is open for trading at a given
// instant, accounting for weekends, fixed-date national holidays, the
// lunar-calendar holidays (Seollal, Buddha's Birthday, Chuseok), and the
// year-end half day. The Trading Engine and Scheduler both consult it
// before opening positions or starting the intraday trading loop.
package market_hours

import (
	"fmt"
	"time"
)

// Service answers market-open queries for KRX.
type Service struct {
	holidayCache map[int][]time.Time
}

// NewService constructs a Service.
func NewService() *Service {
	return &Service{holidayCache: make(map[int][]time.Time)}
}

// IsOpen reports whether KRX is in its regular trading session at t.
func (s *Service) IsOpen(t time.Time) bool {
	marketTime := t.In(krxConfig.Timezone)
	marketDate := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(), 0, 0, 0, 0, krxConfig.Timezone)

	if marketTime.Weekday() == time.Saturday || marketTime.Weekday() == time.Sunday {
		return false
	}
	if s.isHoliday(marketDate) {
		return false
	}

	openTime := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
		krxConfig.TradingHours.OpenHour, krxConfig.TradingHours.OpenMinute, 0, 0, krxConfig.Timezone)
	closeTime := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
		krxConfig.TradingHours.CloseHour, krxConfig.TradingHours.CloseMinute, 0, 0, krxConfig.Timezone)

	for _, rule := range krxConfig.EarlyCloseRules {
		if rule.DatePattern != nil && rule.DatePattern(marketTime) {
			closeTime = time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
				rule.CloseHour, rule.CloseMinute, 0, 0, krxConfig.Timezone)
			break
		}
	}

	if marketTime.Before(openTime) || !marketTime.Before(closeTime) {
		return false
	}
	return true
}

// isHoliday checks if date (already normalized to midnight, market tz) is
// a non-trading day.
func (s *Service) isHoliday(date time.Time) bool {
	year := date.Year()
	holidays := s.getHolidaysForYear(year)
	dateStr := date.Format("2006-01-02")
	for _, h := range holidays {
		if h.Format("2006-01-02") == dateStr {
			return true
		}
	}
	return false
}

func (s *Service) getHolidaysForYear(year int) []time.Time {
	if holidays, ok := s.holidayCache[year]; ok {
		return holidays
	}

	holidays := make([]time.Time, 0, 16)
	for _, h := range krxConfig.HolidayRules.FixedDateHolidays {
		d := time.Date(year, time.Month(h.Month), h.Day, 0, 0, 0, 0, krxConfig.Timezone)
		if h.Substitute {
			d = nextSubstituteWeekday(d)
		}
		holidays = append(holidays, d)
	}
	for _, h := range lunarHolidaysForYear(year) {
		holidays = append(holidays, time.Date(h.Date.Year(), h.Date.Month(), h.Date.Day(), 0, 0, 0, 0, krxConfig.Timezone))
	}

	s.holidayCache[year] = holidays
	return holidays
}

// Status reports whether KRX is open at t and, if closed, when it next opens.
func (s *Service) Status(t time.Time) (*MarketStatus, error) {
	marketTime := t.In(krxConfig.Timezone)
	isOpen := s.IsOpen(t)

	status := &MarketStatus{Open: isOpen, Exchange: krxConfig.Code, Timezone: krxConfig.Timezone.String()}
	if isOpen {
		closeTime := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
			krxConfig.TradingHours.CloseHour, krxConfig.TradingHours.CloseMinute, 0, 0, krxConfig.Timezone)
		for _, rule := range krxConfig.EarlyCloseRules {
			if rule.DatePattern != nil && rule.DatePattern(marketTime) {
				closeTime = time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
					rule.CloseHour, rule.CloseMinute, 0, 0, krxConfig.Timezone)
				break
			}
		}
		status.ClosesAt = closeTime.Format("15:04")
		return status, nil
	}

	nextOpen := s.findNextTradingSession(marketTime)
	if nextOpen != nil {
		status.OpensAt = nextOpen.Format("15:04")
		if nextOpen.Day() != marketTime.Day() {
			status.OpensDate = nextOpen.Format("2006-01-02")
		}
	}
	return status, nil
}

func (s *Service) findNextTradingSession(currentTime time.Time) *time.Time {
	for i := 0; i < 10; i++ {
		checkTime := currentTime.AddDate(0, 0, i)
		if checkTime.Weekday() == time.Saturday || checkTime.Weekday() == time.Sunday {
			continue
		}
		marketDate := time.Date(checkTime.Year(), checkTime.Month(), checkTime.Day(), 0, 0, 0, 0, krxConfig.Timezone)
		if s.isHoliday(marketDate) {
			continue
		}
		openTime := time.Date(checkTime.Year(), checkTime.Month(), checkTime.Day(),
			krxConfig.TradingHours.OpenHour, krxConfig.TradingHours.OpenMinute, 0, 0, krxConfig.Timezone)
		if i == 0 && !checkTime.Before(openTime) {
			continue
		}
		return &openTime
	}
	return nil
}

// ShouldCheckMarketHours mirrors the broker's own order-acceptance policy:
// sells are checked unconditionally (closing out must never stall on a
// stale open-position read), buys are gated since a rejected buy simply
// doesn't enter.
func (s *Service) ShouldCheckMarketHours(side string) bool {
	return side == "SELL" || side == "BUY"
}

// ErrMarketClosed is returned by callers that refuse an action outside
// trading hours; kept here so engine code doesn't need to format its own
// message for this common case.
func ErrMarketClosed(t time.Time) error {
	return fmt.Errorf("market_hours: KRX closed at %s", t.In(krxConfig.Timezone).Format(time.RFC3339))
}
