package scheduler

import "fmt"

// Weekday-only cron schedules for the fixed daily job table. Expressions
// use robfig/cron's 6-field (seconds-first) form.
const (
	SchedulePhase1      = "0 0 6 * * MON-FRI"  // 06:00 universe screen
	SchedulePhase2First = "0 0 7 * * MON-FRI"  // 07:00 first Phase-2 batch
	ScheduleMarketOpen  = "0 0 9 * * MON-FRI"  // 09:00 market-open actions
	ScheduleTradingTick = "0 */5 9-15 * * MON-FRI" // every 5 min, 09:00-15:59 (engine itself enforces 15:30 close)
	ScheduleMarketClose = "0 30 15 * * MON-FRI" // 15:30 close housekeeping
	SchedulePerfCloseout = "0 0 16 * * MON-FRI" // 16:00 performance close-out
	ScheduleCacheFlush  = "0 0 0 * * *"         // 00:00 every day, cache flush
)

// BatchInterval is the configured spacing between Phase-2 batches.
const BatchInterval = 5 // minutes

// Phase2BatchSchedule returns the cron expression for batch index i
// (0-based), starting at 07:00 and spaced BatchInterval minutes apart.
// Batch 0 is 07:00, batch 1 is 07:05, etc., matching the 07:00-08:30
// window for the default 18-batch configuration.
func Phase2BatchSchedule(i int) string {
	totalMinutes := i * BatchInterval
	hour := 7 + totalMinutes/60
	minute := totalMinutes % 60
	return fmt.Sprintf("0 %d %d * * MON-FRI", minute, hour)
}

// Phase2BatchOffset returns batch i's scheduled time-of-day offset from
// 07:00, in minutes — used by the Recovery Manager to determine original
// time ordering without re-parsing cron expressions.
func Phase2BatchOffset(i int) int {
	return i * BatchInterval
}
