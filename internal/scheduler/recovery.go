package scheduler

import "time"

// BatchArtifactChecker reports whether batch id's artifact for date is
// present, non-empty, valid JSON and stamped with today's date.
// phase2.ArtifactStore satisfies this by signature.
type BatchArtifactChecker interface {
	Valid(date string, batchID int, now time.Time) bool
}

// DoneState summarizes which non-batch jobs have already completed today,
// as determined by the caller from durable state (the database, not a
// wall-clock guess).
type DoneState struct {
	Phase1Done       bool
	MarketOpenDone   bool
	MarketCloseDone  bool
	PerfCloseoutDone bool
	CacheFlushDone   bool
}

// CatchUpPlan is the deterministic set of jobs the Recovery Manager
// decides must run immediately on process start.
type CatchUpPlan struct {
	RunPhase1          bool
	BatchesToRun       []int // in original time order
	RunMarketOpen      bool
	StartTradingLoop   bool // true if now is within market hours (09:00 to before 15:30)
	RunMarketClose     bool
	RunPerfCloseout    bool
	RunCacheFlush      bool
}

// RecoveryManager computes CatchUpPlan from the wall clock and on-disk
// artifact state. Recovery is deterministic: the same (now, artifacts,
// done) always yields the same plan.
type RecoveryManager struct {
	numBatches int
}

// NewRecoveryManager constructs a manager for a job table with numBatches
// Phase-2 batches.
func NewRecoveryManager(numBatches int) *RecoveryManager {
	return &RecoveryManager{numBatches: numBatches}
}

// Plan computes which jobs scheduled at-or-before now must be caught up,
// given today's artifact state. date is the YYYY-MM-DD the artifacts and
// job table are keyed on.
func (r *RecoveryManager) Plan(now time.Time, date string, done DoneState, batches BatchArtifactChecker) CatchUpPlan {
	plan := CatchUpPlan{}

	minutesNow := now.Hour()*60 + now.Minute()

	if minutesNow >= 6*60 && !done.Phase1Done {
		plan.RunPhase1 = true
	}

	// Batches respect original time order; a batch is caught up once its
	// scheduled time has passed and its artifact is missing or invalid.
	// Phase-2 cannot start until Phase-1 has produced a watchlist, so if
	// Phase-1 itself still needs to run, every batch is queued behind it
	// in dependency order regardless of individual scheduled offsets.
	for i := 0; i < r.numBatches; i++ {
		scheduledMinutes := 7*60 + Phase2BatchOffset(i)
		due := minutesNow >= scheduledMinutes || plan.RunPhase1
		if due && !batches.Valid(date, i, now) {
			plan.BatchesToRun = append(plan.BatchesToRun, i)
		}
	}

	if minutesNow >= 9*60 && !done.MarketOpenDone {
		plan.RunMarketOpen = true
	}

	inMarketHours := minutesNow >= 9*60 && minutesNow < 15*60+30
	if inMarketHours {
		plan.StartTradingLoop = true
	}

	if minutesNow >= 15*60+30 && !done.MarketCloseDone {
		plan.RunMarketClose = true
	}

	if minutesNow >= 16*60 && !done.PerfCloseoutDone {
		plan.RunPerfCloseout = true
	}

	// Midnight flush is idempotent per-day; catch up any time it hasn't run yet today.
	if !done.CacheFlushDone {
		plan.RunCacheFlush = true
	}

	return plan
}
