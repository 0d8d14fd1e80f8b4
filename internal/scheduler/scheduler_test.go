package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type countingJob struct {
	calls int32
	err   error
	log   zerolog.Logger
}

func (j *countingJob) Run() error {
	atomic.AddInt32(&j.calls, 1)
	return j.err
}
func (j *countingJob) Name() string { return "counting_job" }
func (j *countingJob) SetLogger(log zerolog.Logger) { j.log = log }

func TestScheduler_RunNowExecutesImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	err := s.RunNow(job)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), job.calls)
}

func TestScheduler_RunNowPropagatesJobError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("boom")}
	err := s.RunNow(job)
	assert.Error(t, err)
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a cron expression", &countingJob{})
	assert.Error(t, err)
}

func TestPhase2BatchSchedule_SpacesFiveMinutesApart(t *testing.T) {
	assert.Equal(t, "0 0 7 * * MON-FRI", Phase2BatchSchedule(0))
	assert.Equal(t, "0 5 7 * * MON-FRI", Phase2BatchSchedule(1))
	assert.Equal(t, "0 0 8 * * MON-FRI", Phase2BatchSchedule(12))
}

type fakeArtifacts struct {
	valid map[int]bool
}

func (f fakeArtifacts) Valid(date string, batchID int, now time.Time) bool {
	return f.valid[batchID]
}

func TestRecoveryManager_ColdStartMidMorningCatchesUpEverything(t *testing.T) {
	rm := NewRecoveryManager(3)
	now := time.Date(2026, 8, 3, 10, 17, 0, 0, time.Local) // Monday
	plan := rm.Plan(now, "2026-08-03", DoneState{}, fakeArtifacts{})
	assert.True(t, plan.RunPhase1)
	assert.ElementsMatch(t, []int{0, 1, 2}, plan.BatchesToRun)
	assert.True(t, plan.RunMarketOpen)
	assert.True(t, plan.StartTradingLoop)
	assert.False(t, plan.RunMarketClose)
	assert.False(t, plan.RunPerfCloseout)
	assert.True(t, plan.RunCacheFlush)
}

func TestRecoveryManager_IntactArtifactsRerunsNothing(t *testing.T) {
	rm := NewRecoveryManager(2)
	now := time.Date(2026, 8, 3, 9, 30, 0, 0, time.Local)
	done := DoneState{Phase1Done: true, MarketOpenDone: true, CacheFlushDone: true}
	plan := rm.Plan(now, "2026-08-03", done, fakeArtifacts{valid: map[int]bool{0: true, 1: true}})
	assert.False(t, plan.RunPhase1)
	assert.Empty(t, plan.BatchesToRun)
	assert.False(t, plan.RunMarketOpen)
	assert.True(t, plan.StartTradingLoop)
	assert.False(t, plan.RunCacheFlush)
}

func TestRecoveryManager_BeforePhase1TimeSchedulesNothing(t *testing.T) {
	rm := NewRecoveryManager(2)
	now := time.Date(2026, 8, 3, 5, 30, 0, 0, time.Local)
	plan := rm.Plan(now, "2026-08-03", DoneState{}, fakeArtifacts{})
	assert.False(t, plan.RunPhase1)
	assert.Empty(t, plan.BatchesToRun)
	assert.False(t, plan.RunMarketOpen)
	assert.False(t, plan.StartTradingLoop)
}

func TestRecoveryManager_InvalidBatchArtifactIsCaughtUp(t *testing.T) {
	rm := NewRecoveryManager(3)
	now := time.Date(2026, 8, 3, 7, 8, 0, 0, time.Local) // batches 0 (07:00) and 1 (07:05) due, batch 2 (07:10) not yet
	done := DoneState{Phase1Done: true}
	plan := rm.Plan(now, "2026-08-03", done, fakeArtifacts{valid: map[int]bool{0: true}})
	assert.Contains(t, plan.BatchesToRun, 1)
	assert.NotContains(t, plan.BatchesToRun, 0)
	assert.NotContains(t, plan.BatchesToRun, 2)
}

func TestRecoveryManager_AfterCloseoutPastSixteenHundred(t *testing.T) {
	rm := NewRecoveryManager(1)
	now := time.Date(2026, 8, 3, 16, 5, 0, 0, time.Local)
	done := DoneState{Phase1Done: true, MarketOpenDone: true}
	plan := rm.Plan(now, "2026-08-03", done, fakeArtifacts{valid: map[int]bool{0: true}})
	assert.True(t, plan.RunMarketClose)
	assert.True(t, plan.RunPerfCloseout)
	assert.False(t, plan.StartTradingLoop)
}
