// Package scheduler drives the daily job table (Phase 1 pre-market, Phase-2
// batches, the trading-hours tick, end-of-day close-out, and the midnight
// cache flush) and the Recovery Manager that determines, on process start,
// which of today's jobs still need to run.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named, runnable unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// LoggerAware jobs accept an injected logger, mirroring the pattern
// every job struct in the source pack implements.
type LoggerAware interface {
	SetLogger(log zerolog.Logger)
}

// Scheduler wraps a cron.Cron with structured logging around every run.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New constructs a Scheduler. Weekday-only jobs are expressed in their own
// cron expressions (MON-FRI); the scheduler itself imposes no day filter.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins dispatching registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop blocks until all in-flight job runs complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job against a standard 6-field (with seconds) cron
// expression. Example: "0 0 6 * * MON-FRI" for 06:00 weekdays.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if aware, ok := job.(LoggerAware); ok {
		aware.SetLogger(s.log)
	}
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its cron schedule — used by the
// Recovery Manager to catch up missed runs.
func (s *Scheduler) RunNow(job Job) error {
	if aware, ok := job.(LoggerAware); ok {
		aware.SetLogger(s.log)
	}
	s.log.Info().Str("job", job.Name()).Msg("running job immediately (catch-up)")
	return job.Run()
}
