// Package scheduler runs an independent cron loop per scheduled job,
// bounded by a shared concurrency limit.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/dbkeeper/dbkeeper/internal/services/dump"
	"github.com/dbkeeper/dbkeeper/internal/services/runner"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is used when no concurrency limit is configured.
const DefaultMaxConcurrent = 2

// Schedule yields future fire times in ascending order. Satisfied by
// cron.Schedule; a zero time means the schedule is exhausted.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseFunc turns a cron expression into a Schedule.
type ParseFunc func(expr string) (Schedule, error)

func parseStandard(expr string) (Schedule, error) {
	return cron.ParseStandard(expr)
}

// Scheduler owns one timing loop per scheduled job. The permit pool is the
// only state shared between loops; everything else is loop-local.
type Scheduler struct {
	runnerSvc     runner.Service
	jobs          []models.Job
	permits       *semaphore.Weighted
	maxConcurrent int
	parse         ParseFunc
	now           func() time.Time
	logger        zerolog.Logger
}

// New creates a scheduler over the given jobs with a global concurrency cap.
func New(logger zerolog.Logger, runnerSvc runner.Service, jobs []models.Job, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Scheduler{
		runnerSvc:     runnerSvc,
		jobs:          jobs,
		permits:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
		parse:         parseStandard,
		now:           time.Now,
		logger:        logger,
	}
}

// NewWithParser creates a scheduler with a custom cron parser (for testing).
func NewWithParser(logger zerolog.Logger, runnerSvc runner.Service, jobs []models.Job, maxConcurrent int, parse ParseFunc) *Scheduler {
	s := New(logger, runnerSvc, jobs, maxConcurrent)
	s.parse = parse
	return s
}

// Start launches one loop per scheduled job and blocks until ctx is
// cancelled and all loops have drained. Jobs without a schedule are
// excluded entirely.
func (s *Scheduler) Start(ctx context.Context) error {
	scheduled := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Schedule != nil && job.Schedule.Cron != "" {
			scheduled = append(scheduled, job)
		}
	}

	if len(scheduled) == 0 {
		s.logger.Warn().Msg("no scheduled backups found in configuration")
		return nil
	}

	s.logger.Info().
		Int("jobs", len(scheduled)).
		Int("max_concurrent", s.maxConcurrent).
		Msg("starting backup scheduler")

	var wg sync.WaitGroup
	for _, job := range scheduled {
		wg.Add(1)
		go func(job models.Job) {
			defer wg.Done()
			s.runLoop(ctx, job)
		}(job)
	}

	wg.Wait()
	return nil
}

// runLoop is one job's state machine: compute next fire time, wait, acquire
// a permit, run, release, repeat. A failure in this loop never touches any
// other job's loop.
func (s *Scheduler) runLoop(ctx context.Context, job models.Job) {
	logger := s.logger.With().Str("job", job.Name).Str("cron", job.Schedule.Cron).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("job loop panicked")
		}
	}()

	schedule, err := s.parse(job.Schedule.Cron)
	if err != nil {
		logger.Error().Err(err).Msg("invalid cron expression, job disabled")
		return
	}

	logger.Info().Msg("job scheduled")

	for {
		now := s.now()
		next := schedule.Next(now)
		if next.IsZero() {
			logger.Error().Msg("schedule yields no future run time, job disabled")
			return
		}

		logger.Info().Time("next_run", next).Msg("waiting for next run")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !s.runOnce(ctx, job, logger) {
			return
		}
	}
}

// runOnce acquires a permit, validates the connection and executes the job.
// Returns false when ctx was cancelled while waiting for a permit.
func (s *Scheduler) runOnce(ctx context.Context, job models.Job, logger zerolog.Logger) bool {
	// Deliberate backpressure: this blocks for as long as the pool is
	// saturated.
	if err := s.permits.Acquire(ctx, 1); err != nil {
		return false
	}
	defer s.permits.Release(1)

	if err := dump.ValidateConnection(job.Connection); err != nil {
		logger.Error().Err(err).Msg("connection validation failed, skipping run")
		return true
	}

	logger.Info().Msg("starting scheduled backup")
	start := s.now()

	location, err := s.runnerSvc.Run(ctx, job)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("scheduled backup failed")
		return true
	}

	logger.Info().
		Str("location", location).
		Dur("duration", time.Since(start)).
		Msg("scheduled backup completed")
	return true
}
