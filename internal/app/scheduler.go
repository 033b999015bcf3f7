/**
 * @description
 * Cron scheduler setup for the monthly billing job.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance. Schedules are evaluated in
// the business timezone.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string, loc *time.Location) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	opts := []cron.Option{cron.WithChain(cron.Recover(cronLogger))}
	if loc != nil {
		opts = append(opts, cron.WithLocation(loc))
	}

	return &Scheduler{
		cron:     cron.New(opts...),
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.GenerateMonthlyBills); err != nil {
		s.logger.Error("failed to schedule monthly billing job", "error", err)
		return err
	}
	s.logger.Info("scheduled monthly billing job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
