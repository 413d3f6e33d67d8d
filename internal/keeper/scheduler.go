/**
 * @description
 * Cron scheduler setup for the keeper's scheduled jobs.
 */
package keeper

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/vaultra/treasury-service/internal/config"
)

// Scheduler manages the keeper's cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.ValueReportCron, s.jobs.ReportRemoteValue); err != nil {
		s.logger.Error("failed to schedule remote value report job", "error", err)
	} else {
		s.logger.Info("scheduled remote value report job", "schedule", s.config.ValueReportCron)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
