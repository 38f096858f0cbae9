/**
 * @description
 * Cron scheduler for the badge reconciliation job.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// BadgeReconciler is the slice of Service the reconcile job needs.
type BadgeReconciler interface {
	ReconcileBadges(ctx context.Context, since time.Time) (int, error)
}

// Jobs contains the logic for scheduled tasks.
type Jobs struct {
	reconciler BadgeReconciler
	lookback   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewJobs creates a job runner. lookback bounds which donors are re-evaluated.
func NewJobs(reconciler BadgeReconciler, lookback time.Duration, logger *slog.Logger) *Jobs {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		reconciler: reconciler,
		lookback:   lookback,
		timeout:    5 * time.Minute,
		logger:     logger,
		now:        time.Now,
	}
}

// ReconcileBadges re-runs the idempotent badge engine for recently active donors.
func (j *Jobs) ReconcileBadges() {
	j.logger.Info("starting badge reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	since := j.now().Add(-j.lookback)
	granted, err := j.reconciler.ReconcileBadges(ctx, since)
	if err != nil {
		j.logger.Error("badge reconciliation failed", "error", err, "granted", granted)
		return
	}
	j.logger.Info("badge reconciliation finished", "granted", granted, "since", since)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ReconcileBadges); err != nil {
		s.logger.Error("failed to schedule badge reconciliation job", "error", err, "schedule", s.schedule)
		return err
	}
	s.logger.Info("scheduled badge reconciliation job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
