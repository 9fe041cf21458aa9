package docsync

import (
	"context"
	"time"
)

// SchedulerIdentity is recorded as the trigger of scheduled backups.
const SchedulerIdentity = "scheduler"

// Scheduler triggers auto backups on a fixed interval while the feature is
// enabled. A tick is skipped when a job is still in flight.
type Scheduler struct {
	manager  *JobManager
	interval time.Duration
	logger   Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(manager *JobManager, interval time.Duration, logger Logger) *Scheduler {
	return &Scheduler{manager: manager, interval: interval, logger: logger}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auto backup scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto backup scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts one auto backup if settings allow it. It returns the job, or
// nil when nothing was started.
func (s *Scheduler) Tick(ctx context.Context) *BackupJob {
	settings, err := s.manager.Settings(ctx)
	if err != nil {
		s.logger.Error("scheduler could not load settings", "error", err)
		return nil
	}
	if settings.Validate() != nil {
		return nil
	}
	if n := s.manager.InFlight(); n > 0 {
		s.logger.Debug("skipping scheduled backup, jobs in flight", "in_flight", n)
		return nil
	}

	job, err := s.manager.StartBackup(ctx, JobAuto, SchedulerIdentity)
	if err != nil {
		s.logger.Error("scheduler could not start backup", "error", err)
		return nil
	}
	return job
}
