// Package scheduler runs the maintenance sweep and the backlog processor on
// cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"bloodbank/internal/allocation/queue"
	"bloodbank/internal/maintenance"
)

// Scheduler wires the periodic jobs onto a single cron runner.
type Scheduler struct {
	cron        *cron.Cron
	maintenance *maintenance.Service
	processor   *queue.Processor
	logger      *slog.Logger
}

// New creates the scheduler around the two periodic jobs.
func New(maintenanceSvc *maintenance.Service, processor *queue.Processor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:        cron.New(),
		maintenance: maintenanceSvc,
		processor:   processor,
		logger:      logger,
	}
}

// Start registers the jobs and starts the cron runner. Schedules use the
// standard five field cron syntax.
func (s *Scheduler) Start(sweepSchedule, backlogSchedule string) error {
	if _, err := s.cron.AddFunc(sweepSchedule, s.runDaily); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(backlogSchedule, s.processBacklog); err != nil {
		return err
	}
	s.logger.Info("scheduler started",
		"sweep_schedule", sweepSchedule,
		"backlog_schedule", backlogSchedule)
	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, err := s.maintenance.RunDaily(ctx, time.Now())
	if err != nil {
		s.logger.Error("daily maintenance failed", "error", err)
		return
	}
	for _, passErr := range summary.Errors {
		s.logger.Error("maintenance pass failed", "error", passErr)
	}
}

func (s *Scheduler) processBacklog() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.processor.ProcessBacklog(ctx); err != nil {
		s.logger.Error("backlog processing failed", "error", err)
	}
}
