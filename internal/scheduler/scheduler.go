package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cloud-cost-guardian/internal/config"
)

// Jobs holds the callbacks invoked on each cadence.
type Jobs struct {
	Collect      func()
	DailyReport  func()
	WeeklyReport func()
}

// Scheduler manages the cron tasks driving collection and reporting.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// RegisterAll registers the collection, daily report, and weekly report tasks.
func (s *Scheduler) RegisterAll(cfg config.SchedulerConfig, jobs Jobs) error {
	if jobs.Collect != nil && cfg.CollectCron != "" {
		if _, err := s.cron.AddFunc(cfg.CollectCron, jobs.Collect); err != nil {
			return fmt.Errorf("register collect task: %w", err)
		}
	}
	if jobs.DailyReport != nil && cfg.DailyReportCron != "" {
		if _, err := s.cron.AddFunc(cfg.DailyReportCron, jobs.DailyReport); err != nil {
			return fmt.Errorf("register daily report task: %w", err)
		}
	}
	if jobs.WeeklyReport != nil && cfg.WeeklyReportCron != "" {
		if _, err := s.cron.AddFunc(cfg.WeeklyReportCron, jobs.WeeklyReport); err != nil {
			return fmt.Errorf("register weekly report task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("scheduler stopped")
}
