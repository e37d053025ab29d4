package batch

import (
	"context"
	"ebook-lending/internal/config"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultSweepSchedule = "0 0 * * *"
	defaultSweepTimeout  = time.Hour
)

type Job interface {
	Run(ctx context.Context) error
}

type Scheduler struct {
	cron     *cron.Cron
	schedule string
	entryID  cron.EntryID
	logger   *slog.Logger
}

// NewScheduler registers job on the configured cron spec. A tick that fires
// while the previous run is still going is skipped.
func NewScheduler(cfg config.BatchConfig, job Job, logger *slog.Logger) (*Scheduler, error) {
	if job == nil || logger == nil {
		panic("Scheduler dependencies cannot be nil")
	}
	logger = logger.With("component", "Scheduler")

	scheduleSpec := cfg.SweepSchedule
	if scheduleSpec == "" {
		scheduleSpec = defaultSweepSchedule
		logger.Warn("Loan sweep schedule not configured, using default", "schedule", scheduleSpec)
	}
	jobTimeout := cfg.SweepTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultSweepTimeout
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	entryID, err := c.AddJob(scheduleSpec, cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "LoanSweep")
		jobLogger.Info("Cron triggered: Running loan sweep job.")

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if runErr := job.Run(ctx); runErr != nil {
			jobLogger.Error("Loan sweep job finished with error", slog.Any("error", runErr))
		} else {
			jobLogger.Info("Loan sweep job finished successfully.")
		}
	}))
	if err != nil {
		logger.Error("Failed to schedule loan sweep job", "schedule", scheduleSpec, slog.Any("error", err))
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", scheduleSpec, err)
	}
	logger.Info("Scheduled loan sweep job", "schedule", scheduleSpec, "job_id", entryID)

	return &Scheduler{cron: c, schedule: scheduleSpec, entryID: entryID, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started.")
}

// NextRun reports when the sweep fires next; zero before Start.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Stop prevents new runs and waits up to timeout for a running sweep to finish.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.logger.Info("Stopping cron scheduler...")
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
		s.logger.Info("Cron scheduler stopped gracefully.")
		return true
	case <-time.After(timeout):
		s.logger.Warn("Cron scheduler shutdown timed out.")
		return false
	}
}
