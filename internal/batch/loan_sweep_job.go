package batch

import (
	"context"
	"ebook-lending/internal/domain/loan"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper is the part of the loan engine the nightly job drives.
type Sweeper interface {
	ExpireDueLoans(ctx context.Context, opts loan.SweepOptions) (loan.SweepReport, error)

	SendExpiryReminders(ctx context.Context, opts loan.SweepOptions) (loan.SweepReport, error)
}

type LoanSweepJob struct {
	sweeper Sweeper
	opts    loan.SweepOptions
	logger  *slog.Logger
}

func NewLoanSweepJob(sweeper Sweeper, opts loan.SweepOptions, logger *slog.Logger) *LoanSweepJob {
	if sweeper == nil || logger == nil {
		panic("LoanSweepJob dependencies cannot be nil")
	}
	return &LoanSweepJob{
		sweeper: sweeper,
		opts:    opts,
		logger:  logger.With("job", "LoanSweep"),
	}
}

// Run expires today's loans first so a loan is never reminded and expired in one pass.
func (j *LoanSweepJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting daily loan sweep job.",
		slog.Int("limit", j.opts.Limit), slog.Int("workers", j.opts.Workers))

	expiry, expiryErr := j.sweeper.ExpireDueLoans(ctx, j.opts)
	if expiryErr != nil {
		j.logger.ErrorContext(ctx, "Expiry sweep reported errors", slog.Any("error", expiryErr))
	}

	var reminder loan.SweepReport
	var reminderErr error
	if ctx.Err() != nil {
		reminderErr = fmt.Errorf("reminder sweep skipped: %w", ctx.Err())
	} else {
		reminder, reminderErr = j.sweeper.SendExpiryReminders(ctx, j.opts)
	}
	if reminderErr != nil {
		j.logger.ErrorContext(ctx, "Reminder sweep reported errors", slog.Any("error", reminderErr))
	}

	summaryLog := j.logger.With(
		slog.Duration("duration", time.Since(startTime)),
		slog.Int("loans_expired", expiry.Processed),
		slog.Int("expiry_skipped", expiry.Skipped),
		slog.Int("expiry_failed", expiry.Failed),
		slog.Int("expiry_deferred", expiry.Deferred),
		slog.Int("reminders_sent", reminder.Processed),
		slog.Int("reminders_skipped", reminder.Skipped),
		slog.Int("reminders_failed", reminder.Failed),
		slog.Int("reminders_deferred", reminder.Deferred),
	)

	if err := errors.Join(expiryErr, reminderErr); err != nil {
		summaryLog.WarnContext(ctx, "Loan sweep job finished with errors.")
		return err
	}
	summaryLog.InfoContext(ctx, "Loan sweep job finished successfully.")
	return nil
}
