package loan

import (
	"context"
	"ebook-lending/internal/infrastructure/monitoring"
	"ebook-lending/internal/pkg/apperrors"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	SweepExpiry   = "expiry"
	SweepReminder = "reminder"

	defaultSweepWorkers = 4
)

type SweepOptions struct {
	// Limit caps how many selected loans one run acts on. Zero means no cap.
	Limit   int
	Workers int
}

type SweepReport struct {
	Sweep     string
	Day       time.Time
	Scanned   int
	Selected  int
	Processed int
	Skipped   int
	Failed    int
	Deferred  int
	Duration  time.Duration
}

// DueForExpiry reports whether an active loan ends on day.
func DueForExpiry(l *Loan, day time.Time) bool {
	return l.IsActive() && sameDay(l.EndDate, day)
}

// DueForReminder reports whether an active loan ends the day after day.
func DueForReminder(l *Loan, day time.Time) bool {
	return l.IsActive() && sameDay(l.EndDate, DateOf(day).AddDate(0, 0, 1))
}

type sweepResult int

const (
	resultProcessed sweepResult = iota
	resultSkipped
	resultFailed
)

func (e *engine) ExpireDueLoans(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	return e.sweep(ctx, SweepExpiry, opts, DueForExpiry, e.expireOne)
}

func (e *engine) SendExpiryReminders(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	return e.sweep(ctx, SweepReminder, opts, DueForReminder, e.remindOne)
}

func (e *engine) sweep(
	ctx context.Context,
	name string,
	opts SweepOptions,
	due func(*Loan, time.Time) bool,
	act func(context.Context, *Loan, time.Time) sweepResult,
) (SweepReport, error) {
	startTime := time.Now()
	day := DateOf(e.now())
	report := SweepReport{Sweep: name, Day: day}
	logCtx := e.logger.With(slog.String("sweep", name), slog.Time("day", day))
	logCtx.InfoContext(ctx, "Starting loan sweep")

	candidates, err := e.loans.FindByStatus(ctx, StatusActive)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to scan active loans, aborting sweep", slog.Any("error", err))
		return report, fmt.Errorf("cannot run %s sweep, failed to load active loans: %w", name, err)
	}
	report.Scanned = len(candidates)

	selected := make([]*Loan, 0)
	for _, l := range candidates {
		if due(l, day) {
			selected = append(selected, l)
		}
	}
	report.Selected = len(selected)

	if opts.Limit > 0 && len(selected) > opts.Limit {
		report.Deferred = len(selected) - opts.Limit
		selected = selected[:opts.Limit]
		logCtx.WarnContext(ctx, "Sweep selection exceeds per-run limit, remaining loans deferred",
			slog.Int("limit", opts.Limit), slog.Int("deferred", report.Deferred))
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultSweepWorkers
	}

	var processed, skipped, failed, deferred atomic.Int32
	var g errgroup.Group
	g.SetLimit(workers)

	for _, l := range selected {
		if ctx.Err() != nil {
			deferred.Add(1)
			continue
		}
		g.Go(func() error {
			switch e.runSafely(ctx, name, l, day, act) {
			case resultProcessed:
				processed.Add(1)
			case resultSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Processed = int(processed.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	report.Deferred += int(deferred.Load())
	report.Duration = time.Since(startTime)

	monitoring.RecordSweepLoans(name, "processed", report.Processed)
	monitoring.RecordSweepLoans(name, "skipped", report.Skipped)
	monitoring.RecordSweepLoans(name, "failed", report.Failed)
	monitoring.RecordSweepLoans(name, "deferred", report.Deferred)
	monitoring.RecordSweepDuration(name, report.Duration)

	summaryLog := logCtx.With(
		slog.Duration("duration", report.Duration),
		slog.Int("loans_scanned", report.Scanned),
		slog.Int("loans_selected", report.Selected),
		slog.Int("loans_processed", report.Processed),
		slog.Int("loans_skipped", report.Skipped),
		slog.Int("loans_deferred", report.Deferred),
		slog.Int("errors_encountered", report.Failed),
	)
	if report.Failed > 0 {
		summaryLog.WarnContext(ctx, "Loan sweep finished with errors")
		return report, fmt.Errorf("%s sweep completed with %d errors", name, report.Failed)
	}
	summaryLog.InfoContext(ctx, "Loan sweep finished successfully")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s sweep interrupted: %w", name, err)
	}
	return report, nil
}

func (e *engine) runSafely(
	ctx context.Context,
	name string,
	l *Loan,
	day time.Time,
	act func(context.Context, *Loan, time.Time) sweepResult,
) (result sweepResult) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.ErrorContext(ctx, "Panic while processing loan in sweep",
				slog.String("sweep", name), slog.String("loanID", l.ID.String()), slog.Any("panic", p))
			result = resultFailed
		}
	}()
	return act(ctx, l, day)
}

func (e *engine) expireOne(ctx context.Context, l *Loan, _ time.Time) sweepResult {
	_, err := e.TerminateLoan(ctx, l)
	switch {
	case err == nil:
		return resultProcessed
	case errors.Is(err, apperrors.ErrInvalidState), errors.Is(err, apperrors.ErrNotFound):
		e.logger.DebugContext(ctx, "Loan no longer eligible for expiry", slog.String("loanID", l.ID.String()), slog.Any("error", err))
		return resultSkipped
	default:
		return resultFailed
	}
}

func (e *engine) remindOne(ctx context.Context, l *Loan, day time.Time) sweepResult {
	target := DateOf(day).AddDate(0, 0, 1)
	logCtx := e.logger.With(slog.String("loanID", l.ID.String()), slog.Time("target", target))

	if e.marker != nil {
		claimed, err := e.marker.MarkReminder(ctx, l.ID, target)
		if err != nil {
			logCtx.ErrorContext(ctx, "Failed to claim reminder marker", slog.Any("error", err))
			return resultFailed
		}
		if !claimed {
			logCtx.DebugContext(ctx, "Reminder already sent for this end date")
			return resultSkipped
		}
	}

	if err := e.notify(ctx, l, NoticeReminder); err != nil {
		if e.marker != nil {
			if clearErr := e.marker.ClearReminder(context.WithoutCancel(ctx), l.ID, target); clearErr != nil {
				logCtx.ErrorContext(ctx, "Failed to release reminder marker", slog.Any("error", clearErr))
			}
		}
		return resultFailed
	}
	return resultProcessed
}
