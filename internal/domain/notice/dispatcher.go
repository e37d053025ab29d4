package notice

import (
	"context"
	"ebook-lending/internal/domain/account"
	"ebook-lending/internal/domain/catalog"
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/event"
	"ebook-lending/internal/infrastructure/monitoring"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	statusSent          = "sent"
	statusFailed        = "failed"
	statusPublishFailed = "publish_failed"
)

// Dispatcher renders loan notices, records them and hands them to the mail relay.
type Dispatcher struct {
	notices   Repository
	accounts  account.Repository
	ebooks    catalog.Repository
	publisher event.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

var _ loan.Notifier = (*Dispatcher)(nil)

// NewDispatcher builds a Dispatcher. publisher may be nil, in which case notices are only stored.
func NewDispatcher(notices Repository, accounts account.Repository, ebooks catalog.Repository, publisher event.EventPublisher, logger *slog.Logger) *Dispatcher {
	if notices == nil || accounts == nil || ebooks == nil || logger == nil {
		panic("Dispatcher dependencies cannot be nil")
	}
	return &Dispatcher{
		notices:   notices,
		accounts:  accounts,
		ebooks:    ebooks,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("component", "NoticeDispatcher"),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, l *loan.Loan, kind loan.NoticeKind) error {
	logCtx := d.logger.With(slog.String("loanID", l.ID.String()), slog.String("kind", string(kind)))

	n, err := d.build(ctx, l, kind)
	if err != nil {
		monitoring.RecordNotice(string(kind), statusFailed)
		logCtx.ErrorContext(ctx, "Failed to build loan notice", slog.Any("error", err))
		return err
	}

	if err := d.notices.Save(ctx, n); err != nil {
		monitoring.RecordNotice(string(kind), statusFailed)
		logCtx.ErrorContext(ctx, "Failed to store loan notice", slog.Any("error", err))
		return fmt.Errorf("failed to store %s notice for loan %s: %w", kind, l.ID, err)
	}

	if d.publisher != nil {
		if err := d.publisher.PublishLoanNotice(ctx, toEvent(n)); err != nil {
			// Already recorded, publishing is best effort.
			monitoring.RecordNotice(string(kind), statusPublishFailed)
			logCtx.WarnContext(ctx, "Failed to publish loan notice", slog.Any("error", err))
			return nil
		}
	}

	monitoring.RecordNotice(string(kind), statusSent)
	logCtx.InfoContext(ctx, "Loan notice dispatched", slog.String("noticeID", n.ID.String()), slog.String("recipient", n.Recipient))
	return nil
}

func (d *Dispatcher) build(ctx context.Context, l *loan.Loan, kind loan.NoticeKind) (*Notice, error) {
	acc, err := d.accounts.FindByID(ctx, l.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s for notice: %w", l.AccountID, err)
	}
	book, err := d.ebooks.FindByID(ctx, l.EbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ebook %s for notice: %w", l.EbookID, err)
	}

	content, err := Render(kind, acc.Name, book.Title, book.MaxLoanDuration)
	if err != nil {
		return nil, err
	}

	return &Notice{
		ID:         uuid.New(),
		LoanID:     l.ID,
		AccountID:  acc.ID,
		Recipient:  acc.Email,
		Kind:       kind,
		Subject:    content.Subject,
		Body:       content.Body,
		TargetDate: loan.DateOf(l.EndDate),
		SentAt:     d.now(),
	}, nil
}

func (d *Dispatcher) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*Notice, error) {
	return d.notices.FindByLoanID(ctx, loanID)
}

func toEvent(n *Notice) event.LoanNoticeEvent {
	return event.LoanNoticeEvent{
		Timestamp: n.SentAt,
		Payload: event.LoanNoticePayload{
			NoticeID:   n.ID,
			LoanID:     n.LoanID,
			AccountID:  n.AccountID,
			Recipient:  n.Recipient,
			Kind:       string(n.Kind),
			Subject:    n.Subject,
			Body:       n.Body,
			TargetDate: n.TargetDate,
		},
	}
}
