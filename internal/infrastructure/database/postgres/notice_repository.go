package postgres

import (
	"context"
	"ebook-lending/internal/domain/notice"
	"ebook-lending/internal/infrastructure/monitoring"
	"ebook-lending/internal/pkg/apperrors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	queryInsertNotice = `
        INSERT INTO notices (id, loan_id, account_id, recipient, kind, subject, body, target_date, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	queryFindNoticesByLoan = `
        SELECT id, loan_id, account_id, recipient, kind, subject, body, target_date, sent_at
        FROM notices
        WHERE loan_id = $1
        ORDER BY sent_at ASC`
)

type NoticeRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ notice.Repository = (*NoticeRepository)(nil)

func NewNoticeRepository(db DBPool, logger *slog.Logger) *NoticeRepository {
	if db == nil {
		panic("DBPool cannot be nil for NoticeRepository")
	}
	return &NoticeRepository{db: db, logger: componentLogger(logger, "NoticeRepository")}
}

func (r *NoticeRepository) Save(ctx context.Context, n *notice.Notice) error {
	if n == nil {
		return fmt.Errorf("%w: notice cannot be nil", apperrors.ErrInvalidArgument)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	startTime := time.Now()
	_, err := r.db.Exec(ctx, queryInsertNotice,
		n.ID, n.LoanID, n.AccountID, n.Recipient, n.Kind, n.Subject, n.Body, n.TargetDate, n.SentAt,
	)
	monitoring.RecordDBQuery("InsertNotice", outcome(err), time.Since(startTime))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert notice", slog.String("loanID", n.LoanID.String()), slog.Any("error", err))
		return translateDBError(err, r.logger)
	}
	return nil
}

func (r *NoticeRepository) FindByLoanID(ctx context.Context, loanID uuid.UUID) ([]*notice.Notice, error) {
	startTime := time.Now()
	rows, err := r.db.Query(ctx, queryFindNoticesByLoan, loanID)
	if err != nil {
		monitoring.RecordDBQuery("FindNoticesByLoan", statusError, time.Since(startTime))
		r.logger.ErrorContext(ctx, "Failed to query notices", slog.String("loanID", loanID.String()), slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query notices: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	notices := make([]*notice.Notice, 0)
	for rows.Next() {
		var n notice.Notice
		if err := rows.Scan(&n.ID, &n.LoanID, &n.AccountID, &n.Recipient, &n.Kind, &n.Subject, &n.Body, &n.TargetDate, &n.SentAt); err != nil {
			monitoring.RecordDBQuery("FindNoticesByLoan", statusError, time.Since(startTime))
			return nil, fmt.Errorf("%w: failed scanning notice: %w", apperrors.ErrDatabase, err)
		}
		notices = append(notices, &n)
	}
	err = rows.Err()
	monitoring.RecordDBQuery("FindNoticesByLoan", outcome(err), time.Since(startTime))
	if err != nil {
		return nil, fmt.Errorf("%w: error iterating notices: %w", apperrors.ErrDatabase, err)
	}
	return notices, nil
}
