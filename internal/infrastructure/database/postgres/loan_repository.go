package postgres

import (
	"context"
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/infrastructure/monitoring"
	"ebook-lending/internal/pkg/apperrors"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	loanColumns = `id, account_id, ebook_id, start_date, end_date, status, created_at, updated_at`

	queryInsertLoan = `
        INSERT INTO loans (id, account_id, ebook_id, start_date, end_date, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING created_at, updated_at`

	queryUpdateLoan = `
        UPDATE loans
        SET end_date = $1,
            status = $2,
            updated_at = NOW()
        WHERE id = $3`

	queryFindLoanByID = `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	queryLockLoan = `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`

	queryFindAllLoans = `SELECT ` + loanColumns + ` FROM loans ORDER BY start_date, id`

	queryFindLoansByEbook = `SELECT ` + loanColumns + ` FROM loans WHERE ebook_id = $1 ORDER BY start_date, id`

	queryFindLoansByAccount = `SELECT ` + loanColumns + ` FROM loans WHERE account_id = $1 ORDER BY start_date, id`

	queryFindLoansByEbookAndAccount = `SELECT ` + loanColumns + ` FROM loans WHERE ebook_id = $1 AND account_id = $2 ORDER BY start_date, id`

	queryFindLoansByStatus = `SELECT ` + loanColumns + ` FROM loans WHERE status = $1 ORDER BY end_date, id`
)

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ loan.Repository = (*LoanRepository)(nil)

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	if db == nil {
		panic("DBPool cannot be nil for LoanRepository")
	}
	return &LoanRepository{db: db, logger: componentLogger(logger, "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) Save(ctx context.Context, l *loan.Loan) error {
	if l == nil {
		return fmt.Errorf("%w: loan cannot be nil", apperrors.ErrInvalidArgument)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
		return r.insert(ctx, r.db, l, "InsertLoan")
	}
	return r.update(ctx, r.db, l, "UpdateLoan")
}

func (r *LoanRepository) CreateInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	return r.insert(ctx, tx, l, "InsertLoanInTx")
}

func (r *LoanRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	return r.update(ctx, tx, l, "UpdateLoanInTx")
}

func (r *LoanRepository) insert(ctx context.Context, db rowQuerier, l *loan.Loan, queryName string) error {
	startTime := time.Now()
	err := db.QueryRow(ctx, queryInsertLoan,
		l.ID, l.AccountID, l.EbookID, l.StartDate, l.EndDate, l.Status,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))

	if err != nil {
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) || errors.Is(translatedErr, apperrors.ErrConflict) {
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to insert loan", "loan_id", l.ID, "error", err)
		return fmt.Errorf("%w: failed to insert loan: %w", apperrors.ErrDatabase, err)
	}
	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", l.ID)
	return nil
}

func (r *LoanRepository) update(ctx context.Context, db execer, l *loan.Loan, queryName string) error {
	startTime := time.Now()
	cmdTag, err := db.Exec(ctx, queryUpdateLoan, l.EndDate, l.Status, l.ID)
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))

	if err != nil {
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrConflict) {
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to update loan", "loan_id", l.ID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.WarnContext(ctx, "Loan update affected zero rows", "loan_id", l.ID)
		return apperrors.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Loan updated in DB", "loan_id", l.ID, "status", l.Status)
	return nil
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var l loan.Loan
	if err := row.Scan(&l.ID, &l.AccountID, &l.EbookID, &l.StartDate, &l.EndDate, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LoanRepository) findOne(ctx context.Context, db rowQuerier, queryName, query string, loanID uuid.UUID) (*loan.Loan, error) {
	startTime := time.Now()
	l, err := scanLoan(db.QueryRow(ctx, query, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		monitoring.RecordDBQuery(queryName, statusSuccess, time.Since(startTime))
		r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
		return nil, apperrors.ErrNotFound
	}
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to get loan by ID", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return l, nil
}

func (r *LoanRepository) FindByID(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	return r.findOne(ctx, r.db, "FindLoanByID", queryFindLoanByID, loanID)
}

func (r *LoanRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, loanID uuid.UUID) (*loan.Loan, error) {
	return r.findOne(ctx, tx, "LockLoan", queryLockLoan, loanID)
}

func (r *LoanRepository) FindAll(ctx context.Context) ([]*loan.Loan, error) {
	return r.findMany(ctx, "FindAllLoans", queryFindAllLoans)
}

func (r *LoanRepository) FindByEbook(ctx context.Context, ebookID uuid.UUID) ([]*loan.Loan, error) {
	return r.findMany(ctx, "FindLoansByEbook", queryFindLoansByEbook, ebookID)
}

func (r *LoanRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*loan.Loan, error) {
	return r.findMany(ctx, "FindLoansByAccount", queryFindLoansByAccount, accountID)
}

func (r *LoanRepository) FindByEbookAndAccount(ctx context.Context, ebookID, accountID uuid.UUID) ([]*loan.Loan, error) {
	return r.findMany(ctx, "FindLoansByEbookAndAccount", queryFindLoansByEbookAndAccount, ebookID, accountID)
}

func (r *LoanRepository) FindByStatus(ctx context.Context, status loan.LoanStatus) ([]*loan.Loan, error) {
	return r.findMany(ctx, "FindLoansByStatus", queryFindLoansByStatus, status)
}

func (r *LoanRepository) findMany(ctx context.Context, queryName, query string, args ...any) ([]*loan.Loan, error) {
	logCtx := r.logger.With(slog.String("operation", queryName))
	startTime := time.Now()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		monitoring.RecordDBQuery(queryName, statusError, time.Since(startTime))
		logCtx.ErrorContext(ctx, "Failed to query loans", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query loans: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			monitoring.RecordDBQuery(queryName, statusError, time.Since(startTime))
			logCtx.ErrorContext(ctx, "Failed to scan loan row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed scanning loan: %w", apperrors.ErrDatabase, err)
		}
		loans = append(loans, l)
	}

	err = rows.Err()
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))
	if err != nil {
		logCtx.ErrorContext(ctx, "Error iterating loan rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating loans: %w", apperrors.ErrDatabase, err)
	}

	logCtx.DebugContext(ctx, "Finished querying loans", slog.Int("count", len(loans)))
	return loans, nil
}
