package postgres

import (
	"context"
	"ebook-lending/internal/domain/account"
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
	accountColumns = `id, name, email, balance, logged_in, admin, active_loan_count, created_at, updated_at`

	queryInsertAccount = `
        INSERT INTO accounts (id, name, email, balance, logged_in, admin, active_loan_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
        RETURNING created_at, updated_at`

	queryUpdateAccount = `
        UPDATE accounts
        SET name = $1,
            email = $2,
            balance = $3,
            logged_in = $4,
            admin = $5,
            active_loan_count = $6,
            updated_at = NOW()
        WHERE id = $7`

	queryFindAccountByID = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	queryFindAccountByEmail = `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	queryLockAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
)

type AccountRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ account.Repository = (*AccountRepository)(nil)

func NewAccountRepository(db DBPool, logger *slog.Logger) *AccountRepository {
	if db == nil {
		panic("DBPool cannot be nil for AccountRepository")
	}
	return &AccountRepository{db: db, logger: componentLogger(logger, "AccountRepository")}
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	err := row.Scan(
		&acc.ID, &acc.Name, &acc.Email, &acc.Balance, &acc.LoggedIn,
		&acc.Admin, &acc.ActiveLoanCount, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *AccountRepository) Save(ctx context.Context, acc *account.Account) error {
	if acc == nil {
		return fmt.Errorf("%w: account cannot be nil", apperrors.ErrInvalidArgument)
	}
	if acc.ID == uuid.Nil {
		return r.create(ctx, acc)
	}
	return r.update(ctx, r.db, acc, "UpdateAccount")
}

func (r *AccountRepository) create(ctx context.Context, acc *account.Account) error {
	r.logger.InfoContext(ctx, "Attempting to insert new account", slog.String("email", acc.Email))
	startTime := time.Now()

	acc.ID = uuid.New()
	err := r.db.QueryRow(ctx, queryInsertAccount,
		acc.ID, acc.Name, acc.Email, acc.Balance, acc.LoggedIn, acc.Admin, acc.ActiveLoanCount,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	monitoring.RecordDBQuery("InsertAccount", outcome(err), time.Since(startTime))

	if err != nil {
		acc.ID = uuid.Nil
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			r.logger.WarnContext(ctx, "Account with this email already exists", slog.String("email", acc.Email))
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to insert account", slog.Any("error", err))
		return fmt.Errorf("%w: failed to insert account: %w", apperrors.ErrDatabase, err)
	}

	r.logger.InfoContext(ctx, "Account inserted successfully", slog.String("accountID", acc.ID.String()))
	return nil
}

func (r *AccountRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, acc *account.Account) error {
	return r.update(ctx, tx, acc, "UpdateAccountInTx")
}

func (r *AccountRepository) update(ctx context.Context, db execer, acc *account.Account, queryName string) error {
	startTime := time.Now()
	cmdTag, err := db.Exec(ctx, queryUpdateAccount,
		acc.Name, acc.Email, acc.Balance, acc.LoggedIn, acc.Admin, acc.ActiveLoanCount, acc.ID,
	)
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))

	if err != nil {
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) || errors.Is(translatedErr, apperrors.ErrConflict) {
			r.logger.WarnContext(ctx, "Account update rejected by constraint", slog.String("accountID", acc.ID.String()), slog.Any("error", err))
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to update account", slog.String("accountID", acc.ID.String()), slog.Any("error", err))
		return fmt.Errorf("%w: failed to update account: %w", apperrors.ErrDatabase, err)
	}

	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Update affected zero rows, account likely not found", slog.String("accountID", acc.ID.String()))
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	return r.findOne(ctx, r.db, queryFindAccountByID, accountID, "FindAccountByID", slog.String("accountID", accountID.String()))
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return r.findOne(ctx, r.db, queryFindAccountByEmail, email, "FindAccountByEmail", slog.String("email", email))
}

func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*account.Account, error) {
	return r.findOne(ctx, tx, queryLockAccount, accountID, "LockAccount", slog.String("accountID", accountID.String()))
}

func (r *AccountRepository) findOne(ctx context.Context, db rowQuerier, query string, arg any, queryName string, key slog.Attr) (*account.Account, error) {
	startTime := time.Now()
	acc, err := scanAccount(db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		monitoring.RecordDBQuery(queryName, statusSuccess, time.Since(startTime))
		r.logger.WarnContext(ctx, "Account not found", key)
		return nil, apperrors.ErrNotFound
	}
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query account", key, slog.Any("error", err))
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return acc, nil
}
