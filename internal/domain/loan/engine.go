package loan

import (
	"context"
	"ebook-lending/internal/domain/account"
	"ebook-lending/internal/domain/catalog"
	"ebook-lending/internal/infrastructure/monitoring"
	"ebook-lending/internal/pkg/apperrors"
	"ebook-lending/internal/pkg/keylock"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const CurrencySymbol = "£"

const (
	operationCreate    = "create"
	operationTerminate = "terminate"
)

// Notifier turns a loan lifecycle event into an outbound notice.
type Notifier interface {
	Notify(ctx context.Context, loan *Loan, kind NoticeKind) error
}

// ReminderMarker remembers which loans were already reminded for a given end date.
type ReminderMarker interface {
	MarkReminder(ctx context.Context, loanID uuid.UUID, target time.Time) (bool, error)

	ClearReminder(ctx context.Context, loanID uuid.UUID, target time.Time) error
}

type Engine interface {
	CreateLoan(ctx context.Context, accountID, ebookID uuid.UUID) (*Loan, error)

	TerminateLoan(ctx context.Context, loan *Loan) (*Loan, error)

	TerminateLoanByID(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	FindLoans(ctx context.Context, filter Filter) ([]*Loan, error)

	ExpireDueLoans(ctx context.Context, opts SweepOptions) (SweepReport, error)

	SendExpiryReminders(ctx context.Context, opts SweepOptions) (SweepReport, error)
}

// Filter narrows FindLoans. Zero values mean "any".
type Filter struct {
	AccountID uuid.UUID
	EbookID   uuid.UUID
	Status    LoanStatus
}

type Option func(*engine)

func WithClock(now func() time.Time) Option {
	return func(e *engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithReminderMarker(marker ReminderMarker) Option {
	return func(e *engine) {
		e.marker = marker
	}
}

var _ Engine = (*engine)(nil)

type engine struct {
	loans    Repository
	accounts account.Repository
	ebooks   catalog.Repository
	notifier Notifier
	marker   ReminderMarker
	locks    *keylock.Locker
	now      func() time.Time
	logger   *slog.Logger
}

func NewEngine(loans Repository, accounts account.Repository, ebooks catalog.Repository, notifier Notifier, logger *slog.Logger, opts ...Option) Engine {
	if loans == nil || accounts == nil || ebooks == nil {
		panic("loan engine repositories cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewEngine, using default stderr handler")
	}

	e := &engine{
		loans:    loans,
		accounts: accounts,
		ebooks:   ebooks,
		notifier: notifier,
		locks:    keylock.New(),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "LoanEngine")),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.notifier == nil {
		e.logger.Warn("No notifier configured, loan notices will not be dispatched")
	}
	if e.marker == nil {
		e.logger.Warn("No reminder marker configured, reminders are not deduplicated across sweep runs")
	}
	return e
}

func accountKey(id uuid.UUID) string { return "account:" + id.String() }

func ebookKey(id uuid.UUID) string { return "ebook:" + id.String() }

func loanKey(id uuid.UUID) string { return "loan:" + id.String() }

func (e *engine) CreateLoan(ctx context.Context, accountID, ebookID uuid.UUID) (*Loan, error) {
	logCtx := e.logger.With(slog.String("accountID", accountID.String()), slog.String("ebookID", ebookID.String()))
	logCtx.InfoContext(ctx, "Creating new loan")

	created, err := e.createLoan(ctx, accountID, ebookID)
	monitoring.RecordLoanOperation(operationCreate, outcomeOf(err))
	if err != nil {
		if isRejection(err) {
			logCtx.WarnContext(ctx, "Loan request rejected", slog.Any("error", err))
		} else {
			logCtx.ErrorContext(ctx, "Failed to create loan", slog.Any("error", err))
		}
		return nil, err
	}

	logCtx.InfoContext(ctx, "Loan created successfully", slog.String("loanID", created.ID.String()), slog.Time("endDate", created.EndDate))
	_ = e.notify(ctx, created, NoticeConfirmation)
	return created, nil
}

func (e *engine) createLoan(ctx context.Context, accountID, ebookID uuid.UUID) (created *Loan, err error) {
	unlock := e.locks.Lock(accountKey(accountID), ebookKey(ebookID))
	defer unlock()

	tx, err := e.loans.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not begin transaction: %w", apperrors.ErrInternalServer, err)
	}
	defer e.rollbackOnFailure(ctx, tx, &err)

	acc, err := e.accounts.FindByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, lookupError(err, "account", accountID)
	}

	book, err := e.ebooks.FindByIDForUpdate(ctx, tx, ebookID)
	if err != nil {
		return nil, lookupError(err, "ebook", ebookID)
	}

	if err = validateLoan(acc, book); err != nil {
		return nil, err
	}

	created, err = NewLoan(acc.ID, book.ID, e.now(), book.MaxLoanDuration)
	if err != nil {
		return nil, err
	}

	if err = book.CheckOut(); err != nil {
		return nil, err
	}
	acc.BorrowFor(book.Price)

	if err = e.ebooks.UpdateInTx(ctx, tx, book); err != nil {
		return nil, fmt.Errorf("failed to update ebook availability: %w", err)
	}
	if err = e.accounts.UpdateInTx(ctx, tx, acc); err != nil {
		return nil, fmt.Errorf("failed to update account balance: %w", err)
	}
	if err = e.loans.CreateInTx(ctx, tx, created); err != nil {
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}

	if err = e.loans.CommitTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: could not commit loan creation: %w", apperrors.ErrInternalServer, err)
	}
	return created, nil
}

// validateLoan checks borrowing rules in their reporting order.
func validateLoan(acc *account.Account, book *catalog.Ebook) error {
	if !acc.LoggedIn {
		return fmt.Errorf("%w: account %s must be logged in to borrow", apperrors.ErrNotLoggedIn, acc.ID)
	}
	if acc.HasReachedLoanLimit() {
		return fmt.Errorf("%w: account %s already holds %d loans", apperrors.ErrLoanLimitExceeded, acc.ID, account.MaxActiveLoans)
	}
	if !book.InStock() {
		return fmt.Errorf("%w: '%s' has no copies available", apperrors.ErrOutOfStock, book.Title)
	}
	if !acc.CanAfford(book.Price) {
		return apperrors.NewInsufficientFundsError(acc.Shortfall(book.Price), CurrencySymbol)
	}
	return nil
}

func (e *engine) TerminateLoan(ctx context.Context, l *Loan) (*Loan, error) {
	if l == nil {
		monitoring.RecordLoanOperation(operationTerminate, outcomeOf(apperrors.ErrNotFound))
		return nil, fmt.Errorf("%w: no loan given to terminate", apperrors.ErrNotFound)
	}

	logCtx := e.logger.With(slog.String("loanID", l.ID.String()))
	logCtx.InfoContext(ctx, "Terminating loan")

	terminated, err := e.terminateLoan(ctx, l)
	monitoring.RecordLoanOperation(operationTerminate, outcomeOf(err))
	if err != nil {
		if isRejection(err) {
			logCtx.WarnContext(ctx, "Loan termination rejected", slog.Any("error", err))
		} else {
			logCtx.ErrorContext(ctx, "Failed to terminate loan", slog.Any("error", err))
		}
		return nil, err
	}

	logCtx.InfoContext(ctx, "Loan terminated successfully", slog.Time("endDate", terminated.EndDate))
	_ = e.notify(ctx, terminated, NoticeCancellation)
	return terminated, nil
}

func (e *engine) TerminateLoanByID(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	current, err := e.loans.FindByID(ctx, loanID)
	if err != nil {
		err = lookupError(err, "loan", loanID)
		monitoring.RecordLoanOperation(operationTerminate, outcomeOf(err))
		return nil, err
	}
	return e.TerminateLoan(ctx, current)
}

func (e *engine) terminateLoan(ctx context.Context, ref *Loan) (terminated *Loan, err error) {
	unlock := e.locks.Lock(loanKey(ref.ID), accountKey(ref.AccountID), ebookKey(ref.EbookID))
	defer unlock()

	tx, err := e.loans.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not begin transaction: %w", apperrors.ErrInternalServer, err)
	}
	defer e.rollbackOnFailure(ctx, tx, &err)

	current, err := e.loans.FindByIDForUpdate(ctx, tx, ref.ID)
	if err != nil {
		return nil, lookupError(err, "loan", ref.ID)
	}
	if !current.IsActive() {
		return nil, fmt.Errorf("%w: loan %s is already %s", apperrors.ErrInvalidState, current.ID, current.Status)
	}

	acc, err := e.accounts.FindByIDForUpdate(ctx, tx, current.AccountID)
	if err != nil {
		return nil, lookupError(err, "account", current.AccountID)
	}
	book, err := e.ebooks.FindByIDForUpdate(ctx, tx, current.EbookID)
	if err != nil {
		return nil, lookupError(err, "ebook", current.EbookID)
	}

	if err = current.Terminate(e.now()); err != nil {
		return nil, err
	}
	book.Return()
	if acc.ActiveLoanCount == 0 {
		e.logger.WarnContext(ctx, "Account active loan count already zero while terminating loan",
			slog.String("loanID", current.ID.String()), slog.String("accountID", acc.ID.String()))
	}
	acc.ReleaseLoan()

	if err = e.ebooks.UpdateInTx(ctx, tx, book); err != nil {
		return nil, fmt.Errorf("failed to update ebook availability: %w", err)
	}
	if err = e.accounts.UpdateInTx(ctx, tx, acc); err != nil {
		return nil, fmt.Errorf("failed to update account loan count: %w", err)
	}
	if err = e.loans.UpdateInTx(ctx, tx, current); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	if err = e.loans.CommitTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: could not commit loan termination: %w", apperrors.ErrInternalServer, err)
	}
	return current, nil
}

func (e *engine) GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	l, err := e.loans.FindByID(ctx, loanID)
	if err != nil {
		return nil, lookupError(err, "loan", loanID)
	}
	return l, nil
}

func (e *engine) FindLoans(ctx context.Context, filter Filter) ([]*Loan, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown loan status %q", filter.Status))
	}

	var (
		loans []*Loan
		err   error
	)
	switch {
	case filter.AccountID != uuid.Nil && filter.EbookID != uuid.Nil:
		loans, err = e.loans.FindByEbookAndAccount(ctx, filter.EbookID, filter.AccountID)
	case filter.EbookID != uuid.Nil:
		loans, err = e.loans.FindByEbook(ctx, filter.EbookID)
	case filter.AccountID != uuid.Nil:
		loans, err = e.loans.FindByAccount(ctx, filter.AccountID)
	case filter.Status != "":
		return e.loans.FindByStatus(ctx, filter.Status)
	default:
		return e.loans.FindAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	if filter.Status == "" {
		return loans, nil
	}
	matching := make([]*Loan, 0, len(loans))
	for _, l := range loans {
		if l.Status == filter.Status {
			matching = append(matching, l)
		}
	}
	return matching, nil
}

// notify runs outside every lock and transaction; a failure never undoes the loan change.
func (e *engine) notify(ctx context.Context, l *Loan, kind NoticeKind) error {
	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), l, kind); err != nil {
		e.logger.ErrorContext(ctx, "Failed to dispatch loan notice",
			slog.String("loanID", l.ID.String()), slog.String("kind", string(kind)), slog.Any("error", err))
		return err
	}
	return nil
}

func (e *engine) rollbackOnFailure(ctx context.Context, tx pgx.Tx, err *error) {
	if p := recover(); p != nil {
		e.logger.ErrorContext(ctx, "Panic occurred during loan transaction", "error", p)
		_ = e.loans.RollbackTx(ctx, tx)
		panic(p)
	}
	if *err != nil {
		_ = e.loans.RollbackTx(ctx, tx)
	}
}

func lookupError(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s not found", apperrors.ErrNotFound, entity, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, id, err)
}

func isRejection(err error) bool {
	return outcomeOf(err) != "error"
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrNotLoggedIn):
		return "not_logged_in"
	case errors.Is(err, apperrors.ErrLoanLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, apperrors.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, apperrors.ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}
