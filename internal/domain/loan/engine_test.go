package loan_test

import (
	"context"
	"ebook-lending/internal/domain/account"
	"ebook-lending/internal/domain/catalog"
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/pkg/apperrors"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type TxMock struct {
	pgx.Tx
}

var tx pgx.Tx = &TxMock{}

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) Save(ctx context.Context, l *loan.Loan) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockLoanRepository) CreateInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	return m.Called(ctx, tx, l).Error(0)
}

func (m *MockLoanRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	return m.Called(ctx, tx, l).Error(0)
}

func (m *MockLoanRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, loanID uuid.UUID) (*loan.Loan, error) {
	args := m.Called(ctx, tx, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) FindByID(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	args := m.Called(ctx, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) loans(args mock.Arguments) ([]*loan.Loan, error) {
	if loans, ok := args.Get(0).([]*loan.Loan); ok {
		return loans, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) FindAll(ctx context.Context) ([]*loan.Loan, error) {
	return m.loans(m.Called(ctx))
}

func (m *MockLoanRepository) FindByEbook(ctx context.Context, ebookID uuid.UUID) ([]*loan.Loan, error) {
	return m.loans(m.Called(ctx, ebookID))
}

func (m *MockLoanRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*loan.Loan, error) {
	return m.loans(m.Called(ctx, accountID))
}

func (m *MockLoanRepository) FindByEbookAndAccount(ctx context.Context, ebookID, accountID uuid.UUID) ([]*loan.Loan, error) {
	return m.loans(m.Called(ctx, ebookID, accountID))
}

func (m *MockLoanRepository) FindByStatus(ctx context.Context, status loan.LoanStatus) ([]*loan.Loan, error) {
	return m.loans(m.Called(ctx, status))
}

func (m *MockLoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if t, ok := args.Get(0).(pgx.Tx); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockLoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Save(ctx context.Context, acc *account.Account) error {
	return m.Called(ctx, acc).Error(0)
}

func (m *MockAccountRepository) FindByID(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, accountID)
	if acc, ok := args.Get(0).(*account.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	args := m.Called(ctx, email)
	if acc, ok := args.Get(0).(*account.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, tx, accountID)
	if acc, ok := args.Get(0).(*account.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, acc *account.Account) error {
	return m.Called(ctx, tx, acc).Error(0)
}

type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) Save(ctx context.Context, book *catalog.Ebook) error {
	return m.Called(ctx, book).Error(0)
}

func (m *MockCatalogRepository) FindByID(ctx context.Context, ebookID uuid.UUID) (*catalog.Ebook, error) {
	args := m.Called(ctx, ebookID)
	if book, ok := args.Get(0).(*catalog.Ebook); ok {
		return book, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCatalogRepository) FindByTitleAndAuthor(ctx context.Context, title, author string) (*catalog.Ebook, error) {
	args := m.Called(ctx, title, author)
	if book, ok := args.Get(0).(*catalog.Ebook); ok {
		return book, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCatalogRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, ebookID uuid.UUID) (*catalog.Ebook, error) {
	args := m.Called(ctx, tx, ebookID)
	if book, ok := args.Get(0).(*catalog.Ebook); ok {
		return book, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCatalogRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, book *catalog.Ebook) error {
	return m.Called(ctx, tx, book).Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, l *loan.Loan, kind loan.NoticeKind) error {
	return m.Called(ctx, l, kind).Error(0)
}

type MockReminderMarker struct {
	mock.Mock
}

func (m *MockReminderMarker) MarkReminder(ctx context.Context, loanID uuid.UUID, target time.Time) (bool, error) {
	args := m.Called(ctx, loanID, target)
	return args.Bool(0), args.Error(1)
}

func (m *MockReminderMarker) ClearReminder(ctx context.Context, loanID uuid.UUID, target time.Time) error {
	return m.Called(ctx, loanID, target).Error(0)
}

type engineMocks struct {
	loans    *MockLoanRepository
	accounts *MockAccountRepository
	ebooks   *MockCatalogRepository
	notifier *MockNotifier
	marker   *MockReminderMarker
}

func newMockedEngine() (loan.Engine, *engineMocks) {
	m := &engineMocks{
		loans:    new(MockLoanRepository),
		accounts: new(MockAccountRepository),
		ebooks:   new(MockCatalogRepository),
		notifier: new(MockNotifier),
		marker:   new(MockReminderMarker),
	}
	engine := loan.NewEngine(m.loans, m.accounts, m.ebooks, m.notifier, discardLogger(),
		loan.WithClock(func() time.Time { return today }),
		loan.WithReminderMarker(m.marker),
	)
	return engine, m
}

func (m *engineMocks) assertExpectations(t *testing.T) {
	m.loans.AssertExpectations(t)
	m.accounts.AssertExpectations(t)
	m.ebooks.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
	m.marker.AssertExpectations(t)
}

func testAccount() *account.Account {
	acc := account.NewAccount("Ada", "ada@example.com", mustDecimal("20.00"))
	acc.ID = uuid.New()
	acc.LoggedIn = true
	return acc
}

func testEbook() *catalog.Ebook {
	book, _ := catalog.NewEbook("Emma", "Jane Austen", mustDecimal("4.99"), 21, 3)
	book.ID = uuid.New()
	return book
}

func TestNewEngine_PanicsWithoutRepositories(t *testing.T) {
	assert.Panics(t, func() {
		loan.NewEngine(nil, new(MockAccountRepository), new(MockCatalogRepository), nil, nil)
	})
}

func TestEngine_CreateLoan_CommitsThenNotifies(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc, book := testAccount(), testEbook()

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.accounts.On("FindByIDForUpdate", ctx, tx, acc.ID).Return(acc, nil).Once()
	m.ebooks.On("FindByIDForUpdate", ctx, tx, book.ID).Return(book, nil).Once()
	m.ebooks.On("UpdateInTx", ctx, tx, mock.MatchedBy(func(b *catalog.Ebook) bool {
		return b.QuantityAvailable == 2
	})).Return(nil).Once()
	m.accounts.On("UpdateInTx", ctx, tx, mock.MatchedBy(func(a *account.Account) bool {
		return a.ActiveLoanCount == 1 && a.Balance.Equal(mustDecimal("15.01"))
	})).Return(nil).Once()
	m.loans.On("CreateInTx", ctx, tx, mock.AnythingOfType("*loan.Loan")).Return(nil).Once()
	m.loans.On("CommitTx", ctx, tx).Return(nil).Once()
	m.notifier.On("Notify", mock.Anything, mock.AnythingOfType("*loan.Loan"), loan.NoticeConfirmation).Return(nil).Once()

	created, err := engine.CreateLoan(ctx, acc.ID, book.ID)

	require.NoError(t, err)
	assert.Equal(t, acc.ID, created.AccountID)
	assert.Equal(t, book.ID, created.EbookID)
	assert.Equal(t, 21, created.DurationDays())
	m.loans.AssertNotCalled(t, "RollbackTx", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestEngine_CreateLoan_RollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc, book := testAccount(), testEbook()
	dbErr := errors.New("connection reset")

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.accounts.On("FindByIDForUpdate", ctx, tx, acc.ID).Return(acc, nil).Once()
	m.ebooks.On("FindByIDForUpdate", ctx, tx, book.ID).Return(book, nil).Once()
	m.ebooks.On("UpdateInTx", ctx, tx, book).Return(nil).Once()
	m.accounts.On("UpdateInTx", ctx, tx, acc).Return(nil).Once()
	m.loans.On("CreateInTx", ctx, tx, mock.AnythingOfType("*loan.Loan")).Return(dbErr).Once()
	m.loans.On("RollbackTx", ctx, tx).Return(nil).Once()

	created, err := engine.CreateLoan(ctx, acc.ID, book.ID)

	assert.Nil(t, created)
	assert.ErrorIs(t, err, dbErr)
	m.loans.AssertNotCalled(t, "CommitTx", mock.Anything, mock.Anything)
	m.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestEngine_CreateLoan_BeginFailure(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()

	m.loans.On("BeginTx", ctx).Return(nil, errors.New("pool exhausted")).Once()

	_, err := engine.CreateLoan(ctx, uuid.New(), uuid.New())

	assert.ErrorIs(t, err, apperrors.ErrInternalServer)
	m.assertExpectations(t)
}

func TestEngine_CreateLoan_CommitFailureSkipsNotify(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc, book := testAccount(), testEbook()

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.accounts.On("FindByIDForUpdate", ctx, tx, acc.ID).Return(acc, nil).Once()
	m.ebooks.On("FindByIDForUpdate", ctx, tx, book.ID).Return(book, nil).Once()
	m.ebooks.On("UpdateInTx", ctx, tx, book).Return(nil).Once()
	m.accounts.On("UpdateInTx", ctx, tx, acc).Return(nil).Once()
	m.loans.On("CreateInTx", ctx, tx, mock.AnythingOfType("*loan.Loan")).Return(nil).Once()
	m.loans.On("CommitTx", ctx, tx).Return(errors.New("serialization failure")).Once()
	m.loans.On("RollbackTx", ctx, tx).Return(nil).Once()

	_, err := engine.CreateLoan(ctx, acc.ID, book.ID)

	assert.ErrorIs(t, err, apperrors.ErrInternalServer)
	m.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestEngine_CreateLoan_RejectionRollsBack(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc, book := testAccount(), testEbook()
	acc.LoggedIn = false

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.accounts.On("FindByIDForUpdate", ctx, tx, acc.ID).Return(acc, nil).Once()
	m.ebooks.On("FindByIDForUpdate", ctx, tx, book.ID).Return(book, nil).Once()
	m.loans.On("RollbackTx", ctx, tx).Return(nil).Once()

	_, err := engine.CreateLoan(ctx, acc.ID, book.ID)

	assert.ErrorIs(t, err, apperrors.ErrNotLoggedIn)
	m.ebooks.AssertNotCalled(t, "UpdateInTx", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestEngine_CreateLoan_PanicRollsBackAndRepanics(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc := testAccount()

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.accounts.On("FindByIDForUpdate", ctx, tx, acc.ID).Run(func(mock.Arguments) {
		panic("driver bug")
	}).Return(nil, nil).Once()
	m.loans.On("RollbackTx", ctx, tx).Return(nil).Once()

	assert.PanicsWithValue(t, "driver bug", func() {
		_, _ = engine.CreateLoan(ctx, acc.ID, uuid.New())
	})
	m.assertExpectations(t)
}

func TestEngine_TerminateLoanByID_NotFound(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	loanID := uuid.New()

	m.loans.On("FindByID", ctx, loanID).Return(nil, apperrors.ErrNotFound).Once()

	_, err := engine.TerminateLoanByID(ctx, loanID)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	m.assertExpectations(t)
}

func TestEngine_TerminateLoan_NilLoan(t *testing.T) {
	engine, m := newMockedEngine()

	_, err := engine.TerminateLoan(context.Background(), nil)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	m.assertExpectations(t)
}

func TestEngine_TerminateLoan_AlreadyTerminatedOnLockedRow(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc, book := testAccount(), testEbook()
	stale, err := loan.NewLoan(acc.ID, book.ID, today, 14)
	require.NoError(t, err)
	current := *stale
	current.Status = loan.StatusTerminated

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.loans.On("FindByIDForUpdate", ctx, tx, stale.ID).Return(&current, nil).Once()
	m.loans.On("RollbackTx", ctx, tx).Return(nil).Once()

	_, err = engine.TerminateLoan(ctx, stale)

	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	m.accounts.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
	m.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestEngine_TerminateLoan_NotifierErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	acc, book := testAccount(), testEbook()
	acc.ActiveLoanCount = 1
	active, err := loan.NewLoan(acc.ID, book.ID, today.AddDate(0, 0, -3), 21)
	require.NoError(t, err)

	m.loans.On("BeginTx", ctx).Return(tx, nil).Once()
	m.loans.On("FindByIDForUpdate", ctx, tx, active.ID).Return(active, nil).Once()
	m.accounts.On("FindByIDForUpdate", ctx, tx, acc.ID).Return(acc, nil).Once()
	m.ebooks.On("FindByIDForUpdate", ctx, tx, book.ID).Return(book, nil).Once()
	m.ebooks.On("UpdateInTx", ctx, tx, mock.MatchedBy(func(b *catalog.Ebook) bool {
		return b.QuantityAvailable == 4
	})).Return(nil).Once()
	m.accounts.On("UpdateInTx", ctx, tx, mock.MatchedBy(func(a *account.Account) bool {
		return a.ActiveLoanCount == 0 && a.Balance.Equal(mustDecimal("20.00"))
	})).Return(nil).Once()
	m.loans.On("UpdateInTx", ctx, tx, mock.MatchedBy(func(l *loan.Loan) bool {
		return l.Status == loan.StatusTerminated && l.EndDate.Equal(loan.DateOf(today))
	})).Return(nil).Once()
	m.loans.On("CommitTx", ctx, tx).Return(nil).Once()
	m.notifier.On("Notify", mock.Anything, active, loan.NoticeCancellation).Return(errors.New("queue full")).Once()

	terminated, err := engine.TerminateLoan(ctx, active)

	require.NoError(t, err)
	assert.Equal(t, loan.StatusTerminated, terminated.Status)
	m.assertExpectations(t)
}

func TestEngine_GetLoan(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	existing, err := loan.NewLoan(uuid.New(), uuid.New(), today, 7)
	require.NoError(t, err)
	missing := uuid.New()

	m.loans.On("FindByID", ctx, existing.ID).Return(existing, nil).Once()
	m.loans.On("FindByID", ctx, missing).Return(nil, pgx.ErrNoRows).Once()

	got, err := engine.GetLoan(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	_, err = engine.GetLoan(ctx, missing)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	m.assertExpectations(t)
}

func TestEngine_ExpireDueLoans_ScanFailure(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()

	m.loans.On("FindByStatus", ctx, loan.StatusActive).Return(nil, errors.New("db down")).Once()

	_, err := engine.ExpireDueLoans(ctx, loan.SweepOptions{})

	assert.Error(t, err)
	m.assertExpectations(t)
}

func TestEngine_SendExpiryReminders_SkipsAlreadyMarked(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	due, err := loan.NewLoan(uuid.New(), uuid.New(), today.AddDate(0, 0, -13), 14)
	require.NoError(t, err)
	target := loan.DateOf(today).AddDate(0, 0, 1)

	m.loans.On("FindByStatus", ctx, loan.StatusActive).Return([]*loan.Loan{due}, nil).Once()
	m.marker.On("MarkReminder", ctx, due.ID, target).Return(false, nil).Once()

	report, err := engine.SendExpiryReminders(ctx, loan.SweepOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Selected)
	assert.Equal(t, 1, report.Skipped)
	m.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestEngine_SendExpiryReminders_MarkerErrorCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	engine, m := newMockedEngine()
	due, err := loan.NewLoan(uuid.New(), uuid.New(), today.AddDate(0, 0, -13), 14)
	require.NoError(t, err)

	m.loans.On("FindByStatus", ctx, loan.StatusActive).Return([]*loan.Loan{due}, nil).Once()
	m.marker.On("MarkReminder", ctx, due.ID, mock.AnythingOfType("time.Time")).Return(false, errors.New("redis down")).Once()

	report, err := engine.SendExpiryReminders(ctx, loan.SweepOptions{})

	assert.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	m.assertExpectations(t)
}

func TestEngine_Sweep_CancelledContextDefersWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine, m := newMockedEngine()
	due, err := loan.NewLoan(uuid.New(), uuid.New(), today.AddDate(0, 0, -14), 14)
	require.NoError(t, err)

	m.loans.On("FindByStatus", ctx, loan.StatusActive).Return([]*loan.Loan{due}, nil).Once()

	report, err := engine.ExpireDueLoans(ctx, loan.SweepOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 0, report.Processed)
	m.assertExpectations(t)
}

func TestDuePredicates(t *testing.T) {
	active, err := loan.NewLoan(uuid.New(), uuid.New(), today.AddDate(0, 0, -14), 14)
	require.NoError(t, err)

	assert.True(t, loan.DueForExpiry(active, today))
	assert.False(t, loan.DueForReminder(active, today))
	assert.True(t, loan.DueForReminder(active, today.AddDate(0, 0, -1)))
	assert.False(t, loan.DueForExpiry(active, today.AddDate(0, 0, 1)))

	active.Status = loan.StatusTerminated
	assert.False(t, loan.DueForExpiry(active, today))
	assert.False(t, loan.DueForReminder(active, today.AddDate(0, 0, -1)))
}
