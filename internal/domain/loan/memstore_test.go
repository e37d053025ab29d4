package loan_test

import (
	"context"
	"ebook-lending/internal/domain/account"
	"ebook-lending/internal/domain/catalog"
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/pkg/apperrors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memTx buffers writes until commit, like a database transaction would.
type memTx struct {
	pgx.Tx
	accounts map[uuid.UUID]account.Account
	ebooks   map[uuid.UUID]catalog.Ebook
	loans    map[uuid.UUID]loan.Loan
	done     bool
}

type memStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]account.Account
	ebooks   map[uuid.UUID]catalog.Ebook
	loans    map[uuid.UUID]loan.Loan
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]account.Account),
		ebooks:   make(map[uuid.UUID]catalog.Ebook),
		loans:    make(map[uuid.UUID]loan.Loan),
	}
}

func (s *memStore) addAccount(balance string, loggedIn bool, activeLoans int) account.Account {
	acc := account.NewAccount("Reader", fmt.Sprintf("reader-%s@example.com", uuid.NewString()[:8]), mustDecimal(balance))
	acc.ID = uuid.New()
	acc.LoggedIn = loggedIn
	acc.ActiveLoanCount = activeLoans
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = *acc
	return *acc
}

func (s *memStore) addEbook(price string, duration, quantity int) catalog.Ebook {
	book, err := catalog.NewEbook("Dune", "Frank Herbert", mustDecimal(price), duration, quantity)
	if err != nil {
		panic(err)
	}
	book.ID = uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ebooks[book.ID] = *book
	return *book
}

func (s *memStore) addLoan(accountID, ebookID uuid.UUID, start, end time.Time, status loan.LoanStatus) loan.Loan {
	l := loan.Loan{
		ID:        uuid.New(),
		AccountID: accountID,
		EbookID:   ebookID,
		StartDate: loan.DateOf(start),
		EndDate:   loan.DateOf(end),
		Status:    status,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[l.ID] = l
	return l
}

func (s *memStore) account(id uuid.UUID) account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) ebook(id uuid.UUID) catalog.Ebook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ebooks[id]
}

func (s *memStore) loan(id uuid.UUID) loan.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loans[id]
}

func (s *memStore) loanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loans)
}

func asMemTx(tx pgx.Tx) *memTx {
	mt, ok := tx.(*memTx)
	if !ok || mt.done {
		panic("memstore: transaction is not open")
	}
	return mt
}

type memLoans struct{ s *memStore }

type memAccounts struct{ s *memStore }

type memEbooks struct{ s *memStore }

var (
	_ loan.Repository    = memLoans{}
	_ account.Repository = memAccounts{}
	_ catalog.Repository = memEbooks{}
)

func (r memLoans) Save(_ context.Context, l *loan.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.loans[l.ID] = *l
	return nil
}

func (r memLoans) CreateInTx(_ context.Context, tx pgx.Tx, l *loan.Loan) error {
	asMemTx(tx).loans[l.ID] = *l
	return nil
}

func (r memLoans) UpdateInTx(_ context.Context, tx pgx.Tx, l *loan.Loan) error {
	asMemTx(tx).loans[l.ID] = *l
	return nil
}

func (r memLoans) FindByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*loan.Loan, error) {
	return r.FindByID(ctx, id)
}

func (r memLoans) FindByID(_ context.Context, id uuid.UUID) (*loan.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.loans[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &l, nil
}

func (r memLoans) filter(keep func(loan.Loan) bool) []*loan.Loan {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*loan.Loan, 0)
	for _, l := range r.s.loans {
		if keep(l) {
			out = append(out, &l)
		}
	}
	return out
}

func (r memLoans) FindAll(_ context.Context) ([]*loan.Loan, error) {
	return r.filter(func(loan.Loan) bool { return true }), nil
}

func (r memLoans) FindByEbook(_ context.Context, ebookID uuid.UUID) ([]*loan.Loan, error) {
	return r.filter(func(l loan.Loan) bool { return l.EbookID == ebookID }), nil
}

func (r memLoans) FindByAccount(_ context.Context, accountID uuid.UUID) ([]*loan.Loan, error) {
	return r.filter(func(l loan.Loan) bool { return l.AccountID == accountID }), nil
}

func (r memLoans) FindByEbookAndAccount(_ context.Context, ebookID, accountID uuid.UUID) ([]*loan.Loan, error) {
	return r.filter(func(l loan.Loan) bool { return l.EbookID == ebookID && l.AccountID == accountID }), nil
}

func (r memLoans) FindByStatus(_ context.Context, status loan.LoanStatus) ([]*loan.Loan, error) {
	return r.filter(func(l loan.Loan) bool { return l.Status == status }), nil
}

func (r memLoans) BeginTx(_ context.Context) (pgx.Tx, error) {
	return &memTx{
		accounts: make(map[uuid.UUID]account.Account),
		ebooks:   make(map[uuid.UUID]catalog.Ebook),
		loans:    make(map[uuid.UUID]loan.Loan),
	}, nil
}

func (r memLoans) CommitTx(_ context.Context, tx pgx.Tx) error {
	mt := asMemTx(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, a := range mt.accounts {
		r.s.accounts[id] = a
	}
	for id, e := range mt.ebooks {
		r.s.ebooks[id] = e
	}
	for id, l := range mt.loans {
		r.s.loans[id] = l
	}
	mt.done = true
	return nil
}

func (r memLoans) RollbackTx(_ context.Context, tx pgx.Tx) error {
	if mt, ok := tx.(*memTx); ok {
		mt.done = true
	}
	return nil
}

func (r memAccounts) Save(_ context.Context, acc *account.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.accounts[acc.ID] = *acc
	return nil
}

func (r memAccounts) FindByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acc, ok := r.s.accounts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &acc, nil
}

func (r memAccounts) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, acc := range r.s.accounts {
		if acc.Email == email {
			return &acc, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r memAccounts) FindByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*account.Account, error) {
	return r.FindByID(ctx, id)
}

func (r memAccounts) UpdateInTx(_ context.Context, tx pgx.Tx, acc *account.Account) error {
	asMemTx(tx).accounts[acc.ID] = *acc
	return nil
}

func (r memEbooks) Save(_ context.Context, book *catalog.Ebook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ebooks[book.ID] = *book
	return nil
}

func (r memEbooks) FindByID(_ context.Context, id uuid.UUID) (*catalog.Ebook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	book, ok := r.s.ebooks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &book, nil
}

func (r memEbooks) FindByTitleAndAuthor(_ context.Context, title, author string) (*catalog.Ebook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, book := range r.s.ebooks {
		if book.Title == title && book.Author == author {
			return &book, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r memEbooks) FindByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*catalog.Ebook, error) {
	return r.FindByID(ctx, id)
}

func (r memEbooks) UpdateInTx(_ context.Context, tx pgx.Tx, book *catalog.Ebook) error {
	asMemTx(tx).ebooks[book.ID] = *book
	return nil
}

type recordedNotice struct {
	LoanID uuid.UUID
	Kind   loan.NoticeKind
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, l *loan.Loan, kind loan.NoticeKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, recordedNotice{LoanID: l.ID, Kind: kind})
	return nil
}

func (n *recordingNotifier) count(kind loan.NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			total++
		}
	}
	return total
}

type memMarker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemMarker() *memMarker {
	return &memMarker{seen: make(map[string]bool)}
}

func markerKey(loanID uuid.UUID, target time.Time) string {
	return loanID.String() + ":" + target.Format(time.DateOnly)
}

func (m *memMarker) MarkReminder(_ context.Context, loanID uuid.UUID, target time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := markerKey(loanID, target)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memMarker) ClearReminder(_ context.Context, loanID uuid.UUID, target time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, markerKey(loanID, target))
	return nil
}
