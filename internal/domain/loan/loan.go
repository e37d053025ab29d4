package loan

import (
	"ebook-lending/internal/pkg/apperrors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	StatusActive     LoanStatus = "ACTIVE"
	StatusTerminated LoanStatus = "TERMINATED"
)

func (s LoanStatus) Valid() bool {
	return s == StatusActive || s == StatusTerminated
}

type NoticeKind string

const (
	NoticeConfirmation NoticeKind = "confirmation"
	NoticeCancellation NoticeKind = "cancellation"
	NoticeReminder     NoticeKind = "reminder"
)

type Loan struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	EbookID   uuid.UUID
	StartDate time.Time
	EndDate   time.Time
	Status    LoanStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateOf truncates t to its calendar day, expressed as midnight UTC so it
// round-trips through a DATE column unchanged.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func NewLoan(accountID, ebookID uuid.UUID, startDate time.Time, durationDays int) (*Loan, error) {
	if accountID == uuid.Nil || ebookID == uuid.Nil {
		return nil, fmt.Errorf("%w: loan requires an account and an ebook", apperrors.ErrInvalidArgument)
	}
	if durationDays < 0 {
		return nil, fmt.Errorf("%w: loan duration cannot be negative", apperrors.ErrInvalidArgument)
	}
	if startDate.IsZero() {
		startDate = time.Now()
	}

	start := DateOf(startDate)
	now := time.Now()
	return &Loan{
		ID:        uuid.New(),
		AccountID: accountID,
		EbookID:   ebookID,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, durationDays),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (l *Loan) IsActive() bool {
	return l.Status == StatusActive
}

// Terminate ends the loan on the given day, which becomes the final end date.
func (l *Loan) Terminate(on time.Time) error {
	if !l.IsActive() {
		return fmt.Errorf("%w: loan %s is already %s", apperrors.ErrInvalidState, l.ID, l.Status)
	}
	end := DateOf(on)
	if end.Before(l.StartDate) {
		end = l.StartDate
	}
	l.Status = StatusTerminated
	l.EndDate = end
	l.UpdatedAt = time.Now()
	return nil
}

// DurationDays is the number of days between start and end dates.
func (l *Loan) DurationDays() int {
	return int(DateOf(l.EndDate).Sub(DateOf(l.StartDate)).Hours() / 24)
}
