package notice

import (
	"ebook-lending/internal/domain/loan"
	"time"

	"github.com/google/uuid"
)

// Notice is the stored record of one message generated for a loan.
type Notice struct {
	ID         uuid.UUID       `json:"id"`
	LoanID     uuid.UUID       `json:"loanId"`
	AccountID  uuid.UUID       `json:"accountId"`
	Recipient  string          `json:"recipient"`
	Kind       loan.NoticeKind `json:"kind"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	TargetDate time.Time       `json:"targetDate"`
	SentAt     time.Time       `json:"sentAt"`
}
