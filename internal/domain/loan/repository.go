package loan

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Save(ctx context.Context, loan *Loan) error

	CreateInTx(ctx context.Context, tx pgx.Tx, loan *Loan) error

	UpdateInTx(ctx context.Context, tx pgx.Tx, loan *Loan) error

	FindByIDForUpdate(ctx context.Context, tx pgx.Tx, loanID uuid.UUID) (*Loan, error)

	FindByID(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	FindAll(ctx context.Context) ([]*Loan, error)

	FindByEbook(ctx context.Context, ebookID uuid.UUID) ([]*Loan, error)

	FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*Loan, error)

	FindByEbookAndAccount(ctx context.Context, ebookID, accountID uuid.UUID) ([]*Loan, error)

	FindByStatus(ctx context.Context, status LoanStatus) ([]*Loan, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}
