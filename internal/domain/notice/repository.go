package notice

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Save(ctx context.Context, n *Notice) error

	FindByLoanID(ctx context.Context, loanID uuid.UUID) ([]*Notice, error)
}
