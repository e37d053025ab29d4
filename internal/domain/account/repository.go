package account

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Save(ctx context.Context, acc *Account) error

	FindByID(ctx context.Context, accountID uuid.UUID) (*Account, error)

	FindByEmail(ctx context.Context, email string) (*Account, error)

	FindByIDForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*Account, error)

	UpdateInTx(ctx context.Context, tx pgx.Tx, acc *Account) error
}
