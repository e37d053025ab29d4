package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Save(ctx context.Context, ebook *Ebook) error

	FindByID(ctx context.Context, ebookID uuid.UUID) (*Ebook, error)

	FindByTitleAndAuthor(ctx context.Context, title, author string) (*Ebook, error)

	FindByIDForUpdate(ctx context.Context, tx pgx.Tx, ebookID uuid.UUID) (*Ebook, error)

	UpdateInTx(ctx context.Context, tx pgx.Tx, ebook *Ebook) error
}
