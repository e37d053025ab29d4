package postgres

import (
	"context"
	"ebook-lending/internal/domain/catalog"
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
	ebookColumns = `id, title, author, category, description, price, max_loan_duration, quantity_available, created_at, updated_at`

	queryInsertEbook = `
        INSERT INTO ebooks (id, title, author, category, description, price, max_loan_duration, quantity_available, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        RETURNING created_at, updated_at`

	queryUpdateEbook = `
        UPDATE ebooks
        SET title = $1,
            author = $2,
            category = $3,
            description = $4,
            price = $5,
            max_loan_duration = $6,
            quantity_available = $7,
            updated_at = NOW()
        WHERE id = $8`

	queryFindEbookByID = `SELECT ` + ebookColumns + ` FROM ebooks WHERE id = $1`

	queryFindEbookByTitleAndAuthor = `SELECT ` + ebookColumns + ` FROM ebooks WHERE title = $1 AND author = $2`

	queryLockEbook = `SELECT ` + ebookColumns + ` FROM ebooks WHERE id = $1 FOR UPDATE`
)

type EbookRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ catalog.Repository = (*EbookRepository)(nil)

func NewEbookRepository(db DBPool, logger *slog.Logger) *EbookRepository {
	if db == nil {
		panic("DBPool cannot be nil for EbookRepository")
	}
	return &EbookRepository{db: db, logger: componentLogger(logger, "EbookRepository")}
}

func (r *EbookRepository) Save(ctx context.Context, book *catalog.Ebook) error {
	if book == nil {
		return fmt.Errorf("%w: ebook cannot be nil", apperrors.ErrInvalidArgument)
	}
	if book.ID != uuid.Nil {
		return r.update(ctx, r.db, book, "UpdateEbook")
	}

	r.logger.InfoContext(ctx, "Attempting to insert new ebook", slog.String("title", book.Title), slog.String("author", book.Author))
	startTime := time.Now()
	book.ID = uuid.New()
	err := r.db.QueryRow(ctx, queryInsertEbook,
		book.ID, book.Title, book.Author, book.Category, book.Description,
		book.Price, book.MaxLoanDuration, book.QuantityAvailable,
	).Scan(&book.CreatedAt, &book.UpdatedAt)
	monitoring.RecordDBQuery("InsertEbook", outcome(err), time.Since(startTime))

	if err != nil {
		book.ID = uuid.Nil
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			r.logger.WarnContext(ctx, "Ebook with this title and author already exists", slog.String("title", book.Title))
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to insert ebook", slog.Any("error", err))
		return fmt.Errorf("%w: failed to insert ebook: %w", apperrors.ErrDatabase, err)
	}

	r.logger.InfoContext(ctx, "Ebook inserted successfully", slog.String("ebookID", book.ID.String()))
	return nil
}

func (r *EbookRepository) UpdateInTx(ctx context.Context, tx pgx.Tx, book *catalog.Ebook) error {
	return r.update(ctx, tx, book, "UpdateEbookInTx")
}

func (r *EbookRepository) update(ctx context.Context, db execer, book *catalog.Ebook, queryName string) error {
	startTime := time.Now()
	cmdTag, err := db.Exec(ctx, queryUpdateEbook,
		book.Title, book.Author, book.Category, book.Description,
		book.Price, book.MaxLoanDuration, book.QuantityAvailable, book.ID,
	)
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))

	if err != nil {
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrConflict) || errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to update ebook", slog.String("ebookID", book.ID.String()), slog.Any("error", err))
		return fmt.Errorf("%w: failed to update ebook: %w", apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Update affected zero rows, ebook likely not found", slog.String("ebookID", book.ID.String()))
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *EbookRepository) FindByID(ctx context.Context, ebookID uuid.UUID) (*catalog.Ebook, error) {
	return r.findOne(ctx, r.db, "FindEbookByID", queryFindEbookByID, ebookID)
}

func (r *EbookRepository) FindByTitleAndAuthor(ctx context.Context, title, author string) (*catalog.Ebook, error) {
	return r.findOne(ctx, r.db, "FindEbookByTitleAndAuthor", queryFindEbookByTitleAndAuthor, title, author)
}

func (r *EbookRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, ebookID uuid.UUID) (*catalog.Ebook, error) {
	return r.findOne(ctx, tx, "LockEbook", queryLockEbook, ebookID)
}

func (r *EbookRepository) findOne(ctx context.Context, db rowQuerier, queryName, query string, args ...any) (*catalog.Ebook, error) {
	startTime := time.Now()
	var book catalog.Ebook
	err := db.QueryRow(ctx, query, args...).Scan(
		&book.ID, &book.Title, &book.Author, &book.Category, &book.Description,
		&book.Price, &book.MaxLoanDuration, &book.QuantityAvailable, &book.CreatedAt, &book.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		monitoring.RecordDBQuery(queryName, statusSuccess, time.Since(startTime))
		r.logger.WarnContext(ctx, "Ebook not found", slog.String("query", queryName))
		return nil, apperrors.ErrNotFound
	}
	monitoring.RecordDBQuery(queryName, outcome(err), time.Since(startTime))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query ebook", slog.String("query", queryName), slog.Any("error", err))
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return &book, nil
}
