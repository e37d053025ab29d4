package catalog

import (
	"ebook-lending/internal/pkg/apperrors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Ebook struct {
	ID                uuid.UUID       `json:"id"`
	Title             string          `json:"title"`
	Author            string          `json:"author"`
	Category          string          `json:"category"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	MaxLoanDuration   int             `json:"maxLoanDuration"`
	QuantityAvailable int             `json:"quantityAvailable"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func NewEbook(title, author string, price decimal.Decimal, maxLoanDuration, quantity int) (*Ebook, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price cannot be negative", apperrors.ErrInvalidArgument)
	}
	if maxLoanDuration < 0 {
		return nil, fmt.Errorf("%w: max loan duration cannot be negative", apperrors.ErrInvalidArgument)
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity cannot be negative", apperrors.ErrInvalidArgument)
	}
	now := time.Now()
	return &Ebook{
		Title:             title,
		Author:            author,
		Price:             price,
		MaxLoanDuration:   maxLoanDuration,
		QuantityAvailable: quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (e *Ebook) InStock() bool {
	return e.QuantityAvailable > 0
}

// CheckOut takes one copy out of circulation.
func (e *Ebook) CheckOut() error {
	if !e.InStock() {
		return fmt.Errorf("%w: '%s' has no copies available", apperrors.ErrOutOfStock, e.Title)
	}
	e.QuantityAvailable--
	e.UpdatedAt = time.Now()
	return nil
}

func (e *Ebook) Return() {
	e.QuantityAvailable++
	e.UpdatedAt = time.Now()
}
