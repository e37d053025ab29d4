package apperrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("resource not found")

	ErrInvalidArgument = errors.New("invalid argument")

	ErrValidation = errors.New("validation failed")

	ErrAlreadyExists = errors.New("resource already exists")

	ErrDatabase = errors.New("database error")

	ErrInternalServer = errors.New("internal server error")

	ErrUnauthorized = errors.New("unauthorized")

	ErrForbidden = errors.New("forbidden")

	ErrConflict = errors.New("resource conflict")

	ErrNotLoggedIn = errors.New("account is not logged in")

	ErrLoanLimitExceeded = errors.New("maximum number of active loans reached")

	ErrOutOfStock = errors.New("ebook is out of stock")

	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrInvalidState = errors.New("invalid loan state")
)

type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func NewValidationError(field, message string) error {

	return fmt.Errorf("%w: %w", ErrValidation, &ValidationError{Field: field, Message: message})
}

// InsufficientFundsError reports how much the account is short of the ebook price.
type InsufficientFundsError struct {
	Shortfall      decimal.Decimal
	CurrencySymbol string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: please add %s%s to your account", ErrInsufficientFunds.Error(), e.CurrencySymbol, e.Shortfall.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

func NewInsufficientFundsError(shortfall decimal.Decimal, currencySymbol string) error {
	return &InsufficientFundsError{Shortfall: shortfall, CurrencySymbol: currencySymbol}
}

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func WrapDatabaseError(cause error, message string) error {
	return &AppError{
		Code:    "DB_ERROR",
		Message: message,
		Cause:   fmt.Errorf("%w: %w", ErrDatabase, cause),
	}
}
