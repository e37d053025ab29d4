package dto

import (
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/domain/notice"
	"ebook-lending/internal/pkg/apperrors"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type CreateLoanRequest struct {
	AccountID string `json:"accountId" validate:"required,uuid"`
	EbookID   string `json:"ebookId" validate:"required,uuid"`
}

func (r *CreateLoanRequest) Validate() error {
	return validationError(validate.Struct(r))
}

// UpdateLoanRequest only supports moving a loan to TERMINATED.
type UpdateLoanRequest struct {
	Status string `json:"status" validate:"required,oneof=TERMINATED"`
}

func (r *UpdateLoanRequest) Validate() error {
	return validationError(validate.Struct(r))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			return apperrors.NewValidationError(field, "is required")
		case "uuid":
			return apperrors.NewValidationError(field, "must be a valid UUID")
		case "oneof":
			return apperrors.NewValidationError(field, "must be one of: "+fe.Param())
		default:
			return apperrors.NewValidationError(field, "failed on '"+fe.Tag()+"' rule")
		}
	}
	return apperrors.NewValidationError("", err.Error())
}

type LoanResponse struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	EbookID      string    `json:"ebookId"`
	StartDate    string    `json:"startDate"`
	EndDate      string    `json:"endDate"`
	DurationDays int       `json:"durationDays"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewLoanResponse(l *loan.Loan) LoanResponse {
	return LoanResponse{
		ID:           l.ID.String(),
		AccountID:    l.AccountID.String(),
		EbookID:      l.EbookID.String(),
		StartDate:    l.StartDate.Format(time.DateOnly),
		EndDate:      l.EndDate.Format(time.DateOnly),
		DurationDays: l.DurationDays(),
		Status:       string(l.Status),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

func NewLoanListResponse(loans []*loan.Loan) []LoanResponse {
	resp := make([]LoanResponse, len(loans))
	for i, l := range loans {
		resp[i] = NewLoanResponse(l)
	}
	return resp
}

type NoticeResponse struct {
	ID         string    `json:"id"`
	LoanID     string    `json:"loanId"`
	Recipient  string    `json:"recipient"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	TargetDate string    `json:"targetDate"`
	SentAt     time.Time `json:"sentAt"`
}

func NewNoticeListResponse(notices []*notice.Notice) []NoticeResponse {
	resp := make([]NoticeResponse, len(notices))
	for i, n := range notices {
		resp[i] = NoticeResponse{
			ID:         n.ID.String(),
			LoanID:     n.LoanID.String(),
			Recipient:  n.Recipient,
			Kind:       string(n.Kind),
			Subject:    n.Subject,
			Body:       n.Body,
			TargetDate: n.TargetDate.Format(time.DateOnly),
			SentAt:     n.SentAt,
		}
	}
	return resp
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type TokenRequest struct {
	Username string `json:"username" validate:"required"`
}

func (r *TokenRequest) Validate() error {
	return validationError(validate.Struct(r))
}
