package handler

import (
	"context"
	"ebook-lending/internal/api/handler/dto"
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/domain/notice"
	"ebook-lending/internal/pkg/apperrors"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NoticeLister reads the notices recorded for a loan.
type NoticeLister interface {
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*notice.Notice, error)
}

type LoanHandler struct {
	engine  loan.Engine
	notices NoticeLister
	logger  *slog.Logger
}

func NewLoanHandler(engine loan.Engine, notices NoticeLister, l *slog.Logger) *LoanHandler {
	if engine == nil {
		panic("loan engine cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &LoanHandler{
		engine:  engine,
		notices: notices,
		logger:  l.With("component", "LoanHandler"),
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, err error) {
	status, message, field, code := http.StatusInternalServerError, "An unexpected error occurred.", "", ""
	var validationError *apperrors.ValidationError
	var fundsError *apperrors.InsufficientFundsError

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, message, code = http.StatusNotFound, err.Error(), "NOT_FOUND"
	case errors.As(err, &validationError):
		status, message, field, code = http.StatusBadRequest, validationError.Message, validationError.Field, "VALIDATION_FAILED"
	case errors.As(err, &fundsError):
		status, message, code = http.StatusBadRequest, fundsError.Error(), "INSUFFICIENT_FUNDS"
	case errors.Is(err, apperrors.ErrLoanLimitExceeded):
		status, message, code = http.StatusBadRequest, err.Error(), "LOAN_LIMIT_EXCEEDED"
	case errors.Is(err, apperrors.ErrOutOfStock):
		status, message, code = http.StatusBadRequest, err.Error(), "OUT_OF_STOCK"
	case errors.Is(err, apperrors.ErrInvalidArgument), errors.Is(err, apperrors.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrNotLoggedIn):
		status, message, code = http.StatusUnauthorized, err.Error(), "NOT_LOGGED_IN"
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, message = http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, apperrors.ErrInvalidState), errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrAlreadyExists):
		status, message, code = http.StatusConflict, err.Error(), "CONFLICT"
	default:
		slog.Default().Error("Unhandled internal error", "error", err)
	}

	resp := dto.ErrorResponse{
		Error: dto.ErrorDetail{
			Code:    code,
			Message: message,
			Field:   field,
		},
	}
	respondJSON(w, status, resp)
}

func parseUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s format: %s", apperrors.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

func getLoanIDFromURL(r *http.Request) (uuid.UUID, error) {
	idStr := chi.URLParam(r, "loanID")
	if idStr == "" {
		return uuid.Nil, fmt.Errorf("%w: loanID not found in URL path", apperrors.ErrInvalidArgument)
	}
	return parseUUID(idStr, "loanID")
}

// logLevelFor keeps expected business rejections out of the error log.
func logLevelFor(err error) slog.Level {
	switch {
	case errors.Is(err, apperrors.ErrDatabase), errors.Is(err, apperrors.ErrInternalServer):
		return slog.LevelError
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrInvalidArgument),
		errors.Is(err, apperrors.ErrNotLoggedIn),
		errors.Is(err, apperrors.ErrLoanLimitExceeded),
		errors.Is(err, apperrors.ErrOutOfStock),
		errors.Is(err, apperrors.ErrInsufficientFunds),
		errors.Is(err, apperrors.ErrInvalidState):
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// CreateLoan handles POST /loans
// @Summary Borrow an e-book
// @Description Creates an ACTIVE loan for a logged-in account. Decrements the e-book stock, increments the account's active loan count and charges the e-book price.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.CreateLoanRequest true "Loan creation request payload"
// @Success 201 {object} dto.LoanResponse "Loan successfully created"
// @Failure 400 {object} dto.ErrorResponse "Invalid payload, loan limit reached, out of stock or insufficient funds"
// @Failure 401 {object} dto.ErrorResponse "Account is not logged in"
// @Failure 404 {object} dto.ErrorResponse "Account or e-book not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [post]
// @Security BearerAuth
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(r.Context(), "Create loan request failed validation", slog.Any("error", err))
		respondError(w, err)
		return
	}

	accountID, _ := uuid.Parse(req.AccountID)
	ebookID, _ := uuid.Parse(req.EbookID)

	created, err := h.engine.CreateLoan(r.Context(), accountID, ebookID)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Engine failed to create loan", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Loan created", slog.String("loanID", created.ID.String()))
	respondJSON(w, http.StatusCreated, dto.NewLoanResponse(created))
}

// GetLoan handles GET /loans/{loanID}
// @Summary Retrieve loan details
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {object} dto.LoanResponse "Loan details"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID} [get]
// @Security BearerAuth
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}

	found, err := h.engine.GetLoan(r.Context(), loanID)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Engine failed to get loan", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewLoanResponse(found))
}

// ListLoans handles GET /loans
// @Summary List loans
// @Description Lists loans, optionally narrowed by account, e-book and status.
// @Tags Loans
// @Produce json
// @Param accountId query string false "Account ID (UUID)"
// @Param ebookId query string false "E-book ID (UUID)"
// @Param status query string false "ACTIVE or TERMINATED"
// @Success 200 {array} dto.LoanResponse "Matching loans"
// @Failure 400 {object} dto.ErrorResponse "Invalid query parameter"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [get]
// @Security BearerAuth
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter loan.Filter

	if raw := query.Get("accountId"); raw != "" {
		id, err := parseUUID(raw, "accountId")
		if err != nil {
			respondError(w, err)
			return
		}
		filter.AccountID = id
	}
	if raw := query.Get("ebookId"); raw != "" {
		id, err := parseUUID(raw, "ebookId")
		if err != nil {
			respondError(w, err)
			return
		}
		filter.EbookID = id
	}
	filter.Status = loan.LoanStatus(query.Get("status"))

	loans, err := h.engine.FindLoans(r.Context(), filter)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Engine failed to list loans", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.DebugContext(r.Context(), "Loans listed", slog.Int("count", len(loans)))
	respondJSON(w, http.StatusOK, dto.NewLoanListResponse(loans))
}

// UpdateLoan handles PATCH /loans/{loanID}
// @Summary Terminate a loan
// @Description Terminates an ACTIVE loan today. The e-book copy is returned to stock; the price is not refunded.
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Param request body dto.UpdateLoanRequest true "Target status (only TERMINATED is supported)"
// @Success 200 {object} dto.LoanResponse "Loan terminated"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or payload"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Loan is already terminated"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID} [patch]
// @Security BearerAuth
func (h *LoanHandler) UpdateLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.UpdateLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, err)
		return
	}

	terminated, err := h.engine.TerminateLoanByID(r.Context(), loanID)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Engine failed to terminate loan", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Loan terminated", slog.String("loanID", terminated.ID.String()))
	respondJSON(w, http.StatusOK, dto.NewLoanResponse(terminated))
}

// ListLoanNotices handles GET /loans/{loanID}/notices
// @Summary List notices sent for a loan
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {array} dto.NoticeResponse "Notices in the order they were sent"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/notices [get]
// @Security BearerAuth
func (h *LoanHandler) ListLoanNotices(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if h.notices == nil {
		respondError(w, fmt.Errorf("%w: notice store is not configured", apperrors.ErrInternalServer))
		return
	}

	if _, err := h.engine.GetLoan(r.Context(), loanID); err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Engine failed to get loan", slog.Any("error", err))
		respondError(w, err)
		return
	}

	notices, err := h.notices.ListByLoan(r.Context(), loanID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list loan notices", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewNoticeListResponse(notices))
}
