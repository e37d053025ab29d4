package dto

import (
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/domain/notice"
	"ebook-lending/internal/pkg/apperrors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLoanRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       CreateLoanRequest
		wantField string
	}{
		{"valid", CreateLoanRequest{AccountID: uuid.NewString(), EbookID: uuid.NewString()}, ""},
		{"missing account", CreateLoanRequest{EbookID: uuid.NewString()}, "accountId"},
		{"bad ebook id", CreateLoanRequest{AccountID: uuid.NewString(), EbookID: "42"}, "ebookId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			var vErr *apperrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestUpdateLoanRequest_Validate(t *testing.T) {
	assert.NoError(t, (&UpdateLoanRequest{Status: "TERMINATED"}).Validate())

	err := (&UpdateLoanRequest{Status: "ACTIVE"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of: TERMINATED")

	assert.ErrorIs(t, (&UpdateLoanRequest{}).Validate(), apperrors.ErrValidation)
}

func TestTokenRequest_Validate(t *testing.T) {
	assert.NoError(t, (&TokenRequest{Username: "reader"}).Validate())
	assert.ErrorIs(t, (&TokenRequest{}).Validate(), apperrors.ErrValidation)
}

func TestNewLoanResponse(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l := &loan.Loan{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		EbookID:   uuid.New(),
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 14),
		Status:    loan.StatusActive,
	}

	resp := NewLoanResponse(l)

	assert.Equal(t, l.ID.String(), resp.ID)
	assert.Equal(t, "2025-03-01", resp.StartDate)
	assert.Equal(t, "2025-03-15", resp.EndDate)
	assert.Equal(t, 14, resp.DurationDays)
	assert.Equal(t, "ACTIVE", resp.Status)
	assert.Len(t, NewLoanListResponse([]*loan.Loan{l, l}), 2)
	assert.Empty(t, NewLoanListResponse(nil))
}

func TestNewNoticeListResponse(t *testing.T) {
	n := &notice.Notice{
		ID:         uuid.New(),
		LoanID:     uuid.New(),
		Recipient:  "reader@example.com",
		Kind:       loan.NoticeReminder,
		Subject:    "Reminder of your eBook loan coming to an end soon",
		TargetDate: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
	}

	resp := NewNoticeListResponse([]*notice.Notice{n})

	require.Len(t, resp, 1)
	assert.Equal(t, "reminder", resp[0].Kind)
	assert.Equal(t, "2025-03-11", resp[0].TargetDate)
	assert.Equal(t, n.Recipient, resp[0].Recipient)
}
