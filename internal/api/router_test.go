package api

import (
	"bytes"
	"context"
	"ebook-lending/internal/config"
	"ebook-lending/internal/domain/loan"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine satisfies loan.Engine for routing tests; only FindLoans is reachable.
type stubEngine struct {
	loan.Engine
	calls int
}

func (s *stubEngine) FindLoans(context.Context, loan.Filter) ([]*loan.Loan, error) {
	s.calls++
	return []*loan.Loan{}, nil
}

func newTestRouter(t *testing.T, engine loan.Engine) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Auth: config.AuthConfig{Enabled: true, JWTSecret: "router-secret"},
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return SetupRouter(ctx, engine, nil, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(t, &stubEngine{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/swagger/index.html", rec.Header().Get("Location"))
}

func TestRouter_LoansRequireToken(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, engine.calls)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewBufferString(`{"username":"reader"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var tokenResp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tokenResp))
	require.True(t, strings.HasPrefix(tokenResp["token"], "Bearer "))

	req := httptest.NewRequest(http.MethodGet, "/loans", nil)
	req.Header.Set("Authorization", tokenResp["token"])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, engine.calls)
}

func TestRouter_InvalidLoanID(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Auth: config.AuthConfig{Enabled: false}}}
	router := SetupRouter(context.Background(), &stubEngine{}, nil, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/loans/"+uuid.NewString(), bytes.NewBufferString(`{"status":"ACTIVE"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
