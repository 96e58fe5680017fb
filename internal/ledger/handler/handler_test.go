package handler

//go:generate mockgen -source=handler.go -destination=mocks/ledger-mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"arbiter/internal/gate"
	"arbiter/internal/ledger/handler/mocks"
	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	"arbiter/internal/platform/middleware"
	dErrors "arbiter/pkg/domain-errors"
)

type LedgerHandlerSuite struct {
	suite.Suite
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func newTestHandler(t *testing.T) (http.Handler, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(mockService, logger)
	r := chi.NewRouter()
	h.Register(r)
	return r, mockService
}

func sampleRecord() *models.AuditRecord {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return &models.AuditRecord{
		AuditID:         7,
		EventID:         uuid.New(),
		DecisionID:      uuid.New(),
		EntityType:      "invoice",
		EntityID:        42,
		Action:          "approve_payment",
		Confidence:      0.75,
		Rationale:       "vendor and amount match an open purchase order",
		Verdict:         string(gate.VerdictNeedsApproval),
		RuleID:          uuid.New(),
		ThresholdAuto:   0.9,
		ThresholdReview: 0.6,
		Status:          models.StatusPending,
		CreatedAt:       now,
	}
}

// assertErrorResponse unmarshals the response body and asserts the error code.
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, expectedCode, resp["error"])
}

func (s *LedgerHandlerSuite) TestHandleGetAuditRecord() {
	s.T().Run("200 - existing record", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		rec := sampleRecord()
		mockService.EXPECT().Get(gomock.Any(), rec.AuditID).Return(rec, nil)

		req := httptest.NewRequest(http.MethodGet, "/audit/7", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp AuditRecordResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, rec.AuditID, resp.AuditID)
		assert.Equal(t, rec.EventID.String(), resp.EventID)
		assert.Equal(t, "pending", resp.Status)
	})

	s.T().Run("400 - malformed id", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/audit/seven", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.T().Run("404 - unknown record", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Get(gomock.Any(), int64(404)).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "audit record not found"))

		req := httptest.NewRequest(http.MethodGet, "/audit/404", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assertErrorResponse(t, w, "not_found")
	})
}

func (s *LedgerHandlerSuite) TestHandleListAuditRecords() {
	s.T().Run("200 - filters forwarded", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, filter store.Filter, page store.Page) ([]*models.AuditRecord, int64, error) {
				assert.Equal(t, models.StatusPending, filter.Status)
				assert.Equal(t, "invoice", filter.EntityType)
				assert.Equal(t, 2, page.Page)
				assert.Equal(t, 10, page.Limit)
				return []*models.AuditRecord{sampleRecord()}, 11, nil
			})

		req := httptest.NewRequest(http.MethodGet, "/audit?status=pending&entity_type=invoice&page=2&limit=10", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp AuditListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Records, 1)
		assert.Equal(t, int64(11), resp.Total)
		assert.Equal(t, 2, resp.Page)
		assert.Equal(t, 10, resp.Limit)
	})

	s.T().Run("200 - time window forwarded", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
		mockService.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, filter store.Filter, page store.Page) ([]*models.AuditRecord, int64, error) {
				assert.True(t, filter.From.Equal(from))
				assert.True(t, filter.To.Equal(to))
				return nil, 0, nil
			})

		req := httptest.NewRequest(http.MethodGet,
			"/audit?from=2026-05-01T00:00:00Z&to=2026-05-02T00:00:00Z", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	s.T().Run("400 - unknown status", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/audit?status=sideways", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.T().Run("400 - negative page", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/audit?page=-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.T().Run("400 - malformed from timestamp", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/audit?from=yesterday", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func (s *LedgerHandlerSuite) TestHandleResolveAuditRecord() {
	s.T().Run("200 - approval with explicit resolver", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		rec := sampleRecord()
		rec.Status = models.StatusExecuted
		mockService.EXPECT().Resolve(gomock.Any(), int64(7), true, "ops@arbiter.dev").Return(rec, nil)

		body := `{"approved":true,"resolved_by":"ops@arbiter.dev"}`
		req := httptest.NewRequest(http.MethodPost, "/audit/7/resolve", bytes.NewReader([]byte(body)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp AuditRecordResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "executed", resp.Status)
	})

	s.T().Run("200 - resolver defaults to authenticated operator", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)
		mockService := mocks.NewMockService(ctrl)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		rec := sampleRecord()
		rec.Status = models.StatusRejected
		mockService.EXPECT().Resolve(gomock.Any(), int64(7), false, "ops@arbiter.dev").Return(rec, nil)

		router := chi.NewRouter()
		router.Use(middleware.RequireOperator(stubVerifier{subject: "ops@arbiter.dev"}, logger))
		New(mockService, logger).Register(router)

		req := httptest.NewRequest(http.MethodPost, "/audit/7/resolve", bytes.NewReader([]byte(`{"approved":false}`)))
		req.Header.Set("Authorization", "Bearer operator-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	s.T().Run("400 - approved omitted", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/audit/7/resolve", bytes.NewReader([]byte(`{"resolved_by":"ops"}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assertErrorResponse(t, w, "validation_failed")
	})

	s.T().Run("400 - no resolver available", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/audit/7/resolve", bytes.NewReader([]byte(`{"approved":true}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	s.T().Run("409 - already resolved", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Resolve(gomock.Any(), int64(7), true, "ops@arbiter.dev").
			Return(nil, dErrors.New(dErrors.CodeAlreadyResolved, "audit record already rejected"))

		body := `{"approved":true,"resolved_by":"ops@arbiter.dev"}`
		req := httptest.NewRequest(http.MethodPost, "/audit/7/resolve", bytes.NewReader([]byte(body)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assertErrorResponse(t, w, "already_resolved")
	})
}

type stubVerifier struct {
	subject string
}

func (v stubVerifier) VerifyOperator(string) (*middleware.OperatorClaims, error) {
	return &middleware.OperatorClaims{Subject: v.subject, Role: "approver"}, nil
}
