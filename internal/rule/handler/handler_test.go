package handler

//go:generate mockgen -source=handler.go -destination=mocks/rule-mocks.go -package=mocks Service

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

	"arbiter/internal/rule/handler/mocks"
	"arbiter/internal/rule/models"
	dErrors "arbiter/pkg/domain-errors"
)

type RuleHandlerSuite struct {
	suite.Suite
}

func TestRuleHandlerSuite(t *testing.T) {
	suite.Run(t, new(RuleHandlerSuite))
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

func sampleRule() *models.AutomationRule {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return &models.AutomationRule{
		RuleID:          uuid.New(),
		EntityType:      "invoice",
		ActionName:      "approve_payment",
		Enabled:         true,
		ThresholdAuto:   0.9,
		ThresholdReview: 0.6,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// assertErrorResponse unmarshals the response body and asserts the error code.
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, expectedCode, resp["error"])
}

func (s *RuleHandlerSuite) TestHandleCreateRule() {
	s.T().Run("201 - valid rule", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		created := sampleRule()
		mockService.EXPECT().Create(gomock.Any(), gomock.Any()).Return(created, nil)

		body := `{"entity_type":"invoice","action_name":"approve_payment","threshold_auto":0.9,"threshold_review":0.6}`
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp RuleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, created.RuleID.String(), resp.RuleID)
		assert.Equal(t, "invoice", resp.EntityType)
		assert.True(t, resp.Enabled)
	})

	s.T().Run("400 - invalid JSON", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader([]byte("not json")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	s.T().Run("400 - missing entity_type", func(t *testing.T) {
		router, _ := newTestHandler(t)

		body := `{"action_name":"approve_payment","threshold_auto":0.9,"threshold_review":0.6}`
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assertErrorResponse(t, rec, "validation_failed")
	})

	s.T().Run("409 - duplicate pair", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "rule already exists for invoice/approve_payment"))

		body := `{"entity_type":"invoice","action_name":"approve_payment","threshold_auto":0.9,"threshold_review":0.6}`
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func (s *RuleHandlerSuite) TestHandleGetRule() {
	s.T().Run("200 - existing rule", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		rule := sampleRule()
		mockService.EXPECT().Get(gomock.Any(), rule.RuleID).Return(rule, nil)

		req := httptest.NewRequest(http.MethodGet, "/rules/"+rule.RuleID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp RuleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, rule.RuleID.String(), resp.RuleID)
	})

	s.T().Run("400 - malformed id", func(t *testing.T) {
		router, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/rules/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	s.T().Run("404 - unknown rule", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		ruleID := uuid.New()
		mockService.EXPECT().Get(gomock.Any(), ruleID).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "rule not found"))

		req := httptest.NewRequest(http.MethodGet, "/rules/"+ruleID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assertErrorResponse(t, rec, "not_found")
	})
}

func (s *RuleHandlerSuite) TestHandleListRules() {
	router, mockService := newTestHandler(s.T())
	mockService.EXPECT().List(gomock.Any()).Return([]*models.AutomationRule{sampleRule()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	var resp RuleListResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Len(resp.Rules, 1)
}

func (s *RuleHandlerSuite) TestHandleUpdateRule() {
	s.T().Run("200 - pins rule id from URL", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		rule := sampleRule()
		mockService.EXPECT().Update(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, got *models.AutomationRule) (*models.AutomationRule, error) {
				assert.Equal(t, rule.RuleID, got.RuleID)
				assert.False(t, got.Enabled)
				return rule, nil
			})

		body := `{"entity_type":"invoice","action_name":"approve_payment","enabled":false,"threshold_auto":0.9,"threshold_review":0.6}`
		req := httptest.NewRequest(http.MethodPut, "/rules/"+rule.RuleID.String(), bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	s.T().Run("404 - unknown rule", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Update(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "rule not found"))

		body := `{"entity_type":"invoice","action_name":"approve_payment","threshold_auto":0.9,"threshold_review":0.6}`
		req := httptest.NewRequest(http.MethodPut, "/rules/"+uuid.New().String(), bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func (s *RuleHandlerSuite) TestHandleDeleteRule() {
	s.T().Run("204 - deleted", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		ruleID := uuid.New()
		mockService.EXPECT().Delete(gomock.Any(), ruleID).Return(nil)

		req := httptest.NewRequest(http.MethodDelete, "/rules/"+ruleID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	s.T().Run("404 - unknown rule", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		ruleID := uuid.New()
		mockService.EXPECT().Delete(gomock.Any(), ruleID).
			Return(dErrors.New(dErrors.CodeNotFound, "rule not found"))

		req := httptest.NewRequest(http.MethodDelete, "/rules/"+ruleID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
