package handler

//go:generate mockgen -source=handler.go -destination=mocks/ingress-mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"arbiter/internal/ingress"
	"arbiter/internal/ingress/handler/mocks"
	dErrors "arbiter/pkg/domain-errors"
)

type IngressHandlerSuite struct {
	suite.Suite
}

func TestIngressHandlerSuite(t *testing.T) {
	suite.Run(t, new(IngressHandlerSuite))
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

const sampleEvent = `{"entity_type":"invoice","entity_id":1001,"operation":"created","payload":{"amount":420.5}}`

func postEvent(router http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(body)))
	if signature != "" {
		req.Header.Set(ingress.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func (s *IngressHandlerSuite) TestHandleIngestEvent() {
	s.T().Run("202 - new event", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		eventID := uuid.New()
		mockService.EXPECT().Ingest(gomock.Any(), gomock.Any(), "aabbcc", gomock.Any()).
			DoAndReturn(func(_ any, rawBody []byte, _, _ string) (*ingress.Result, error) {
				// The handler must hand the service the exact wire bytes.
				assert.Equal(t, sampleEvent, string(rawBody))
				return &ingress.Result{EventID: eventID, Accepted: true}, nil
			})

		rec := postEvent(router, sampleEvent, "aabbcc")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		var resp EventResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, eventID.String(), resp.EventID)
		assert.True(t, resp.Accepted)
	})

	s.T().Run("200 - duplicate delivery", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		eventID := uuid.New()
		mockService.EXPECT().Ingest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&ingress.Result{EventID: eventID, Accepted: false}, nil)

		rec := postEvent(router, sampleEvent, "aabbcc")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp EventResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, eventID.String(), resp.EventID)
		assert.False(t, resp.Accepted)
	})

	s.T().Run("401 - signature rejected", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Ingest(gomock.Any(), gomock.Any(), "deadbeef", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeSignatureInvalid, "signature mismatch"))

		rec := postEvent(router, sampleEvent, "deadbeef")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "signature_invalid", resp["error"])
	})

	s.T().Run("401 - missing signature header", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Ingest(gomock.Any(), gomock.Any(), "", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeSignatureInvalid, "missing signature header"))

		rec := postEvent(router, sampleEvent, "")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	s.T().Run("400 - schema rejected", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Ingest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeSchemaInvalid, "entity_type is required"))

		rec := postEvent(router, `{"flavor":"grape"}`, "aabbcc")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "schema_invalid", resp["error"])
	})

	s.T().Run("400 - body over the 1 MiB cap", func(t *testing.T) {
		router, _ := newTestHandler(t)

		rec := postEvent(router, strings.Repeat("x", maxBodyBytes+1), "aabbcc")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	s.T().Run("500 - service failure", func(t *testing.T) {
		router, mockService := newTestHandler(t)
		mockService.EXPECT().Ingest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "queue unavailable"))

		rec := postEvent(router, sampleEvent, "aabbcc")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
