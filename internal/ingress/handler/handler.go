// Package handler exposes the webhook ingress endpoint. The raw body is
// read once and passed through untouched: the signature covers the exact
// bytes on the wire and the event id is derived from them.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"arbiter/internal/ingress"
	"arbiter/internal/platform/middleware"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/httputil"
)

// maxBodyBytes caps webhook bodies at 1 MiB.
const maxBodyBytes = 1 << 20

// Service defines the interface for event admission.
type Service interface {
	Ingest(ctx context.Context, rawBody []byte, signature, traceID string) (*ingress.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the ingress route on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events", h.HandleIngestEvent)
}

// EventResponse reports the admission outcome for one delivery.
type EventResponse struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
}

// HandleIngestEvent admits a signed change event. New events answer 202,
// resubmissions of the same body answer 200 with accepted false.
func (h *Handler) HandleIngestEvent(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read event body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body unreadable or larger than 1 MiB"))
		return
	}

	result, err := h.service.Ingest(r.Context(), rawBody, r.Header.Get(ingress.SignatureHeader), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Accepted {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, EventResponse{
		EventID:  result.EventID.String(),
		Accepted: result.Accepted,
	})
}
