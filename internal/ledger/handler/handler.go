package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	"arbiter/internal/platform/middleware"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/httputil"
)

// Service defines the interface for audit ledger operations.
// Returns domain objects, not HTTP response DTOs.
type Service interface {
	Get(ctx context.Context, auditID int64) (*models.AuditRecord, error)
	List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.AuditRecord, int64, error)
	Resolve(ctx context.Context, auditID int64, approved bool, resolvedBy string) (*models.AuditRecord, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.HandleListAuditRecords)
	r.Get("/audit/{audit_id}", h.HandleGetAuditRecord)
	r.Post("/audit/{audit_id}/resolve", h.HandleResolveAuditRecord)
}

// HandleListAuditRecords returns a page of audit records in append order,
// with filters taken from query parameters.
func (h *Handler) HandleListAuditRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	filter, page, err := parseListQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, total, err := h.service.List(ctx, filter, page)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit records failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	page = page.Normalize()
	httputil.WriteJSON(w, http.StatusOK, toAuditListResponse(records, total, page.Page, page.Limit))
}

// HandleGetAuditRecord returns a single audit record by id.
func (h *Handler) HandleGetAuditRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	auditID, err := parseAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.service.Get(ctx, auditID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get audit record failed", "error", err, "request_id", requestID, "audit_id", auditID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toAuditResponse(rec))
}

// HandleResolveAuditRecord records an operator's approval or rejection of a
// pending action. When resolved_by is omitted the authenticated operator
// subject is used.
func (h *Handler) HandleResolveAuditRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	auditID, err := parseAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}

	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = middleware.GetOperator(ctx)
	}
	if resolvedBy == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "resolved_by is required"))
		return
	}

	rec, err := h.service.Resolve(ctx, auditID, *req.Approved, resolvedBy)
	if err != nil {
		h.logger.ErrorContext(ctx, "resolve audit record failed", "error", err, "request_id", requestID, "audit_id", auditID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toAuditResponse(rec))
}

func parseAuditID(r *http.Request) (int64, error) {
	auditID, err := strconv.ParseInt(chi.URLParam(r, "audit_id"), 10, 64)
	if err != nil || auditID <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid audit id")
	}
	return auditID, nil
}

func parseListQuery(r *http.Request) (store.Filter, store.Page, error) {
	q := r.URL.Query()

	filter := store.Filter{EntityType: q.Get("entity_type")}
	if raw := q.Get("status"); raw != "" {
		status := models.Status(raw)
		if !status.Valid() {
			return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "invalid status filter")
		}
		filter.Status = status
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "invalid from timestamp")
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "invalid to timestamp")
		}
		filter.To = to
	}

	page := store.Page{}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "invalid page")
		}
		page.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "invalid limit")
		}
		page.Limit = n
	}

	return filter, page, nil
}
