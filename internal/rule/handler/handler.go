package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"arbiter/internal/platform/middleware"
	"arbiter/internal/rule/models"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/httputil"
)

// Service defines the interface for rule operations.
// Returns domain objects, not HTTP response DTOs.
type Service interface {
	Create(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error)
	Get(ctx context.Context, ruleID uuid.UUID) (*models.AutomationRule, error)
	List(ctx context.Context) ([]*models.AutomationRule, error)
	Update(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error)
	Delete(ctx context.Context, ruleID uuid.UUID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/rules", h.HandleListRules)
	r.Post("/rules", h.HandleCreateRule)
	r.Get("/rules/{rule_id}", h.HandleGetRule)
	r.Put("/rules/{rule_id}", h.HandleUpdateRule)
	r.Delete("/rules/{rule_id}", h.HandleDeleteRule)
}

// HandleListRules returns all automation rules.
func (h *Handler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	rules, err := h.service.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list rules failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toRuleListResponse(rules))
}

// HandleCreateRule registers a new automation rule.
func (h *Handler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateRuleRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}

	rule, err := h.service.Create(ctx, req.ToModel())
	if err != nil {
		h.logger.ErrorContext(ctx, "create rule failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toRuleResponse(rule))
}

// HandleGetRule returns a single rule by id.
func (h *Handler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	ruleID, err := uuid.Parse(chi.URLParam(r, "rule_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid rule id"))
		return
	}

	rule, err := h.service.Get(ctx, ruleID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get rule failed", "error", err, "request_id", requestID, "rule_id", ruleID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toRuleResponse(rule))
}

// HandleUpdateRule replaces an existing rule's configuration.
func (h *Handler) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	ruleID, err := uuid.Parse(chi.URLParam(r, "rule_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid rule id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[UpdateRuleRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}

	rule := req.ToModel()
	rule.RuleID = ruleID

	updated, err := h.service.Update(ctx, rule)
	if err != nil {
		h.logger.ErrorContext(ctx, "update rule failed", "error", err, "request_id", requestID, "rule_id", ruleID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toRuleResponse(updated))
}

// HandleDeleteRule removes a rule. Pending audit records already gated by
// the rule are unaffected.
func (h *Handler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	ruleID, err := uuid.Parse(chi.URLParam(r, "rule_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid rule id"))
		return
	}

	if err := h.service.Delete(ctx, ruleID); err != nil {
		h.logger.ErrorContext(ctx, "delete rule failed", "error", err, "request_id", requestID, "rule_id", ruleID)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
