package repair

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/platform/httpx"
	"github.com/rolemedic/rolemedic/internal/rbac"
)

// Handler wires the fix HTTP endpoint.
type Handler struct {
	logger   *slog.Logger
	fixer    *Fixer
	rbac     rbac.Middleware
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler constructs the repair handler. metrics may be nil.
func NewHandler(logger *slog.Logger, fixer *Fixer, authz rbac.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, fixer: fixer, rbac: authz, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers repair routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(capstore.CapManageOptions))
		r.Post("/health/fix", h.handleFix)
	})
}

type fixRequest struct {
	IssueCodes []string `json:"issue_codes" validate:"required,min=1,dive,required"`
}

type fixResponse struct {
	Results []FixResult `json:"results"`
}

func (h *Handler) handleFix(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}

	var req fixRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	codes := make([]diagnose.IssueCode, 0, len(req.IssueCodes))
	for _, raw := range req.IssueCodes {
		codes = append(codes, diagnose.IssueCode(raw))
	}

	results, err := h.fixer.Apply(r.Context(), operatorID, codes)
	if err != nil {
		h.logger.Error("apply fixes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	for _, res := range results {
		h.metrics.ObserveFix(string(res.Status))
	}
	httpx.JSON(w, http.StatusOK, fixResponse{Results: results})
}
