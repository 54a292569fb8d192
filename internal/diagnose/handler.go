package diagnose

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/platform/httpx"
	"github.com/rolemedic/rolemedic/internal/rbac"
)

// Handler wires the health-check HTTP endpoint.
type Handler struct {
	logger  *slog.Logger
	checker *Checker
	rbac    rbac.Middleware
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewHandler constructs the diagnose handler. metrics may be nil.
func NewHandler(logger *slog.Logger, checker *Checker, authz rbac.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, checker: checker, rbac: authz, metrics: metrics}
}

// MountRoutes registers diagnose routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(capstore.CapManageOptions))
		r.Post("/health/check", h.handleRunChecks)
	})
}

type checkView struct {
	Name    string    `json:"name"`
	Title   string    `json:"title"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	Issue   IssueCode `json:"issue_code,omitempty"`
}

type reportView struct {
	ID         string      `json:"id"`
	OperatorID int64       `json:"operator_id"`
	StartedAt  time.Time   `json:"started_at"`
	Results    []checkView `json:"results"`
	IssueCodes []IssueCode `json:"issue_codes"`
	HasIssues  bool        `json:"has_issues"`
}

var titleCaser = cases.Title(language.English)

func checkTitle(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

// handleRunChecks runs the battery. Concurrent requests by the same
// operator collapse into a single run.
func (h *Handler) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}

	result, err, _ := h.group.Do(strconv.FormatInt(operatorID, 10), func() (any, error) {
		return h.checker.Run(r.Context(), operatorID)
	})
	if err != nil {
		h.logger.Error("health check run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	report := result.(*Report)

	codes := make([]string, 0, len(report.IssueCodes))
	for _, code := range report.IssueCodes {
		codes = append(codes, string(code))
	}
	h.metrics.ObserveHealthCheck(codes)

	view := reportView{
		ID:         report.ID.String(),
		OperatorID: report.OperatorID,
		StartedAt:  report.StartedAt,
		Results:    make([]checkView, 0, len(report.Results)),
		IssueCodes: report.IssueCodes,
		HasIssues:  report.HasIssues(),
	}
	if view.IssueCodes == nil {
		view.IssueCodes = []IssueCode{}
	}
	for _, res := range report.Results {
		view.Results = append(view.Results, checkView{
			Name:    res.Name,
			Title:   checkTitle(res.Name),
			Status:  res.Status,
			Message: res.Message,
			Issue:   res.Issue,
		})
	}
	httpx.JSON(w, http.StatusOK, view)
}
