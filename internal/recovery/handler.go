package recovery

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/platform/httpx"
	"github.com/rolemedic/rolemedic/internal/rbac"
)

// Handler wires the recovery HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	metrics *observability.Metrics
}

// NewHandler constructs the recovery handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, authz rbac.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, rbac: authz, metrics: metrics}
}

// MountRoutes registers recovery routes. The destructive paths sit behind
// the code-trust capability; the diagnostic export only needs the
// ordinary admin capability.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(capstore.CapManageOptions))
		r.Get("/diagnostics/export", h.handleExport)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(capstore.CapEditModules))
		r.Post("/recovery/nuclear", h.handleNuclear)
		r.Post("/recovery/restore/{id}", h.handleRestore)
		r.Post("/recovery/emergency-account", h.handleEmergencyAccount)
		r.Get("/recovery/backups", h.handleListBackups)
		r.Delete("/recovery/backups", h.handlePruneBackups)
	})
}

func actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	operatorID, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
	}
	return operatorID, ok
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := actor(w, r)
	if !ok {
		return
	}
	info, err := h.service.ExportSystemInfo(r.Context(), operatorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, info)
}

func (h *Handler) handleNuclear(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := actor(w, r)
	if !ok {
		return
	}
	result, err := h.service.NuclearRepair(r.Context(), operatorID)
	if err != nil {
		h.logger.Error("nuclear repair", slog.Any("error", err))
		h.metrics.ObserveNuclearRepair("failed")
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveNuclearRepair("completed")
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := actor(w, r)
	if !ok {
		return
	}
	snapshotID := chi.URLParam(r, "id")
	if err := h.service.Restore(r.Context(), operatorID, snapshotID); err != nil {
		h.logger.Error("restore snapshot", slog.String("snapshot_id", snapshotID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"restored": snapshotID})
}

func (h *Handler) handleEmergencyAccount(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := actor(w, r)
	if !ok {
		return
	}
	account, err := h.service.EmergencyAccess(r.Context(), operatorID)
	if err != nil {
		h.logger.Error("emergency account", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) handleListBackups(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := actor(w, r)
	if !ok {
		return
	}
	backups, err := h.service.ListBackups(r.Context(), operatorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (h *Handler) handlePruneBackups(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := actor(w, r)
	if !ok {
		return
	}
	keepDays := 0
	if raw := r.URL.Query().Get("keep_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "keep_days must be a non-negative integer")
			return
		}
		keepDays = parsed
	}
	removed, err := h.service.PruneBackups(r.Context(), operatorID, keepDays)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"removed": removed})
}
