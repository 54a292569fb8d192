package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/recovery"
	"github.com/rolemedic/rolemedic/internal/repair"
	"github.com/rolemedic/rolemedic/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	DiagnoseHandler *diagnose.Handler
	RepairHandler   *repair.Handler
	RecoveryHandler *recovery.Handler
	JobsHandler     *jobs.Handler
	RBACMiddleware  rbac.Middleware
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		RBAC:    params.RBACMiddleware,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	params.DiagnoseHandler.MountRoutes(r)
	params.RepairHandler.MountRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(RecoveryRateLimit())
		params.RecoveryHandler.MountRoutes(r)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
