// Package observability exposes Prometheus metrics for the engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the engine's Prometheus metrics. A nil *Metrics is a
// no-op everywhere so services stay testable without a registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	healthCheckRuns prometheus.Counter
	issuesDetected  *prometheus.CounterVec
	fixesApplied    *prometheus.CounterVec
	nuclearRepairs  *prometheus.CounterVec
}

// NewMetrics initializes the registry and the engine's metric families.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rolemedic_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rolemedic_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checkRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rolemedic_health_check_runs_total",
		Help: "Completed health-check runs.",
	})
	issues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rolemedic_issues_detected_total",
		Help: "Issues detected, by issue code.",
	}, []string{"code"})
	fixes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rolemedic_fixes_applied_total",
		Help: "Fix attempts, by outcome status.",
	}, []string{"status"})
	nuclear := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rolemedic_nuclear_repairs_total",
		Help: "Nuclear permission repairs, by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, checkRuns, issues, fixes, nuclear)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		healthCheckRuns: checkRuns,
		issuesDetected:  issues,
		fixesApplied:    fixes,
		nuclearRepairs:  nuclear,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveHealthCheck counts a completed run and its detected issue codes.
func (m *Metrics) ObserveHealthCheck(codes []string) {
	if m == nil {
		return
	}
	m.healthCheckRuns.Inc()
	for _, code := range codes {
		m.issuesDetected.WithLabelValues(code).Inc()
	}
}

// ObserveFix counts one fix attempt by outcome status.
func (m *Metrics) ObserveFix(status string) {
	if m == nil {
		return
	}
	m.fixesApplied.WithLabelValues(status).Inc()
}

// ObserveNuclearRepair counts a nuclear repair by outcome.
func (m *Metrics) ObserveNuclearRepair(outcome string) {
	if m == nil {
		return
	}
	m.nuclearRepairs.WithLabelValues(outcome).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
