package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Proximyst/ban/internal/platform/middleware"
	"github.com/Proximyst/ban/pkg/platform/httputil"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

// Deps holds what the root router serves.
type Deps struct {
	Logger *slog.Logger
	// Health probes backends for /healthz.
	Health *Health
	// Metrics serves /metrics; nil disables the endpoint.
	Metrics      http.Handler
	MetricsToken string
	// API is the authenticated admin API; nil disables it.
	API Registrar
}

// NewRouter wires the operational endpoints and, when configured, the admin
// API. Operational endpoints sit outside the API's auth middleware.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Health != nil {
		r.Get("/healthz", deps.Health.ServeHTTP)
	}
	if deps.Metrics != nil {
		r.With(middleware.RequireStaticToken(deps.MetricsToken, deps.Logger)).Handle("/metrics", deps.Metrics)
	}
	if deps.API != nil {
		deps.API.Register(r)
	}
	return r
}
