// Package web exposes entity definitions over HTTP. Every built
// definition gets a fixed set of POST action endpoints under its name;
// permission checks, field filtering and realtime broadcasts are
// delegated to the wired collaborators.
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stratakit/strata/adapters/metrics"
	"github.com/stratakit/strata/core/registry"
	"github.com/stratakit/strata/ports"
)

// DefaultSessionCookie is the cookie carrying the session token.
const DefaultSessionCookie = "strata_session"

// Handler serves the derived entity endpoints.
type Handler struct {
	registry    *registry.Registry
	sessions    ports.SessionResolver
	access      ports.AccessControl
	broadcaster ports.Broadcaster
	metrics     *metrics.Collector
	logger      zerolog.Logger

	cookie      string
	metricsPath string
}

// Deps contains dependencies for the web handler.
type Deps struct {
	// Registry supplies the built entity definitions. Required.
	Registry *registry.Registry

	// Sessions resolves session cookies. Required.
	Sessions ports.SessionResolver

	// Access supplies role resolution and permission checks. Required.
	Access ports.AccessControl

	// Broadcaster receives lifecycle broadcasts. Optional.
	Broadcaster ports.Broadcaster

	// Metrics instruments the endpoints and serves the metrics path
	// when set. Optional.
	Metrics     *metrics.Collector
	MetricsPath string

	// SessionCookie overrides the session cookie name.
	SessionCookie string

	Logger zerolog.Logger
}

// NewHandler creates the web handler.
func NewHandler(deps Deps) *Handler {
	cookie := deps.SessionCookie
	if cookie == "" {
		cookie = DefaultSessionCookie
	}

	return &Handler{
		registry:    deps.Registry,
		sessions:    deps.Sessions,
		access:      deps.Access,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		cookie:      cookie,
		metricsPath: deps.MetricsPath,
	}
}

// Routes builds the router: health and metrics endpoints plus one
// action namespace per registered definition. Definitions registered
// after this call are not picked up.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.handleHealthz)
	if h.metrics != nil && h.metricsPath != "" {
		r.Handle(h.metricsPath, promhttp.Handler())
	}

	for _, def := range h.registry.List() {
		h.mountEntity(r, def)
	}

	return r
}

// handleHealthz reports process liveness and per-entity build state.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	entities := make(map[string]bool)
	for _, def := range h.registry.List() {
		entities[def.Name()] = def.Built()
	}
	respondOK(w, map[string]any{"status": "ok", "entities": entities})
}

// requestLogger logs one line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
