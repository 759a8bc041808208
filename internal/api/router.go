// Package api provides the HTTP API layer of the entity resolver.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"lerian-entity-resolver/internal/api/handlers"
	"lerian-entity-resolver/internal/api/middleware"
	"lerian-entity-resolver/internal/api/response"
	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/monitoring"
)

// MaxRequestBytes bounds request bodies; a full batch with entities fits easily
const MaxRequestBytes = 1 << 20

// Router represents the main API router
type Router struct {
	config  *config.Config
	mux     *chi.Mux
	version string
	engine  *engine.Engine
	metrics *monitoring.Metrics
	logger  logging.Logger
	probes  map[string]handlers.Probe
	mounts  map[string]http.Handler
	events  http.Handler
}

// Option configures a Router
type Option func(*Router)

// WithMetrics exposes m on /metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the request logger
func WithLogger(logger logging.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithProbe adds a dependency check to /health
func WithProbe(name string, probe handlers.Probe) Option {
	return func(r *Router) { r.probes[name] = probe }
}

// WithMount serves h under pattern alongside the REST routes
func WithMount(pattern string, h http.Handler) Option {
	return func(r *Router) { r.mounts[pattern] = h }
}

// WithEventStream serves h on /api/v1/events
func WithEventStream(h http.Handler) Option {
	return func(r *Router) { r.events = h }
}

// WithVersion sets the version reported by /health
func WithVersion(version string) Option {
	return func(r *Router) { r.version = version }
}

// NewRouter creates a new API router with middleware and routes
func NewRouter(cfg *config.Config, eng *engine.Engine, opts ...Option) *Router {
	r := &Router{
		config:  cfg,
		mux:     chi.NewRouter(),
		version: "dev",
		engine:  eng,
		logger:  logging.NewNoOpLogger(),
		probes:  make(map[string]handlers.Probe),
		mounts:  make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.mux
}

func (r *Router) setupMiddleware() {
	r.mux.Use(chimiddleware.Recoverer)
	r.mux.Use(middleware.NewLoggingMiddleware(r.logger).Handler())
	if r.config != nil && len(r.config.Server.AllowedOrigins) > 0 {
		r.mux.Use(middleware.NewCORSMiddleware(middleware.CORSConfig{AllowedOrigins: r.config.Server.AllowedOrigins}).Handler())
	}
	r.mux.Use(chimiddleware.RequestSize(MaxRequestBytes))
	r.mux.Use(chimiddleware.Heartbeat("/ping"))

	timeout := 30 * time.Second
	if r.config != nil && r.config.Server.WriteTimeout > 0 {
		timeout = time.Duration(r.config.Server.WriteTimeout) * time.Second
	}
	r.mux.Use(chimiddleware.Timeout(timeout))
}

func (r *Router) setupRoutes() {
	health := handlers.NewHealthHandler(r.config, r.version, r.probes)
	r.mux.Get("/health", health.Handle)

	if r.metrics != nil {
		r.mux.Handle("/metrics", r.metrics.Handler())
	}

	h := handlers.NewEngineHandler(r.engine, r.logger)
	r.mux.Route("/api/v1", func(rtr chi.Router) {
		rtr.Get("/health", health.Handle)
		rtr.Get("/openapi.json", openAPIHandler(r.version))

		rtr.Post("/operations", h.Execute)
		rtr.Post("/resolve", h.Resolve)
		rtr.Post("/updates", h.ProcessUpdate)
		rtr.Post("/patterns", h.Patterns)
		rtr.Post("/suggestions", h.Suggest)
		rtr.Post("/clusters", h.Clusters)
		rtr.Delete("/users/{userID}/context", h.ClearContext)
		if r.events != nil {
			rtr.Get("/events", r.events.ServeHTTP)
		}
	})

	for pattern, h := range r.mounts {
		r.mux.Handle(pattern, h)
	}

	r.mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.WriteNotFound(w, "Endpoint not found", req.URL.Path)
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.WriteMethodNotAllowed(w, "Method not allowed", req.Method+" "+req.URL.Path)
	})
}
