package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docfs/docfs/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - POST /api/v1/auth/login - Admin authentication
//   - POST /api/v1/auth/refresh - Token refresh
//   - GET /api/v1/servers - Storage server registry
//   - GET /api/v1/files - Directory contents (trash included)
//   - GET /api/v1/sessions - Client session table
//   - GET /api/v1/requests - Access request queue
//   - GET /metrics - Prometheus metrics (when metrics are enabled)
func NewRouter(deps Deps, jwtService *JWTService, adminSecret string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handler{deps: deps, jwt: jwtService, adminSecret: adminSecret}

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	if metrics.IsEnabled() {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes - unauthenticated
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
		})

		// Read-only views - require a bearer token
		r.Group(func(r chi.Router) {
			r.Use(JWTAuth(jwtService))

			r.Get("/servers", h.ListServers)
			r.Get("/files", h.ListFiles)
			r.Get("/sessions", h.ListSessions)
			r.Get("/requests", h.ListRequests)
		})
	})

	return r
}
