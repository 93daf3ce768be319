package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to every request context.
const defaultRequestTimeout = 29 * time.Second

// MountRoutes registers the global middleware chain, the /v1 handler groups,
// and the top-level health endpoint.
//
// Middleware ordering:
//  1. Recoverer       - outermost so it catches every panic.
//  2. ContextTimeout  - soft deadline before upstream proxies give up.
//  3. RequestID       - correlation ID for logs and responses.
//  4. SecurityHeaders - present on all responses, including errors.
//  5. RequestLogger   - structured request logging.
//  6. Auth            - resolves the API key to an Actor.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(s.AuthMiddleware)

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	for _, registrar := range s.PublicRouteRegistrars {
		registrar(s.router)
	}

	s.router.Get("/health", s.HandleHealth)
}

// ContextTimeoutMiddleware sets a deadline on the request context. Handlers
// observe cancellation through their blocking calls.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
