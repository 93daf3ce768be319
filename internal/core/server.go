// Package core provides the API chassis for the saaskit platform. It wires a
// chi router with the cross-cutting middleware chain (panic recovery, request
// correlation, logging, API-key authentication) and the standard JSON
// response envelope, keeping domain handlers free of transport plumbing.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saaskit/internal/config"
	"saaskit/internal/types"
)

// Authenticator resolves a raw API key to the Actor it authenticates.
// Implemented by auth.Service; injected as an interface for testability.
type Authenticator interface {
	ResolveKey(ctx context.Context, raw string) (*types.Actor, error)
}

// RouteRegistrar mounts a domain handler group onto a chi router. Handler
// packages register themselves through this indirection to avoid import
// cycles with core.
type RouteRegistrar func(r chi.Router)

// Server holds the API's shared dependencies and its router.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator

	// HealthProbes are checked concurrently by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are mounted under /v1 by MountRoutes. Populated by
	// the composition root before the server starts.
	V1RouteRegistrars []RouteRegistrar

	// PublicRouteRegistrars are mounted at the router root. Their paths must
	// also appear in publicPaths so the auth middleware skips them; webhook
	// endpoints authenticate with provider signatures instead of API keys.
	PublicRouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer validates the required dependencies and prepares the router.
// Routes are mounted separately via MountRoutes so tests can customize
// registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
