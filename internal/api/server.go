// Package api implements the HTTP surface of the fieldroute service.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldroute/internal/assign"
	"fieldroute/internal/auth"
	"fieldroute/internal/config"
	"fieldroute/internal/events"
	"fieldroute/internal/metrics"
	"fieldroute/internal/store"
)

// Pinger is implemented by stores that can report connectivity (Postgres).
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Store  store.Store
	Auth   *auth.Verifier
	Events events.Broker
	Assign *assign.Service
	Config config.Config

	limits *limiterSet
}

func NewServer(cfg config.Config, st store.Store, v *auth.Verifier, broker events.Broker, svc *assign.Service) *Server {
	return &Server{
		Store:  st,
		Auth:   v,
		Events: broker,
		Assign: svc,
		Config: cfg,
		limits: newLimiterSet(cfg.RateRPS, cfg.RateBurst),
	}
}

// Routes builds the router. Everything under /v1 requires a bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/debug/info", s.debugInfo)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.rateLimit).Post("/assignments/bulk", s.bulkAssign)
		r.Get("/route-plans", s.listRoutePlans)
		r.Get("/route-plans/events", s.streamEvents)
		r.Get("/route-plans/ws", s.streamWS)
		r.Get("/route-plans/{id}", s.getRoutePlan)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
