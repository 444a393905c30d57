// Package gateway exposes the admission HTTP surface: request intake with
// queue/bypass policy, status and cancel, queue and batch statistics, and
// the administrative mapping refresh.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP gateway and its routes.
type Server struct {
	Router   chi.Router
	Handlers *Handlers
}

// NewServer creates a chi router with all routes configured.
func NewServer(h *Handlers) *Server {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	s := &Server{
		Router:   r,
		Handlers: h,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.Router

	// Health endpoints (no auth)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.Handlers.HealthCheck)
		r.Get("/liveness", s.Handlers.HealthLiveness)
		r.Get("/readiness", s.Handlers.HealthReadiness)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", s.Handlers.SubmitRequest)
		r.Get("/requests/{request_id}", s.Handlers.GetRequest)
		r.Post("/requests/{request_id}/cancel", s.Handlers.CancelRequest)
		r.Get("/models", s.Handlers.ListModels)
	})

	r.Get("/queue/stats", s.Handlers.QueueStats)
	r.Get("/batch/stats", s.Handlers.BatchStats)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/mappings/refresh", s.Handlers.RefreshMappings)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
