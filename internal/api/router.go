package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP routes. metrics, when non-nil, is served at
// /metrics without authentication.
func NewRouter(s *Server, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	private := s.Auth.private

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", public(s.Health))

		r.Post("/admin-auth/login", public(s.Login))
		r.Get("/admin-auth/check", private(s.CheckAuth))

		r.Get("/chats", private(s.GetChats))
		r.Post("/chats", private(s.CreateChat))
		r.Delete("/chats/{id}", private(s.DeleteChat))

		r.Get("/keywords", private(s.GetKeywords))
		r.Post("/keywords", private(s.CreateKeyword))
		r.Delete("/keywords/{id}", private(s.DeleteKeyword))

		r.Get("/alerts", private(s.GetAlerts))

		r.Get("/monitor", private(s.GetMonitor))
		r.Post("/monitor/start", private(s.StartMonitor))
		r.Post("/monitor/stop", private(s.StopMonitor))
		r.Post("/monitor/scan", private(s.ScanNow))
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
