package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dealdesk/dealdesk/internal/api/handlers"
	"github.com/dealdesk/dealdesk/internal/api/middleware"
	"github.com/dealdesk/dealdesk/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Deals: submit, poll status, poll events, fetch artifacts
		r.Route("/deals", func(r chi.Router) {
			r.Post("/", h.SubmitDeal)
			r.Route("/{dealID}", func(r chi.Router) {
				r.Get("/", h.GetDeal)
				r.Get("/events", h.ListEvents)
				r.Route("/artifacts", func(r chi.Router) {
					r.Get("/", h.ListArtifacts)
					r.Get("/{kind}", h.GetArtifact)
				})
			})
		})

		// Chat sessions
		r.Route("/chat/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetChatSession)
			r.Delete("/", h.DeleteChatSession)
			r.Post("/messages", h.PostChatMessage)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "dealdesk-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "dealdesk-control-plane",
		})
	}
}
