package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func NewRouter(apiHandler *APIHandler, hub *Hub, allowedOrigins []string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	// The hub checks its own token so browsers can pass it as ?token=.
	r.Get("/ws", hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/presence", apiHandler.Presence)
			r.Get("/matches/{matchID}/messages", apiHandler.MatchMessages)
		})
	})

	return r
}
