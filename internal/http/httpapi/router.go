package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Saluana/or3-chat-sub013/internal/http/handlers"
	"github.com/Saluana/or3-chat-sub013/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Log),
		middleware.CORS(app.Cfg.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/streams", func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Cfg.JWTSecret))
		r.With(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute)).Post("/", app.StreamsCreate)
		r.Get("/{job_id}", app.StreamsGet)
		r.Get("/{job_id}/events", app.StreamsEvents)
		r.Post("/{job_id}/cancel", app.StreamsCancel)
	})

	// Not part of the public surface; deployments keep /internal off the edge.
	r.Post("/internal/streams/cleanup", app.StreamsCleanup)

	return r
}
