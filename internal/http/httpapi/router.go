package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface. The country lookup is optional; pass
// nil when no GeoIP database is configured.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.RequestID,
		middleware.ClientID,
		middleware.I18N("en", lookup),
		middleware.Logger(app.Logger),
	)
	if app.Config != nil && len(app.Config.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(app.Config.AllowedOrigins))
	}
	if app.Config != nil && app.Config.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/models", app.Models)
	r.Get("/v1/quota", app.QuotaPeek)
	r.Route("/v1/generations", func(r chi.Router) {
		r.Post("/", app.GenerationsSubmit)
		r.Get("/", app.GenerationsList)
		r.Get("/{job_id}", app.GenerationsStatus)
		r.Post("/{job_id}/cancel", app.GenerationsCancel)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
