package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"provador/internal/http/handlers"
	"provador/internal/middleware"
)

// NewRouter wires the proxy surface and the workflow session API behind the
// shared middleware chain.
func NewRouter(app *handlers.App, countryLookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(*app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.Locale(app.Config.DefaultLocale, countryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	// Thin proxy surface consumed by the storefront page.
	r.Route("/api", func(r chi.Router) {
		r.Get("/produtos", app.Produtos)
		r.With(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)).
			Post("/tryon", app.TryOn)
	})

	// Server-side workflow sessions.
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.SessionCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.SessionState)
			r.Post("/photo", app.SessionPhoto)
			r.With(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)).
				Post("/tryon", app.SessionTryOn)
			r.Post("/back", app.SessionBack)
			r.Post("/reset", app.SessionReset)
			r.Post("/retry", app.SessionRetry)
		})
	})

	return r
}
