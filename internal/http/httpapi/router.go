package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagen/internal/http/handlers"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
)

// Options tunes the router.
type Options struct {
	Logger          infra.Logger
	RateLimitPerMin int
	// StaticDir, when set, serves locally stored artifacts under /static.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.UserID,
		middleware.Logger(opts.Logger),
	)

	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.With(limit).Post("/jobs", app.CreateJobs)
		r.Get("/jobs/{id}", app.GetJob)
		r.With(limit).Post("/jobs/{id}/regenerate", app.RegenerateJob)
		r.Get("/queue/status", app.QueueStatus)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
