// Package httpapi assembles the chi router for the public API.
package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagen/internal/http/handlers"
	"mediagen/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Log))

	r.Get("/v1/healthz", app.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", app.Health)
		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(app.Cfg.RateLimitPerMin)).Post("/", app.CreateJob)
			r.Get("/", app.ListJobs)
			r.Get("/{job_id}", app.JobStatus)
			r.Post("/{job_id}/cancel", app.CancelJob)
			r.Get("/{job_id}/media.zip", app.JobMediaArchive)
		})
		r.Route("/media", func(r chi.Router) {
			r.Get("/{media_id}", app.MediaMeta)
			r.Get("/{media_id}/download", app.MediaDownload)
			r.Delete("/{media_id}", app.DeleteMedia)
		})
	})

	return r
}
