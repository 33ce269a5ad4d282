package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/devrayat000/media-pipeline/logger"
	"github.com/devrayat000/media-pipeline/metrics"
)

// NewRouter mounts every endpoint of h behind request logging and metrics.
func NewRouter(h *Handler, log *slog.Logger, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(m))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", m.Handler())

	r.Post("/upload", h.Upload)
	r.Get("/upload/status/{id}", h.Status)

	r.Route("/media", func(r chi.Router) {
		r.Get("/stats/overview", h.Overview)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.Delete)
			r.Get("/events", h.Events)
			r.Post("/thumbnail", h.SetThumbnail)
			r.Post("/thumbnail/upload", h.UploadThumbnail)
		})
	})

	r.Get("/analytics/bandwidth", h.Bandwidth)
	return r
}
