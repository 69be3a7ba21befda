package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/queue"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/resolve"
)

// NewRouter wires the queue, catalog, credential, health, and metrics routes
// behind the standard middleware stack.
func NewRouter(baseCtx context.Context, q QueueService, resolver *resolve.Resolver, store *queue.Store, credentials *resolve.CredentialHolder, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	handler := NewQueueHandler(baseCtx, q, resolver, store, credentials, logger)

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", handler.State)
		r.Delete("/", handler.Clear)
		r.Post("/start", handler.Start)
		r.Post("/stop", handler.Stop)
		r.Route("/items", func(r chi.Router) {
			r.Post("/", handler.Enqueue)
			r.Route("/{key}", func(r chi.Router) {
				r.Post("/cancel", handler.Cancel)
				r.Post("/retry", handler.Retry)
				r.Post("/run", handler.RunOne)
				r.Delete("/", handler.Remove)
			})
		})
	})

	r.Put("/credentials", handler.SetCredentials)
	r.Get("/courses/recordings", handler.Catalog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
