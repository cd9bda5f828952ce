// Package api exposes the captured mailbox over HTTP: paginated message
// queries, deletions, attachment downloads and a live event stream. It is
// a thin translation layer over the query engine; all consistency rules
// live below it.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/query"
)

// Server bundles the HTTP handlers.
type Server struct {
	engine *query.Engine
	blobs  blob.Store
	bus    *bus.Bus
	logger *slog.Logger
}

// New creates the API server.
func New(engine *query.Engine, blobs blob.Store, b *bus.Bus, logger *slog.Logger) *Server {
	return &Server{engine: engine, blobs: blobs, bus: b, logger: logger}
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", s.handleListMessages)
		r.Delete("/messages", s.handleDeleteMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Delete("/messages/{id}", s.handleDeleteMessage)
		r.Get("/events", s.handleEvents)
	})

	r.Get("/attachments/{id}", s.handleDownloadAttachment)

	return r
}

// writeError maps the core failure taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mail.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, mail.ErrStorageFailed):
		status = http.StatusBadGateway
	case errors.Is(err, mail.ErrNotFound):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
