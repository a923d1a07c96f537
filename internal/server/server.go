// Package server contains the HTTP API in front of the orchestrator.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"deskforge/internal/server/handlers"
	"deskforge/internal/server/middleware"
)

// Options tune the HTTP surface.
type Options struct {
	Addr           string
	MaxUploadBytes int64

	// Submissions per second before 429; zero disables the limiter.
	SubmitRate float64

	// Handler for GET /metrics, typically from observability.InitMetrics.
	MetricsHandler http.Handler
}

// Server is the HTTP server for the job API.
type Server struct {
	httpServer *http.Server
}

// New wires routes, middleware and handlers.
func New(svc handlers.JobService, ready handlers.ReadyChecker, logger *slog.Logger, opts Options) *Server {
	h := handlers.New(svc, ready, logger, opts.MaxUploadBytes)

	mux := http.NewServeMux()

	submit := http.Handler(http.HandlerFunc(h.CreateJob))
	if opts.SubmitRate > 0 {
		submit = middleware.RateLimit(opts.SubmitRate)(submit)
	}
	mux.Handle("POST /api/jobs", submit)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/jobs/{id}/artifacts", h.ListArtifacts)
	// name... so inputs/<file> names resolve; the artifact manager rejects
	// anything outside its two directories.
	mux.HandleFunc("GET /api/jobs/{id}/artifacts/{name...}", h.DownloadArtifact)
	mux.HandleFunc("GET /api/jobs/{id}/code", h.GetCode)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	handler := middleware.RequestID(middleware.RequestLog(logger)(mux))

	return &Server{
		httpServer: &http.Server{
			Addr:    opts.Addr,
			Handler: handler,
			// No WriteTimeout: artifact downloads can be large and slow.
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
