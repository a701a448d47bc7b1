// Package server exposes the engine over HTTP. Every response uses the
// uniform envelope; error mapping follows the shared error taxonomy.
package server

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/observability"
	"github.com/Mindburn-Labs/corpus/pkg/service"
)

// Server is the HTTP surface over the service container.
type Server struct {
	cfg       *config.Config
	container *service.Container
	metrics   *observability.Metrics
	srv       *http.Server
}

// New builds the server and its route table.
func New(cfg *config.Config, container *service.Container, metrics *observability.Metrics) *Server {
	s := &Server{cfg: cfg, container: container, metrics: metrics}
	s.srv = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler assembles the mux with the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/finalize", s.handleFinalizeSession)
	mux.HandleFunc("POST /sessions/{id}/archive", s.handleArchiveSession)
	mux.HandleFunc("GET /sessions/{id}/interactions", s.handleListInteractions)

	mux.HandleFunc("POST /interactions", s.handleAppendInteraction)
	mux.HandleFunc("POST /embeddings", s.handleAppendEmbedding)
	mux.HandleFunc("POST /search", s.handleSearch)

	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /diarization/upload", s.handleDiarize)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/transcript", s.handleGetTranscript)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)

	mux.HandleFunc("POST /exports", s.handleCreateExport)
	mux.HandleFunc("GET /exports", s.handleListExports)
	mux.HandleFunc("GET /exports/{id}", s.handleGetExport)
	mux.HandleFunc("POST /exports/{id}/verify", s.handleVerifyExport)
	mux.HandleFunc("DELETE /exports/{id}", s.handleDeleteExport)

	mux.HandleFunc("GET /audit", s.handleQueryAudit)

	limiter := rate.NewLimiter(rate.Limit(100), 200)

	var h http.Handler = mux
	h = withTimeout(s.cfg.RequestTimeout)(h)
	h = withRateLimit(limiter)(h)
	h = withLogging(s.metrics)(h)
	h = withRequestID(h)
	return h
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
