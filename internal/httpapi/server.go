// Package httpapi exposes the research pipeline over HTTP: submitting a
// search, polling its status, inspecting extraction-run history, looking up
// a cached canonical paper, and draining queued jobs from a worker token.
// It follows the teacher's HTTP wrapper shape (stdlib net/http.ServeMux,
// small JSON response helpers, graceful shutdown on context cancellation)
// rather than an external router framework; there is no middleware chain,
// and the drain token is checked inside the drain handler.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/pipeline"
	"github.com/corpuspipe/corpuspipe/internal/storage"
)

// Server wraps a pipeline.Runner with the HTTP surface described in the
// external-interfaces contract.
type Server struct {
	runner     *pipeline.Runner
	drainToken string
	logger     *log.Logger

	httpServer *http.Server
	listener   net.Listener
	addr       string
}

// New constructs a Server bound to addr. drainToken, if non-empty, is the
// shared bearer token POST /jobs/drain requires; an empty token disables
// auth on that endpoint (intended for local/dev use only).
func New(runner *pipeline.Runner, addr, drainToken string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{runner: runner, addr: addr, drainToken: drainToken, logger: logger}
}

// Addr returns the address the server is listening on, valid after Start
// has bound its listener.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start builds the route table, binds the listener, and serves until ctx
// is cancelled, at which point it shuts down gracefully with a bounded
// timeout.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", s.handleCreateSearch)
	mux.HandleFunc("GET /search/{id}", s.handleGetSearch)
	mux.HandleFunc("GET /search/{id}/runs", s.handleListRuns)
	mux.HandleFunc("GET /search/{id}/runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /paper/{id}", s.handleGetPaper)
	mux.HandleFunc("POST /jobs/drain", s.handleDrain)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// storageStatus maps a storage-layer error onto the 4xx/5xx the error
// taxonomy's propagation policy calls for: a missing row is 404, anything
// else is an opaque 500 rather than leaking internal detail to the client.
func storageStatus(err error) int {
	if storage.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
