package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/runtimelab/lam/internal/localactivity"
)

// Server is the HTTP admin/debug surface for a local activity manager.
type Server struct {
	manager    *localactivity.Manager
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates a new Server instance listening on addr.
func NewServer(addr string, manager *localactivity.Manager) *Server {
	handlers := NewHandlers(manager)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/activities", handlers.HandleEnqueue)
	mux.HandleFunc("POST /api/v1/activities/{run_id}/{seq_num}/cancel", handlers.HandleCancel)
	mux.HandleFunc("GET /api/v1/stats", handlers.HandleStats)

	return &Server{
		manager:  manager,
		handlers: handlers,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server. Blocks until the server is stopped or an
// error occurs.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server. It does not itself
// drain the manager; callers should call the manager's
// ShutdownAndWaitAllFinished separately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handlers returns the Handlers for testing purposes.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}
