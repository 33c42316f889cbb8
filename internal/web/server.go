// Package web wires the HTTP API in front of the ingestion pipeline.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/racepix/racepix/internal/cluster"
	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/objstore"
	"github.com/racepix/racepix/internal/pipeline"
	"github.com/racepix/racepix/internal/session"
	"github.com/racepix/racepix/internal/web/middleware"
)

// Deps bundles everything the API serves.
type Deps struct {
	Config      *config.Config
	Photos      database.PhotoStore
	Bibs        database.BibStore
	Faces       database.FaceStore
	Store       objstore.Store
	Credits     *credits.Service
	Sessions    *session.Store
	Queue       *pipeline.Queue
	Coordinator *pipeline.Coordinator
	Scheduler   *cluster.Scheduler
}

// Server represents the web server.
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server.
func NewServer(deps Deps, host string, port int) *Server {
	r := chi.NewRouter()

	s := &Server{
		deps:   deps,
		router: r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  10 * time.Minute, // batch uploads are large
		WriteTimeout: 5 * time.Minute,  // long timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
