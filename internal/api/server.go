// Package api provides the HTTP API of ipprism: background analyses with a
// WebSocket progress stream, stored batches and records, and system status.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/ipprism/internal/api/handlers"
	"github.com/anstrom/ipprism/internal/api/middleware"
	"github.com/anstrom/ipprism/internal/config"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20 // 1 MB
)

// Dependencies are the collaborators the API serves from. Database, Account,
// Refresher and Registry are optional.
type Dependencies struct {
	Runner    apihandlers.Runner
	Store     apihandlers.Store
	Database  apihandlers.DatabasePinger
	Account   apihandlers.AccountChecker
	Refresher apihandlers.Refresher
	Registry  *prometheus.Registry
	Metrics   metrics.Recorder
	Logger    *logging.Logger
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	manager    *apihandlers.Manager
	logger     *logging.Logger
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Runner == nil || deps.Store == nil {
		return nil, fmt.Errorf("API server requires an analysis runner and a store")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}

	logger := deps.Logger.WithComponent("api")
	s := &Server{
		router:  mux.NewRouter(),
		manager: apihandlers.NewManager(deps.Runner, deps.Logger,
			apihandlers.WithRetainedRuns(cfg.API.RetainedRuns)),
		logger:  logger,
	}

	s.setupMiddleware(deps)
	s.setupRoutes(deps)

	origins := cfg.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"Content-Type", middleware.RequestIDHeader}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.ExposedHeaders([]string{"Location", middleware.RequestIDHeader}),
	)

	s.httpServer = &http.Server{
		Addr:           cfg.GetAPIAddress(),
		Handler:        cors(s.router),
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return s, nil
}

// Start starts the API server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop cancels running analyses and gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Warn("Analyses still running at shutdown", "error", err)
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupMiddleware configures middleware for the API server. The first
// middleware added is the outermost.
func (s *Server) setupMiddleware(deps Dependencies) {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(deps.Metrics))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(deps Dependencies) {
	analyses := apihandlers.NewAnalysisHandler(s.manager, deps.Logger)
	events := apihandlers.NewWebSocketHandler(s.manager, deps.Logger)
	batches := apihandlers.NewBatchHandler(deps.Store, deps.Logger)
	system := apihandlers.NewSystemHandler(deps.Database, deps.Store, deps.Account, deps.Refresher, s.manager, deps.Logger)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", system.Health).Methods("GET")
	api.HandleFunc("/stats", system.Stats).Methods("GET")
	api.HandleFunc("/account", system.Account).Methods("GET")
	api.HandleFunc("/scheduler", system.SchedulerStatus).Methods("GET")
	api.HandleFunc("/scheduler/refresh", system.SchedulerRefresh).Methods("POST")

	api.HandleFunc("/analyses", analyses.List).Methods("GET")
	api.HandleFunc("/analyses", analyses.Create).Methods("POST")
	api.HandleFunc("/analyses/{id}", analyses.Get).Methods("GET")
	api.HandleFunc("/analyses/{id}", analyses.Cancel).Methods("DELETE")
	api.HandleFunc("/analyses/{id}/events", events.Events).Methods("GET")

	api.HandleFunc("/batches", batches.ListBatches).Methods("GET")
	api.HandleFunc("/batches/recurring", batches.Recurring).Methods("GET")
	api.HandleFunc("/batches/compare", batches.Compare).Methods("GET")
	api.HandleFunc("/batches/{id:[0-9]+}", batches.DeleteBatch).Methods("DELETE")
	api.HandleFunc("/batches/{id:[0-9]+}/records", batches.BatchRecords).Methods("GET")
	api.HandleFunc("/records", batches.Records).Methods("GET")
	api.HandleFunc("/records/{id:[0-9]+}/annotations", batches.UpdateAnnotations).Methods("PUT")

	if deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc("/", s.index).Methods("GET")
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "ipprism",
		"version": "v1",
		"endpoints": map[string]string{
			"health":   "/api/v1/health",
			"analyses": "/api/v1/analyses",
			"batches":  "/api/v1/batches",
			"stats":    "/api/v1/stats",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Manager returns the background analysis manager.
func (s *Server) Manager() *apihandlers.Manager {
	return s.manager
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
