package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server wires the Markov API and the metrics endpoint onto one mux.
type Server struct {
	app       *App
	logger    *slog.Logger
	metrics   *Metrics
	markovAPI *MarkovAPI
	apiMux    *http.ServeMux
}

// NewServer builds the chain components for app and registers all routes.
func NewServer(ctx context.Context, app *App, logger *slog.Logger) (*Server, error) {
	builder, err := app.NewBuilder(ctx)
	if err != nil {
		return nil, err
	}
	gen, err := app.NewGenerator()
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	server := &Server{
		app:       app,
		logger:    logger,
		metrics:   metrics,
		markovAPI: NewMarkovAPI(app, builder, gen, metrics, logger),
		apiMux:    http.NewServeMux(),
	}

	server.markovAPI.RegisterRoutes(server.apiMux)
	server.apiMux.Handle("/metrics", metrics.Handler())
	server.apiMux.HandleFunc("/api/server/version", server.handleVersion)
	return server, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.apiMux
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("Starting api server", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping api server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Api server shutdown failed", "error", err)
		return httpServer.Close()
	}
	s.logger.Info("HTTP server stopped.")
	return nil
}
