// Package server exposes the HTTP API for a single metered device and runs
// the periodic price and counter update loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/utilitycost/utilitycost/pkg/engine"
	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/prices"
	"github.com/utilitycost/utilitycost/pkg/storage"
)

// Server handles the HTTP API and the minute update loop. Engine calls are
// serialized through mu because counter updates are not atomic.
type Server struct {
	engine *engine.Engine
	store  storage.Store
	spot   *prices.Client

	deviceID   string
	listenAddr string
	httpServer *http.Server

	mu            sync.Mutex
	lastFixedHour time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(e *engine.Engine, s storage.Store, spot *prices.Client) *Server {
	srv := &Server{
		engine: e,
		store:  s,
		spot:   spot,
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	deviceID := lflag.String("device-id", "default", "device ID counters are stored under")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.deviceID = *deviceID
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/consumption", s.handleConsumption)
	mux.HandleFunc("POST /api/energy", s.handleEnergy)
	mux.HandleFunc("POST /api/price/spot", s.handleSpotPrice)
	mux.HandleFunc("POST /api/price/flow", s.handleFlowPrice)
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/gridcosts", s.handleGridCosts)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(s.deviceLogMiddleware(mux))
}

// deviceLogMiddleware stamps the device id onto the request logger.
func (s *Server) deviceLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(log.WithDevice(r.Context(), s.deviceID)))
	})
}

// Run starts the HTTP server and the update loop and blocks until the context
// is canceled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go s.runUpdateLoop(ctx)

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
