package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/souravgh/unfs2go/internal/logger"
)

// Server is the admin HTTP server.
//
// Endpoints:
//   - GET /metrics: Prometheus metrics (503 when metrics are disabled)
//   - GET /debug/stats: JSON Snapshot, the same numbers SIGUSR1 logs
//   - GET /: plain-text index
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: 9090
	Port int

	// BindAddress defaults to all interfaces.
	BindAddress string
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
}

// NewServer creates the admin server. snapshot may be nil, in which case
// /debug/stats answers 503.
func NewServer(config ServerConfig, snapshot SnapshotFunc) *Server {
	config.applyDefaults()

	return &Server{
		server: &http.Server{
			Addr:         net.JoinHostPort(config.BindAddress, fmt.Sprint(config.Port)),
			Handler:      NewRouter(snapshot),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		port: config.Port,
	}
}

// NewRouter builds the admin routes.
func NewRouter(snapshot SnapshotFunc) *mux.Router {
	r := mux.NewRouter()

	if reg := GetRegistry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintln(w, "Metrics collection is disabled")
		}).Methods(http.MethodGet)
	}

	r.HandleFunc("/debug/stats", func(w http.ResponseWriter, _ *http.Request) {
		if snapshot == nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snapshot()); err != nil {
			logger.Debug("admin: encode stats: %v", err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintln(w, "unfsd admin\n\n/metrics      Prometheus metrics\n/debug/stats  cache and mount statistics (JSON)")
	}).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
//
// Returns nil on graceful shutdown, or the listener error.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx is already done; shutdown needs a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
			logger.Error("Admin server shutdown error: %v", err)
			return
		}
		logger.Info("Admin server stopped")
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}
