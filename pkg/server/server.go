// Package server runs the grid HTTP server with request draining and
// ordered shutdown of the resources behind it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/InterNations/DataGridBundle/pkg/config"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// ShutdownHook releases a resource when the server stops
type ShutdownHook func(context.Context) error

// CheckFunc reports whether a dependency is usable
type CheckFunc func(context.Context) error

// GracefulServer wraps http.Server with graceful shutdown capabilities
type GracefulServer struct {
	server           *http.Server
	shutdownTimeout  time.Duration
	drainTimeout     time.Duration
	inFlightRequests atomic.Int64
	isShuttingDown   atomic.Bool
	shutdownOnce     sync.Once
	shutdownComplete chan struct{}

	mu    sync.Mutex
	hooks []namedHook
}

type namedHook struct {
	name string
	fn   ShutdownHook
}

// New creates a server for handler. Zero durations in cfg get defaults.
func New(cfg config.ServerConfig, handler http.Handler) *GracefulServer {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 25 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	gs := &GracefulServer{
		shutdownTimeout:  cfg.ShutdownTimeout,
		drainTimeout:     cfg.DrainTimeout,
		shutdownComplete: make(chan struct{}),
	}
	gs.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      gs.TrackRequestsMiddleware(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return gs
}

// OnShutdown registers a hook. Hooks run after the HTTP server stopped,
// in reverse registration order.
func (gs *GracefulServer) OnShutdown(name string, fn ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, namedHook{name: name, fn: fn})
}

// TrackRequestsMiddleware counts in-flight requests and rejects new ones
// once shutdown began
func (gs *GracefulServer) TrackRequestsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gs.isShuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"success": false,
				"error":   map[string]string{"code": "service_unavailable", "message": "Server is shutting down"},
			})
			return
		}

		gs.inFlightRequests.Add(1)
		defer gs.inFlightRequests.Add(-1)

		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves until ctx is cancelled, SIGINT or SIGTERM arrives,
// or the listener fails, then shuts down
func (gs *GracefulServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", gs.server.Addr, err)
	}
	return gs.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (gs *GracefulServer) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server on %s", ln.Addr())
		if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			_ = gs.Shutdown(context.Background())
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Initiating graceful shutdown: %v", context.Cause(ctx))
		return gs.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests, stops the HTTP server and runs the
// shutdown hooks. Only the first call does anything.
func (gs *GracefulServer) Shutdown(ctx context.Context) error {
	var errs []error

	gs.shutdownOnce.Do(func() {
		logger.Info("Starting graceful shutdown...")
		gs.isShuttingDown.Store(true)

		shutdownCtx, cancel := context.WithTimeout(ctx, gs.shutdownTimeout)
		defer cancel()

		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, gs.drainTimeout)
		if err := gs.drainRequests(drainCtx); err != nil {
			logger.Error("Error draining requests: %v", err)
			errs = append(errs, err)
		}
		drainCancel()

		logger.Info("Shutting down HTTP server...")
		if err := gs.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server: %v", err)
			errs = append(errs, err)
		}

		errs = append(errs, gs.runHooks(shutdownCtx)...)

		logger.Info("Graceful shutdown complete")
		close(gs.shutdownComplete)
	})

	return errors.Join(errs...)
}

func (gs *GracefulServer) runHooks(ctx context.Context) []error {
	gs.mu.Lock()
	hooks := make([]namedHook, len(gs.hooks))
	copy(hooks, gs.hooks)
	gs.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		logger.Debug("Running shutdown hook %s", h.name)
		if err := h.fn(ctx); err != nil {
			logger.Error("Shutdown hook %s failed: %v", h.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errs
}

func (gs *GracefulServer) drainRequests(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	startTime := time.Now()
	for {
		inFlight := gs.inFlightRequests.Load()
		if inFlight == 0 {
			logger.Info("All requests drained in %v", time.Since(startTime))
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Warn("Drain timeout exceeded with %d requests still in flight", inFlight)
			return fmt.Errorf("drain timeout exceeded: %d requests still in flight", inFlight)
		case <-ticker.C:
			logger.Debug("Waiting for %d in-flight requests to complete...", inFlight)
		}
	}
}

// InFlightRequests returns the current number of in-flight requests
func (gs *GracefulServer) InFlightRequests() int64 {
	return gs.inFlightRequests.Load()
}

// IsShuttingDown returns true if the server is shutting down
func (gs *GracefulServer) IsShuttingDown() bool {
	return gs.isShuttingDown.Load()
}

// Wait blocks until shutdown is complete
func (gs *GracefulServer) Wait() {
	<-gs.shutdownComplete
}

// HealthCheckHandler answers 200 while serving and 503 once shutdown began
func (gs *GracefulServer) HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gs.IsShuttingDown() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// ReadinessHandler runs the named checks, a database ping for example. The
// server is ready when none fails.
func (gs *GracefulServer) ReadinessHandler(checks map[string]CheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gs.IsShuttingDown() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "reason": "shutting_down"})
			return
		}

		failed := map[string]string{}
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
			cancel()
		}

		if len(failed) > 0 {
			logger.Warn("Readiness check failed: %v", failed)
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true, "in_flight_requests": gs.InFlightRequests()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write. %v", err)
	}
}
