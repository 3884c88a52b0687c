package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/litweave/internal/ctxlog"
)

// healthHandler answers liveness probes.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// newServeMux routes /health and /metrics.
func (a *App) newServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

// healthCheckServer initializes and runs the health check and metrics HTTP
// server.
func (a *App) healthCheckServer() {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Configuring metrics server.")
	if a.config.MetricsPort <= 0 {
		logger.Debug("Metrics server not started: disabled")
		return
	}

	addr := fmt.Sprintf(":%d", a.config.MetricsPort)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.newServeMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics server starting", "address", fmt.Sprintf("http://localhost%s/metrics", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeHealthCheckServer() error {
	logger := ctxlog.FromContext(a.ctx)
	if a.httpServer == nil {
		logger.Debug("Metrics server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	logger.Debug("Shutting down metrics server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", "error", err)
		return err
	}
	a.httpServer = nil
	return nil
}
