package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/vk/litweave/internal/ctxlog"
	"github.com/vk/litweave/internal/localsession"
	"github.com/vk/litweave/internal/metrics"
	"github.com/vk/litweave/internal/session"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	errW       io.Writer
	logger     *slog.Logger
	ctx        context.Context
	config     *Config
	metrics    *metrics.Metrics
	starter    session.Starter
	httpServer *http.Server

	// onBuild is called after every build of watch mode.
	onBuild func(*Summary, error)
}

// Option configures an App.
type Option func(*App)

// WithStarter replaces the process starter of session tasks.
func WithStarter(s session.Starter) Option {
	return func(a *App) { a.starter = s }
}

// WithErrorWriter sets where failed sessions report their input and stderr.
func WithErrorWriter(w io.Writer) Option {
	return func(a *App) { a.errW = w }
}

// WithBuildHook registers a callback run after every build of watch mode.
func WithBuildHook(fn func(*Summary, error)) Option {
	return func(a *App) { a.onBuild = fn }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and metrics
// registry. Logs are written to outW.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	a := &App{
		outW:    outW,
		errW:    os.Stderr,
		logger:  logger,
		ctx:     ctxlog.WithLogger(context.Background(), logger),
		config:  cfg,
		metrics: metrics.New(),
		starter: localsession.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Debug("App initialized.", "paths", cfg.Paths, "cache", !cfg.NoCache)
	return a
}

// Metrics returns the application's metrics. This is primarily for testing.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Config returns the validated configuration of the app.
func (a *App) Config() *Config {
	return a.config
}

// withLogger attaches the app logger to ctx.
func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Start starts the background services of the app.
func (a *App) Start() {
	a.healthCheckServer()
}

// Close stops the background services of the app.
func (a *App) Close() error {
	return a.closeHealthCheckServer()
}
