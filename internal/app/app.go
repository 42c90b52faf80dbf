// Package app wires configuration, the key store, the license domain, and
// the HTTP transport into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"keyserve/internal/config"
	"keyserve/internal/infrastructure"
	"keyserve/internal/license"
	customMiddleware "keyserve/internal/middleware"
	"keyserve/internal/services"
	"keyserve/internal/store"
	transport "keyserve/internal/transport/http"
)

// Version is the service version, injected at build time
var Version = "dev"

// Application holds the wired service components
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *store.RedisStore
	Metrics *infrastructure.Metrics

	router  chi.Router
	tracing *infrastructure.TracerProvider
}

// NewApplication loads configuration and wires all components
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracing, err := infrastructure.InitializeTracing("keyserve", Version, cfg.Tracing.Enabled, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	redisStore, err := store.Connect(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to key store: %w", err)
	}

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Store:   redisStore,
		Metrics: infrastructure.NewMetrics(),
		tracing: tracing,
	}
	app.setupRouter()
	return app, nil
}

// setupRouter builds the middleware chain and mounts all routes
func (a *Application) setupRouter() {
	// Domain assembly
	generator := license.NewGenerator(a.Store, a.Logger)
	guard := license.NewTrialGuard(a.Store, a.Logger)
	manager := license.NewManager(a.Store, generator, a.Logger)
	coordinator := license.NewCoordinator(a.Store, guard, a.Config.Keys.TrialMarkerTTL, a.Logger)

	keyService := services.NewKeyService(coordinator, a.Metrics, a.Logger)
	adminService := services.NewAdminService(manager, a.Store, a.Metrics, a.Logger)
	auth := customMiddleware.NewAdminAuth(a.Config.Admin, a.Logger)

	keysHandler := transport.NewKeysHandler(keyService, a.Logger)
	adminHandler := transport.NewAdminHandler(adminService, auth, a.Config.Keys.MaxBatchQuantity, a.Logger)
	configHandler := transport.NewConfigHandler(adminService, a.Logger)
	healthHandler := transport.NewHealthHandler(a.Store, Version, a.Logger)

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(a.Config.Server.ReadTimeout))

		r.Mount("/keys", keysHandler.Routes())
		r.Post("/keys/batch", adminHandler.BatchIssue)
		r.Mount("/admin", adminHandler.Routes())
		r.Get("/config", configHandler.GetPublicConfig)
		r.Get("/healthz", healthHandler.Health)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		a.Metrics.Registry,
		promhttp.HandlerOpts{},
	))

	a.router = r
}

// Run starts the HTTP server and blocks until shutdown completes
func (a *Application) Run() error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("server starting",
			slog.Int("port", a.Config.Server.Port),
			slog.String("version", Version),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := a.tracing.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
		return a.Store.Close()
	})

	return g.Wait()
}

// Router exposes the HTTP handler, used by tests
func (a *Application) Router() http.Handler {
	return a.router
}
