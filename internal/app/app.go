package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agrikart/catalog/internal/config"
	handler "github.com/agrikart/catalog/internal/handler/http"
	"github.com/agrikart/catalog/internal/storage/cdn"
	"github.com/agrikart/catalog/pkg/database"
	"github.com/agrikart/catalog/pkg/health"
	"github.com/agrikart/catalog/pkg/middleware"
)

// App wires together all dependencies and runs the catalog HTTP service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	core       *Core
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, core.Pool, ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Health checks. Only Postgres gates readiness.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return core.Pool.Ping(ctx)
	})
	if core.Redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return core.Redis.Ping(ctx).Err()
		})
	}
	if core.Producer != nil {
		healthHandler.RegisterNonCritical("kafka", core.Producer.Ping)
	}
	if remote, ok := core.Assets.(*cdn.Storage); ok {
		healthHandler.RegisterNonCritical("asset_cdn", remote.Ping)
	}

	routerCfg := handler.RouterConfig{
		ServiceName:       ServiceName,
		CORS:              corsConfig(cfg),
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		MaxUploadBytes:    cfg.StorageMaxUploadBytes,
	}
	// Local and memory references are paths on this server; CDN references
	// are absolute URLs served by the CDN.
	if cfg.StorageBackend != config.StorageCDN {
		routerCfg.Assets = core.Assets
		routerCfg.AssetPrefix = cfg.StorageStaticPrefix
		routerCfg.AssetMaxAge = time.Duration(cfg.StorageCacheMaxAgeSec) * time.Second
	}

	router := handler.NewRouter(core.Service, healthHandler, routerCfg, logger)

	// Uploads can be slow on mobile links, so reads get more time than the
	// JSON-only services.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		core:       core,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("storage_backend", a.core.Assets.Backend()),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.core.Close(context.Background())
		return err
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests, then closes the Kafka producer, Redis,
// the Postgres pool and the tracer.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := a.core.Close(closeCtx); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORSAllowedOrigins
	}
	return cors
}
