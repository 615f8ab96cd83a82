package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agrikart/catalog/internal/config"
	"github.com/agrikart/catalog/internal/event"
	"github.com/agrikart/catalog/internal/repository"
	"github.com/agrikart/catalog/internal/repository/postgres"
	rediscache "github.com/agrikart/catalog/internal/repository/redis"
	"github.com/agrikart/catalog/internal/service"
	"github.com/agrikart/catalog/internal/storage"
	"github.com/agrikart/catalog/internal/storage/cdn"
	"github.com/agrikart/catalog/internal/storage/local"
	"github.com/agrikart/catalog/internal/storage/memory"
	"github.com/agrikart/catalog/migrations"
	"github.com/agrikart/catalog/pkg/database"
	pkgkafka "github.com/agrikart/catalog/pkg/kafka"
	"github.com/agrikart/catalog/pkg/tracing"
)

// ServiceName identifies the catalog in logs, traces and metrics.
const ServiceName = "catalog"

// Core holds the catalog coordinator and the connections behind it. Both the
// HTTP server and the admin CLI are built on a Core.
type Core struct {
	Service  *service.CatalogService
	Assets   storage.AssetStore
	Pool     *pgxpool.Pool
	Redis    *redis.Client      // nil when caching is disabled or unreachable
	Producer *pkgkafka.Producer // nil when no brokers are configured

	logger         *slog.Logger
	tracerShutdown func(context.Context) error
}

// NewCore connects to Postgres, applies migrations and builds the
// coordinator with the configured asset backend, cache and event publisher.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	core := &Core{logger: logger, tracerShutdown: tracerShutdown}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, pgCfg, logger)
	if err != nil {
		_ = core.Close(context.Background())
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	core.Pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		_ = core.Close(context.Background())
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	var repo repository.ProductRepository = postgres.NewProductRepository(pool)

	// Optional read-through cache. An unreachable Redis degrades to uncached reads.
	if cfg.CacheEnabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			logger.Warn("redis unavailable, product cache disabled",
				slog.String("addr", cfg.Redis().Addr()),
				slog.String("error", err.Error()),
			)
		} else {
			core.Redis = client
			repo = rediscache.NewCachedProductRepository(repo, client, cfg.CacheTTL(), logger)
			logger.Info("product cache enabled",
				slog.String("addr", cfg.Redis().Addr()),
				slog.Duration("ttl", cfg.CacheTTL()),
			)
		}
	}

	assets, err := NewAssetStore(cfg, logger)
	if err != nil {
		_ = core.Close(context.Background())
		return nil, fmt.Errorf("init asset store: %w", err)
	}
	core.Assets = assets
	logger.Info("asset store initialized", slog.String("backend", assets.Backend()))

	// Domain events. Without brokers they are dropped.
	var publisher event.Publisher = event.Discard{}
	if brokers := KafkaBrokers(cfg); len(brokers) > 0 {
		core.Producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(brokers), logger)
		publisher = core.Producer
		logger.Info("kafka producer initialized", slog.Any("brokers", brokers))
	} else {
		logger.Warn("no kafka brokers configured, product events are discarded")
	}

	core.Service = service.NewCatalogService(repo, assets, event.NewProducer(publisher, logger), logger)
	return core, nil
}

// Close releases every connection the core opened. It is safe to call on a
// partially built core.
func (c *Core) Close(ctx context.Context) error {
	var errs []error

	if c.Producer != nil {
		if err := c.Producer.Close(); err != nil {
			c.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.tracerShutdown != nil {
		if err := c.tracerShutdown(ctx); err != nil {
			c.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NewAssetStore builds the asset backend named by STORAGE_BACKEND.
func NewAssetStore(cfg *config.Config, logger *slog.Logger) (storage.AssetStore, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		return local.New(local.Config{
			Dir:            cfg.StorageLocalDir,
			URLPrefix:      cfg.StorageStaticPrefix,
			MaxUploadBytes: cfg.StorageMaxUploadBytes,
		}), nil
	case config.StorageMemory:
		return memory.New(cfg.StorageStaticPrefix, cfg.StorageMaxUploadBytes), nil
	case config.StorageCDN:
		return cdn.New(cdn.Config{
			Endpoint:       cfg.CDNEndpoint,
			CloudName:      cfg.CDNCloudName,
			APIKey:         cfg.CDNAPIKey,
			APISecret:      cfg.CDNAPISecret,
			Folder:         cfg.CDNFolder,
			Timeout:        cfg.CDNTimeout(),
			MaxUploadBytes: cfg.StorageMaxUploadBytes,
			CircuitBreaker: cfg.CircuitBreaker(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// KafkaBrokers returns the configured broker addresses with blanks removed.
func KafkaBrokers(cfg *config.Config) []string {
	brokers := make([]string, 0, len(cfg.KafkaBrokers))
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
