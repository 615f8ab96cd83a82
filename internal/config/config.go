package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/agrikart/catalog/pkg/config"
	"github.com/agrikart/catalog/pkg/database"
	"github.com/agrikart/catalog/pkg/httpclient"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageCDN    = "cdn"
	StorageMemory = "memory"
)

// Config holds all configuration for the catalog service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort            int `env:"CATALOG_HTTP_PORT" envDefault:"8080"`
	ShutdownTimeoutSecs int `env:"CATALOG_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"15"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"catalog"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"catalog_secret"`
	PostgresDB   string `env:"CATALOG_DB_NAME" envDefault:"catalog"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis read cache
	CacheEnabled    bool   `env:"CATALOG_CACHE_ENABLED" envDefault:"false"`
	CacheTTLSeconds int    `env:"CATALOG_CACHE_TTL_SECONDS" envDefault:"300"`
	RedisHost       string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize   int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Kafka. Events are dropped when no brokers are configured.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Asset storage
	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"local"`
	StorageMaxUploadBytes int64  `env:"STORAGE_MAX_UPLOAD_BYTES" envDefault:"5242880"`
	StorageLocalDir       string `env:"STORAGE_LOCAL_DIR" envDefault:"./uploads"`
	StorageStaticPrefix   string `env:"STORAGE_STATIC_PREFIX" envDefault:"/uploads"`
	StorageCacheMaxAgeSec int    `env:"STORAGE_CACHE_MAX_AGE_SECONDS" envDefault:"86400"`

	// Remote CDN backend
	CDNEndpoint       string `env:"CDN_ENDPOINT" envDefault:"https://api.cloudinary.com"`
	CDNCloudName      string `env:"CDN_CLOUD_NAME"`
	CDNAPIKey         string `env:"CDN_API_KEY"`
	CDNAPISecret      string `env:"CDN_API_SECRET"`
	CDNFolder         string `env:"CDN_FOLDER" envDefault:"catalog"`
	CDNTimeoutSeconds int    `env:"CDN_TIMEOUT_SECONDS" envDefault:"10"`

	// Circuit breaker around the CDN
	CBMaxRequests  uint32  `env:"CDN_CB_MAX_REQUESTS" envDefault:"1"`
	CBIntervalSecs int     `env:"CDN_CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeoutSecs  int     `env:"CDN_CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CDN_CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CDN_CB_MIN_REQUESTS" envDefault:"5"`
}

// Load reads configuration from environment variables, after loading
// .env.local when ENVIRONMENT is "local".
func Load() (*Config, error) {
	if _, err := pkgconfig.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load catalog config: %w", err)
	}

	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load catalog config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.StorageMaxUploadBytes <= 0 {
		return fmt.Errorf("STORAGE_MAX_UPLOAD_BYTES must be positive, got %d", c.StorageMaxUploadBytes)
	}
	if c.CacheEnabled && c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CATALOG_CACHE_TTL_SECONDS must be positive when caching is enabled")
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.StorageLocalDir == "" {
			return fmt.Errorf("STORAGE_LOCAL_DIR is required for the local backend")
		}
	case StorageMemory:
	case StorageCDN:
		if c.CDNCloudName == "" || c.CDNAPIKey == "" || c.CDNAPISecret == "" {
			return fmt.Errorf("CDN_CLOUD_NAME, CDN_API_KEY and CDN_API_SECRET are required for the cdn backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, cdn, memory, got %q", c.StorageBackend)
	}
	return nil
}

// Postgres returns the database pool configuration.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the cache connection configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		PoolSize: c.RedisPoolSize,
	}
}

// CacheTTL returns the product cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ShutdownTimeout returns how long in-flight requests get on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// CDNTimeout returns the per-call timeout for the CDN backend.
func (c *Config) CDNTimeout() time.Duration {
	return time.Duration(c.CDNTimeoutSeconds) * time.Second
}

// CircuitBreaker returns the breaker settings for CDN calls.
func (c *Config) CircuitBreaker() httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         "asset-cdn",
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBIntervalSecs) * time.Second,
		Timeout:      time.Duration(c.CBTimeoutSecs) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}
