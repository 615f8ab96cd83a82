package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrikart/catalog/pkg/health"
	"github.com/agrikart/catalog/pkg/middleware"
)

// RouterConfig holds the router settings that do not come from the service.
type RouterConfig struct {
	ServiceName       string
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string
	MaxUploadBytes    int64

	// Assets, when set, is served under AssetPrefix.
	Assets      AssetFetcher
	AssetPrefix string
	AssetMaxAge time.Duration
}

// NewRouter creates a chi router with all catalog routes registered.
func NewRouter(
	catalogService CatalogService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	// Product API endpoints
	productHandler := NewProductHandler(catalogService, cfg.MaxUploadBytes, logger)

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Use(ContentTypeJSONOrMultipart)

		r.Get("/", productHandler.ListProducts)
		r.Post("/", productHandler.CreateProduct)
		r.Delete("/", productHandler.DeleteAllProducts)
		r.Get("/stats", productHandler.Stats)
		r.Get("/{id}", productHandler.GetProduct)
		r.Put("/{id}", productHandler.UpdateProduct)
		r.Delete("/{id}", productHandler.DeleteProduct)
	})

	// Stored assets. Names are never reused, so responses are immutable.
	if cfg.Assets != nil {
		assetHandler := NewAssetHandler(cfg.Assets, cfg.AssetPrefix, logger)
		r.With(middleware.CacheControl(cfg.AssetMaxAge, true)).
			Get(assetHandler.prefix+"/{name}", assetHandler.ServeAsset)
	}

	return r
}
