package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/agrikart/catalog/internal/domain"
	"github.com/agrikart/catalog/internal/repository"
)

const (
	keyPrefix = "catalog:product:"
	genPrefix = "catalog:product:gen:"
	idsKey    = "catalog:product:ids"
	epochKey  = "catalog:product:epoch"

	minGenTTL = time.Minute
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_cache_lookups_total",
		Help: "Product cache lookups by result (hit, miss, error)",
	},
	[]string{"result"},
)

var cacheFillsSkipped = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "catalog_cache_fills_skipped_total",
		Help: "Product cache fills dropped because the product changed during the load",
	},
)

// populateScript writes an entry only when neither the product generation
// nor the cache epoch moved since the reader sampled them. A missing key
// compares as the empty string.
//
// KEYS: entry, gen, epoch, ids. ARGV: gen, epoch, payload, ttl ms, id.
var populateScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or ''
local epoch = redis.call('GET', KEYS[3]) or ''
if gen ~= ARGV[1] or epoch ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
redis.call('SADD', KEYS[4], ARGV[5])
return 1
`)

// invalidateScript bumps the product generation and drops its entry.
//
// KEYS: entry, gen, ids. ARGV: gen ttl ms, id.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[2])
return 1
`)

var _ repository.ProductRepository = (*CachedProductRepository)(nil)

// CachedProductRepository wraps a repository.ProductRepository with a Redis
// read-through cache for single-product lookups. Writes go to the inner
// repository and invalidate the cached entry before and after the write.
// Cache faults are logged and never fail the call.
//
// A reader that loaded a row before a concurrent write cannot cache it: fills
// are conditional on the per-product generation that every invalidation bumps.
type CachedProductRepository struct {
	inner  repository.ProductRepository
	client *redis.Client
	ttl    time.Duration
	genTTL time.Duration
	logger *slog.Logger
}

// NewCachedProductRepository creates a caching decorator around inner.
func NewCachedProductRepository(inner repository.ProductRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProductRepository {
	// A generation must outlive any entry filled under it.
	genTTL := 2 * ttl
	if genTTL < minGenTTL {
		genTTL = minGenTTL
	}
	return &CachedProductRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
		genTTL: genTTL,
		logger: logger,
	}
}

func productKey(id string) string {
	return keyPrefix + id
}

func genKey(id string) string {
	return genPrefix + id
}

// Create stores the product. Nothing is cached until the first read.
func (r *CachedProductRepository) Create(ctx context.Context, p *domain.Product) error {
	return r.inner.Create(ctx, p)
}

// GetByID returns the cached product when present, otherwise loads it from
// the inner repository and caches it unless the product changed meanwhile.
func (r *CachedProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	if p, ok := r.lookup(ctx, id); ok {
		return p, nil
	}

	stamp, stampOK := r.sample(ctx, id)

	p, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if stampOK {
		r.store(ctx, p, stamp)
	}
	return p, nil
}

// GetByIDForUpdate always reads the inner repository and never fills the
// cache. Callers that act on the stored image reference use it.
func (r *CachedProductRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return r.inner.GetByIDForUpdate(ctx, id)
}

// List always reads through to the inner repository.
func (r *CachedProductRepository) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, error) {
	return r.inner.List(ctx, filter)
}

// Update applies the update and drops the cached entry.
func (r *CachedProductRepository) Update(ctx context.Context, id string, u repository.ProductUpdate) (*domain.Product, error) {
	r.invalidate(ctx, id)
	p, err := r.inner.Update(ctx, id, u)
	r.invalidate(ctx, id)
	return p, err
}

// Delete removes the product and drops the cached entry.
func (r *CachedProductRepository) Delete(ctx context.Context, id string) error {
	r.invalidate(ctx, id)
	err := r.inner.Delete(ctx, id)
	r.invalidate(ctx, id)
	return err
}

func (r *CachedProductRepository) Count(ctx context.Context) (int, error) {
	return r.inner.Count(ctx)
}

func (r *CachedProductRepository) CountByCategory(ctx context.Context) (map[domain.Category]int, error) {
	return r.inner.CountByCategory(ctx)
}

func (r *CachedProductRepository) ListImageRefs(ctx context.Context) ([]string, error) {
	return r.inner.ListImageRefs(ctx)
}

// DeleteAll clears the inner repository and every cached product. The epoch
// bump on both sides of the delete stops in-flight fills of removed rows.
func (r *CachedProductRepository) DeleteAll(ctx context.Context) (int, error) {
	r.bumpEpoch(ctx)
	n, err := r.inner.DeleteAll(ctx)
	r.bumpEpoch(ctx)
	if flushErr := r.flush(ctx); flushErr != nil {
		r.logger.WarnContext(ctx, "failed to flush product cache",
			slog.String("error", flushErr.Error()),
		)
	}
	return n, err
}

func (r *CachedProductRepository) lookup(ctx context.Context, id string) (*domain.Product, bool) {
	data, err := r.client.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		r.logger.WarnContext(ctx, "product cache read failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		r.logger.WarnContext(ctx, "discarding undecodable cache entry",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
		r.invalidate(ctx, id)
		return nil, false
	}

	cacheLookups.WithLabelValues("hit").Inc()
	return &p, true
}

// fillStamp is the generation and epoch a reader saw before loading a row.
type fillStamp struct {
	gen   string
	epoch string
}

func (r *CachedProductRepository) sample(ctx context.Context, id string) (fillStamp, bool) {
	vals, err := r.client.MGet(ctx, genKey(id), epochKey).Result()
	if err != nil {
		return fillStamp{}, false
	}
	return fillStamp{gen: stampValue(vals[0]), epoch: stampValue(vals[1])}, true
}

func stampValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func (r *CachedProductRepository) store(ctx context.Context, p *domain.Product, stamp fillStamp) {
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to marshal product for cache",
			slog.String("product_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	stored, err := populateScript.Run(ctx, r.client,
		[]string{productKey(p.ID), genKey(p.ID), epochKey, idsKey},
		stamp.gen, stamp.epoch, data, r.ttl.Milliseconds(), p.ID,
	).Int()
	if err != nil {
		r.logger.WarnContext(ctx, "product cache write failed",
			slog.String("product_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if stored == 0 {
		cacheFillsSkipped.Inc()
		r.logger.DebugContext(ctx, "skipped cache fill for changed product",
			slog.String("product_id", p.ID),
		)
	}
}

func (r *CachedProductRepository) invalidate(ctx context.Context, id string) {
	err := invalidateScript.Run(ctx, r.client,
		[]string{productKey(id), genKey(id), idsKey},
		r.genTTL.Milliseconds(), id,
	).Err()
	if err != nil {
		r.logger.WarnContext(ctx, "product cache invalidation failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (r *CachedProductRepository) bumpEpoch(ctx context.Context) {
	if err := r.client.Incr(ctx, epochKey).Err(); err != nil {
		r.logger.WarnContext(ctx, "product cache epoch bump failed",
			slog.String("error", err.Error()),
		)
	}
}

func (r *CachedProductRepository) flush(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, idsKey).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, idsKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
