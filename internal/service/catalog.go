package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agrikart/catalog/internal/domain"
	"github.com/agrikart/catalog/internal/repository"
	"github.com/agrikart/catalog/internal/storage"
	apperrors "github.com/agrikart/catalog/pkg/errors"
	"github.com/agrikart/catalog/pkg/tracing"
	"github.com/agrikart/catalog/pkg/validator"
)

const tracerName = "github.com/agrikart/catalog/internal/service"

// EventPublisher publishes product domain events. *event.Producer
// satisfies it.
type EventPublisher interface {
	PublishProductCreated(ctx context.Context, product *domain.Product) error
	PublishProductUpdated(ctx context.Context, product *domain.Product) error
	PublishProductDeleted(ctx context.Context, product *domain.Product) error
	PublishProductsPurged(ctx context.Context, result domain.PurgeResult) error
}

// CatalogService keeps product records and their image assets consistent.
// Asset and repository calls within one operation run sequentially: an
// asset is always stored before the record that references it is written,
// and removed only once no record references it.
type CatalogService struct {
	repo        repository.ProductRepository
	assets      storage.AssetStore
	events      EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	environment func() string
}

// Option configures a CatalogService.
type Option func(*CatalogService)

// WithEnvironment overrides how the running environment is determined. The
// function is consulted on every bulk delete.
func WithEnvironment(fn func() string) Option {
	return func(s *CatalogService) {
		s.environment = fn
	}
}

// NewCatalogService creates a new catalog service. By default the
// environment is read from the ENVIRONMENT variable on each call.
func NewCatalogService(
	repo repository.ProductRepository,
	assets storage.AssetStore,
	events EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *CatalogService {
	s := &CatalogService{
		repo:        repo,
		assets:      assets,
		events:      events,
		logger:      logger,
		tracer:      tracing.Tracer(tracerName),
		environment: func() string { return os.Getenv("ENVIRONMENT") },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProductInput holds the fields of a new product and an optional image.
type CreateProductInput struct {
	Name        string          `json:"name" validate:"notblank,max=200"`
	Category    string          `json:"category" validate:"notblank"`
	Description string          `json:"description" validate:"max=2000"`
	Image       *storage.Upload `json:"-" validate:"-"`
}

// UpdateProductInput is a partial update. Nil fields are left unchanged; an
// empty Description clears it. Image replaces the current image.
type UpdateProductInput struct {
	Name        *string         `json:"name" validate:"omitnil,notblank,max=200"`
	Category    *string         `json:"category" validate:"omitnil,notblank"`
	Description *string         `json:"description" validate:"omitnil,max=2000"`
	Image       *storage.Upload `json:"-" validate:"-"`
}

// ListProductsInput filters a product listing. Empty fields do not filter.
type ListProductsInput struct {
	Category string
	Search   string
}

// CreateProduct validates input, stores the image if one was supplied and
// persists the product. If persisting fails the stored image is removed.
func (s *CatalogService) CreateProduct(ctx context.Context, input *CreateProductInput) (product *domain.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.CreateProduct")
	defer func() { endSpan(span, err) }()

	if input == nil {
		return nil, apperrors.InvalidInput("request body is required")
	}

	category, err := validateCreate(input)
	if err != nil {
		s.discardPayload(ctx, input.Image, "validation failed")
		return nil, err
	}

	product = &domain.Product{
		Name:        strings.TrimSpace(input.Name),
		Category:    category,
		Description: strings.TrimSpace(input.Description),
	}

	var ref string
	if input.Image != nil {
		ref, err = s.storeAsset(ctx, input.Image)
		if err != nil {
			return nil, err
		}
		product.Image = &ref
		span.SetAttributes(attribute.String("catalog.asset_ref", ref))
	}

	if err := s.repo.Create(ctx, product); err != nil {
		if ref != "" {
			s.compensate(ctx, ref)
		}
		return nil, apperrors.Persistence(err)
	}
	span.SetAttributes(attribute.String("catalog.product_id", product.ID))

	if err := s.events.PublishProductCreated(ctx, product); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.created event",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.String("category", string(product.Category)),
		slog.Bool("has_image", product.HasImage()),
	)

	return product, nil
}

// GetProduct retrieves a product by its ID.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product by id: %w", err)
	}
	return product, nil
}

// ListProducts returns products newest first, optionally filtered by
// category and a case-insensitive name substring.
func (s *CatalogService) ListProducts(ctx context.Context, input ListProductsInput) ([]domain.Product, error) {
	var filter repository.ProductFilter

	if strings.TrimSpace(input.Category) != "" {
		category, ok := domain.ParseCategory(input.Category)
		if !ok {
			return nil, invalidCategory(input.Category)
		}
		filter.Category = &category
	}
	if search := strings.TrimSpace(input.Search); search != "" {
		filter.Search = &search
	}

	products, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Stats returns the product total and per-category counts. Every category
// is present, with zero when it has no products.
func (s *CatalogService) Stats(ctx context.Context) (*domain.Stats, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	counts, err := s.repo.CountByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("count products by category: %w", err)
	}

	byCategory := make(map[domain.Category]int, len(domain.Categories()))
	for _, c := range domain.Categories() {
		byCategory[c] = counts[c]
	}

	return &domain.Stats{Total: total, ByCategory: byCategory}, nil
}

// UpdateProduct applies a partial update. A new image is stored before the
// record is written and the previous image is removed only after the record
// references the new one. If the write fails the new image is removed and
// the previous one is kept.
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, input *UpdateProductInput) (product *domain.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.UpdateProduct",
		trace.WithAttributes(attribute.String("catalog.product_id", id)),
	)
	defer func() { endSpan(span, err) }()

	if input == nil {
		return nil, apperrors.InvalidInput("request body is required")
	}

	update, err := validateUpdate(input)
	if err != nil {
		s.discardPayload(ctx, input.Image, "validation failed")
		return nil, err
	}

	existing, err := s.repo.GetByIDForUpdate(ctx, id)
	if err != nil {
		s.discardPayload(ctx, input.Image, "product lookup failed")
		return nil, fmt.Errorf("get product for update: %w", err)
	}

	var newRef string
	if input.Image != nil {
		newRef, err = s.storeAsset(ctx, input.Image)
		if err != nil {
			return nil, err
		}
		update.Image = &newRef
		span.SetAttributes(attribute.String("catalog.asset_ref", newRef))
	}

	if update.IsEmpty() {
		return existing, nil
	}

	product, err = s.repo.Update(ctx, id, update)
	if err != nil {
		if newRef != "" {
			s.compensate(ctx, newRef)
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Persistence(err)
	}

	if oldRef := existing.ImageRef(); newRef != "" && oldRef != "" && oldRef != newRef {
		if !s.deleteAsset(ctx, oldRef) {
			orphanedAssets.WithLabelValues(orphanStaleDeleteFailed).Inc()
		}
	}

	if err := s.events.PublishProductUpdated(ctx, product); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.updated event",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product updated",
		slog.String("product_id", product.ID),
		slog.Bool("image_replaced", newRef != ""),
	)

	return product, nil
}

// DeleteProduct removes the product's image and then its record. A failed
// image delete is logged and never blocks removing the record.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.DeleteProduct",
		trace.WithAttributes(attribute.String("catalog.product_id", id)),
	)
	defer func() { endSpan(span, err) }()

	product, err := s.repo.GetByIDForUpdate(ctx, id)
	if err != nil {
		return fmt.Errorf("get product for delete: %w", err)
	}

	if product.HasImage() {
		if !s.deleteAsset(ctx, product.ImageRef()) {
			orphanedAssets.WithLabelValues(orphanProductDeleted).Inc()
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		s.logger.ErrorContext(ctx, "product record delete failed after asset removal",
			slog.String("product_id", id),
			slog.String("image", product.ImageRef()),
			slog.String("error", err.Error()),
		)
		return apperrors.Persistence(err)
	}

	if err := s.events.PublishProductDeleted(ctx, product); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.deleted event",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product deleted",
		slog.String("product_id", id),
	)

	return nil
}

// DeleteAllProducts removes every product image, best effort, and then every
// record. It is refused in production; the environment is checked on each
// call.
func (s *CatalogService) DeleteAllProducts(ctx context.Context) (result *domain.PurgeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.DeleteAllProducts")
	defer func() { endSpan(span, err) }()

	if env := s.environment(); domain.IsProduction(env) {
		s.logger.WarnContext(ctx, "bulk delete refused",
			slog.String("environment", env),
		)
		return nil, apperrors.ForbiddenInEnvironment("bulk delete", env)
	}

	refs, err := s.repo.ListImageRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list image refs: %w", err)
	}

	result = &domain.PurgeResult{}
	for _, ref := range refs {
		if s.deleteAsset(ctx, ref) {
			result.AssetsDeleted++
		} else {
			result.AssetsFailed++
			orphanedAssets.WithLabelValues(orphanPurge).Inc()
		}
	}

	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrForbiddenInEnvironment) {
			return nil, err
		}
		return nil, apperrors.Persistence(err)
	}
	result.ProductsDeleted = n

	span.SetAttributes(
		attribute.Int("catalog.products_deleted", result.ProductsDeleted),
		attribute.Int("catalog.assets_deleted", result.AssetsDeleted),
		attribute.Int("catalog.assets_failed", result.AssetsFailed),
	)

	if err := s.events.PublishProductsPurged(ctx, *result); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product.purged event",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "all products deleted",
		slog.Int("products_deleted", result.ProductsDeleted),
		slog.Int("assets_deleted", result.AssetsDeleted),
		slog.Int("assets_failed", result.AssetsFailed),
	)

	return result, nil
}

// storeAsset stores upload and maps backend failures onto the service
// error kinds. Once issued the call is not cancelled with the request.
func (s *CatalogService) storeAsset(ctx context.Context, upload *storage.Upload) (string, error) {
	ref, err := s.assets.Store(context.WithoutCancel(ctx), upload)
	if err != nil {
		assetOperations.WithLabelValues(s.assets.Backend(), "store", resultFailure).Inc()
		switch {
		case apperrors.IsValidation(err):
			return "", err
		case errors.Is(err, storage.ErrBackendRejected):
			return "", apperrors.AssetRejected(err)
		default:
			s.logger.ErrorContext(ctx, "asset store failed",
				slog.String("backend", s.assets.Backend()),
				slog.String("error", err.Error()),
			)
			return "", apperrors.AssetStore(err)
		}
	}

	assetOperations.WithLabelValues(s.assets.Backend(), "store", resultSuccess).Inc()
	return ref, nil
}

// deleteAsset removes ref and reports whether the asset is gone. A missing
// asset counts as gone.
func (s *CatalogService) deleteAsset(ctx context.Context, ref string) bool {
	err := s.assets.Delete(context.WithoutCancel(ctx), ref)
	switch {
	case err == nil:
		assetOperations.WithLabelValues(s.assets.Backend(), "delete", resultSuccess).Inc()
		return true
	case errors.Is(err, storage.ErrAssetNotFound):
		assetOperations.WithLabelValues(s.assets.Backend(), "delete", resultNotFound).Inc()
		s.logger.WarnContext(ctx, "asset already absent",
			slog.String("ref", ref),
		)
		return true
	default:
		assetOperations.WithLabelValues(s.assets.Backend(), "delete", resultFailure).Inc()
		s.logger.WarnContext(ctx, "failed to delete asset",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
		return false
	}
}

// compensate removes an asset stored by an operation whose record write
// failed. Its own failure is logged and never replaces the caller's error.
func (s *CatalogService) compensate(ctx context.Context, ref string) {
	if s.deleteAsset(ctx, ref) {
		return
	}
	orphanedAssets.WithLabelValues(orphanCompensationFailed).Inc()
	s.logger.ErrorContext(ctx, "failed to clean up asset after persistence error",
		slog.String("ref", ref),
	)
}

// discardPayload drops an upload that will not be stored.
func (s *CatalogService) discardPayload(ctx context.Context, upload *storage.Upload, reason string) {
	if upload == nil {
		return
	}
	s.logger.DebugContext(ctx, "discarding image payload",
		slog.String("reason", reason),
		slog.Int64("size", upload.Size()),
	)
	upload.Data = nil
}

func validateCreate(input *CreateProductInput) (domain.Category, error) {
	if err := validator.Validate(input); err != nil {
		return "", err
	}
	category, ok := domain.ParseCategory(input.Category)
	if !ok {
		return "", invalidCategory(input.Category)
	}
	return category, nil
}

func validateUpdate(input *UpdateProductInput) (repository.ProductUpdate, error) {
	var update repository.ProductUpdate
	if err := validator.Validate(input); err != nil {
		return update, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		update.Name = &name
	}
	if input.Category != nil {
		category, ok := domain.ParseCategory(*input.Category)
		if !ok {
			return update, invalidCategory(*input.Category)
		}
		update.Category = &category
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		update.Description = &description
	}
	return update, nil
}

func invalidCategory(value string) error {
	names := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		names = append(names, string(c))
	}
	return apperrors.InvalidInput(fmt.Sprintf("category %q must be one of: %s", value, strings.Join(names, ", ")))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
