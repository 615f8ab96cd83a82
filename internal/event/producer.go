package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agrikart/catalog/internal/domain"
	pkgkafka "github.com/agrikart/catalog/pkg/kafka"
	"github.com/agrikart/catalog/pkg/logger"
)

// Kafka topics for product domain events.
var (
	TopicProductCreated = pkgkafka.Topic("product", "created")
	TopicProductUpdated = pkgkafka.Topic("product", "updated")
	TopicProductDeleted = pkgkafka.Topic("product", "deleted")
	TopicProductsPurged = pkgkafka.Topic("product", "purged")
)

// AggregateTypeProduct is the aggregate type of every product event.
const AggregateTypeProduct = "product"

// SourceCatalogService identifies events originating from this service.
const SourceCatalogService = "catalog-service"

// ProductData is the payload of product.created and product.updated.
type ProductData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Image       *string `json:"image"`
}

// ProductDeletedData is the payload of product.deleted.
type ProductDeletedData struct {
	ID    string `json:"id"`
	Image string `json:"image,omitempty"`
}

// ProductsPurgedData is the payload of product.purged.
type ProductsPurgedData struct {
	ProductsDeleted int `json:"products_deleted"`
	AssetsDeleted   int `json:"assets_deleted"`
	AssetsFailed    int `json:"assets_failed"`
}

// Publisher writes an event to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes product domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a product event producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishProductCreated publishes a product.created event.
func (p *Producer) PublishProductCreated(ctx context.Context, product *domain.Product) error {
	return p.publish(ctx, TopicProductCreated, product.ID, productData(product))
}

// PublishProductUpdated publishes a product.updated event.
func (p *Producer) PublishProductUpdated(ctx context.Context, product *domain.Product) error {
	return p.publish(ctx, TopicProductUpdated, product.ID, productData(product))
}

// PublishProductDeleted publishes a product.deleted event.
func (p *Producer) PublishProductDeleted(ctx context.Context, product *domain.Product) error {
	return p.publish(ctx, TopicProductDeleted, product.ID, ProductDeletedData{
		ID:    product.ID,
		Image: product.ImageRef(),
	})
}

// PublishProductsPurged publishes a product.purged event for a bulk delete.
func (p *Producer) PublishProductsPurged(ctx context.Context, result domain.PurgeResult) error {
	return p.publish(ctx, TopicProductsPurged, AggregateTypeProduct, ProductsPurgedData(result))
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeProduct, SourceCatalogService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

func productData(p *domain.Product) ProductData {
	return ProductData{
		ID:          p.ID,
		Name:        p.Name,
		Category:    string(p.Category),
		Description: p.Description,
		Image:       p.Image,
	}
}

// Discard drops every event. It is used where no broker is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, *pkgkafka.Event) error { return nil }
