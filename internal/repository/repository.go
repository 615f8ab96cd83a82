package repository

import (
	"context"

	"github.com/agrikart/catalog/internal/domain"
)

// ProductFilter narrows a product listing. Nil fields do not filter.
type ProductFilter struct {
	Category *domain.Category
	// Search matches product names case-insensitively as a substring.
	Search *string
}

// ProductUpdate is a partial update. Nil fields are left unchanged; a
// non-nil empty Description clears it.
type ProductUpdate struct {
	Name        *string
	Category    *domain.Category
	Description *string
	Image       *string
}

// IsEmpty reports whether the update changes no field.
func (u ProductUpdate) IsEmpty() bool {
	return u.Name == nil && u.Category == nil && u.Description == nil && u.Image == nil
}

// ProductRepository persists products.
type ProductRepository interface {
	// Create assigns ID and timestamps to product and stores it.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID returns the product or an ErrNotFound error.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// GetByIDForUpdate reads the authoritative record, bypassing any cache.
	// Callers that decide which stored asset to delete must use it.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Product, error)

	// List returns matching products, newest first.
	List(ctx context.Context, filter ProductFilter) ([]domain.Product, error)

	// Update applies a partial update and returns the stored record.
	Update(ctx context.Context, id string, update ProductUpdate) (*domain.Product, error)

	// Delete removes a product or returns an ErrNotFound error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of products.
	Count(ctx context.Context) (int, error)

	// CountByCategory groups the product count by category. Categories with
	// no products may be absent.
	CountByCategory(ctx context.Context) (map[domain.Category]int, error)

	// ListImageRefs returns every non-empty image reference.
	ListImageRefs(ctx context.Context) ([]string, error)

	// DeleteAll removes every product and returns how many were removed.
	DeleteAll(ctx context.Context) (int, error)
}
