package domain

import (
	"strings"
	"time"
)

// Category is one of the fixed product categories.
type Category string

const (
	CategoryInsecticides          Category = "Insecticides"
	CategoryFungicides            Category = "Fungicides"
	CategoryWeedicides            Category = "Weedicides"
	CategoryPlantGrowthRegulators Category = "Plant Growth Regulators"
)

// Categories returns every valid category in display order.
func Categories() []Category {
	return []Category{
		CategoryInsecticides,
		CategoryFungicides,
		CategoryWeedicides,
		CategoryPlantGrowthRegulators,
	}
}

// ParseCategory matches s against the known categories ignoring case and
// surrounding whitespace, and returns the canonical value.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories() {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Product is a catalog item. Image holds the reference returned by the asset
// store, or nil when the product has no image.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Image       *string   `json:"image"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasImage reports whether the product references a stored asset.
func (p *Product) HasImage() bool {
	return p.Image != nil && *p.Image != ""
}

// ImageRef returns the image reference or "" when there is none.
func (p *Product) ImageRef() string {
	if p.Image == nil {
		return ""
	}
	return *p.Image
}

// Stats summarizes the catalog.
type Stats struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
}

// PurgeResult reports what a bulk delete removed.
type PurgeResult struct {
	ProductsDeleted int `json:"products_deleted"`
	AssetsDeleted   int `json:"assets_deleted"`
	AssetsFailed    int `json:"assets_failed"`
}

// IsProduction reports whether env names a production environment. Bulk
// deletes are refused there.
func IsProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return true
	default:
		return false
	}
}
