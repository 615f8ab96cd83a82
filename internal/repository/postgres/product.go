package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agrikart/catalog/internal/domain"
	"github.com/agrikart/catalog/internal/repository"
	"github.com/agrikart/catalog/pkg/database"
	apperrors "github.com/agrikart/catalog/pkg/errors"
)

const productColumns = `id, name, category, description, image, created_at, updated_at`

// likeEscaper escapes LIKE metacharacters so search terms match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var _ repository.ProductRepository = (*ProductRepository)(nil)

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	db          database.DBTX
	now         func() time.Time
	environment func() string
}

// Option configures a ProductRepository.
type Option func(*ProductRepository)

// WithEnvironment overrides how DeleteAll determines the running environment.
func WithEnvironment(fn func() string) Option {
	return func(r *ProductRepository) {
		r.environment = fn
	}
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
// DeleteAll reads the ENVIRONMENT variable on each call unless overridden.
func NewProductRepository(db database.DBTX, opts ...Option) *ProductRepository {
	r := &ProductRepository{
		db:          db,
		now:         func() time.Time { return time.Now().UTC() },
		environment: func() string { return os.Getenv("ENVIRONMENT") },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts product with a fresh UUID and timestamps.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) (err error) {
	const query = `
		INSERT INTO products (id, name, category, description, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "products", "CreateProduct", query)
	defer func() { end(err) }()

	now := r.now()
	id := uuid.NewString()

	if _, err = r.db.Exec(ctx, query,
		id, p.Name, string(p.Category), p.Description, p.Image, now, now,
	); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetByID retrieves a product. Malformed ids are reported as not found.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	return r.getByID(ctx, "GetProduct", id)
}

// GetByIDForUpdate reads the row like GetByID. Postgres is always
// authoritative, so the two differ only in the traced operation name.
func (r *ProductRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return r.getByID(ctx, "GetProductForUpdate", id)
}

func (r *ProductRepository) getByID(ctx context.Context, operation, id string) (p *domain.Product, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, apperrors.NotFound("product", id)
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "products", operation, query)
	defer func() { end(err) }()

	p, err = scanProduct(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// List returns products matching filter ordered by created_at descending.
// Rows created in the same instant are ordered by id so paging is stable.
func (r *ProductRepository) List(ctx context.Context, filter repository.ProductFilter) (products []domain.Product, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIndex))
		args = append(args, string(*filter.Category))
		argIndex++
	}

	if filter.Search != nil && strings.TrimSpace(*filter.Search) != "" {
		conditions = append(conditions, fmt.Sprintf(`name ILIKE $%d ESCAPE '\'`, argIndex))
		args = append(args, "%"+likeEscaper.Replace(strings.TrimSpace(*filter.Search))+"%")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY created_at DESC, id DESC`,
		productColumns, whereClause)

	ctx, end := database.TraceQuery(ctx, "products", "ListProducts", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products = []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

// Update applies the non-nil fields of u and bumps updated_at.
func (r *ProductRepository) Update(ctx context.Context, id string, u repository.ProductUpdate) (p *domain.Product, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, apperrors.NotFound("product", id)
	}

	var (
		sets     []string
		args     []any
		argIndex = 1
	)
	set := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Category != nil {
		set("category", string(*u.Category))
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Image != nil {
		set("image", *u.Image)
	}
	set("updated_at", r.now())

	query := fmt.Sprintf(`UPDATE products SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), argIndex, productColumns)
	args = append(args, id)

	ctx, end := database.TraceQuery(ctx, "products", "UpdateProduct", query)
	defer func() { end(err) }()

	p, err = scanProduct(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return p, nil
}

// Delete removes a product by id.
func (r *ProductRepository) Delete(ctx context.Context, id string) (err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return apperrors.NotFound("product", id)
	}

	const query = `DELETE FROM products WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "products", "DeleteProduct", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("product", id)
	}
	return nil
}

// Count returns the total number of products.
func (r *ProductRepository) Count(ctx context.Context) (n int, err error) {
	const query = `SELECT COUNT(*) FROM products`

	ctx, end := database.TraceQuery(ctx, "products", "CountProducts", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// CountByCategory returns product counts grouped by category.
func (r *ProductRepository) CountByCategory(ctx context.Context) (counts map[domain.Category]int, err error) {
	const query = `SELECT category, COUNT(*) FROM products GROUP BY category`

	ctx, end := database.TraceQuery(ctx, "products", "CountProductsByCategory", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count products by category: %w", err)
	}
	defer rows.Close()

	counts = make(map[domain.Category]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[domain.Category(category)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return counts, nil
}

// ListImageRefs returns the image reference of every product that has one.
func (r *ProductRepository) ListImageRefs(ctx context.Context) (refs []string, err error) {
	const query = `SELECT image FROM products WHERE image IS NOT NULL AND image <> ''`

	ctx, end := database.TraceQuery(ctx, "products", "ListImageRefs", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list image refs: %w", err)
	}
	defer rows.Close()

	refs = []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan image ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image refs: %w", err)
	}
	return refs, nil
}

// DeleteAll removes every product. It is refused in production whoever the
// caller is.
func (r *ProductRepository) DeleteAll(ctx context.Context) (n int, err error) {
	if env := r.environment(); domain.IsProduction(env) {
		return 0, apperrors.ForbiddenInEnvironment("bulk delete", env)
	}

	const query = `DELETE FROM products`

	ctx, end := database.TraceQuery(ctx, "products", "DeleteAllProducts", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p        domain.Product
		category string
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&category,
		&p.Description,
		&p.Image,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Category = domain.Category(category)
	return &p, nil
}
