package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"product-management/internal/domain"
	"product-management/internal/query"

	"github.com/jackc/pgerrcode"
)

var (
	ErrProductNotFound = errors.New("product not found")
)

// ProductRepository defines the interface for product data access
type ProductRepository interface {
	// NextID reserves an id from the products sequence so dependent asset
	// names can be derived before the row exists.
	NextID(ctx context.Context) (int64, error)
	Create(ctx context.Context, product *domain.Product) error
	Update(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, id int64) error
	// FindAllByID returns every record carrying id, with the category
	// resolved. Callers decide what zero or several matches mean.
	FindAllByID(ctx context.Context, id int64) ([]*domain.Product, error)
	Query(ctx context.Context, spec query.Spec) ([]*domain.Product, int, error)
}

type productRepository struct {
	q Querier
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(q Querier) ProductRepository {
	return &productRepository{q: q}
}

const productColumns = `
	p.id, p.name, p.category_id, p.price, p.quantity,
	p.short_description, p.long_description,
	p.small_image_path, p.large_image_path,
	c.id, c.name`

// Text keys sort bytewise so the database agrees with query.Spec.Less.
var orderColumns = map[query.OrderKey]string{
	query.OrderByName:         `p.name COLLATE "C"`,
	query.OrderByCategoryName: `c.name COLLATE "C"`,
	query.OrderByPrice:        `p.price`,
}

func (r *productRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT nextval(pg_get_serial_sequence('products', 'id'))`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve product id: %w", err)
	}
	return id, nil
}

// Create inserts a new product with an id previously reserved by NextID
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (id, name, category_id, price, quantity,
		                      short_description, long_description,
		                      small_image_path, large_image_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.CategoryID,
		product.Price,
		product.Quantity,
		product.ShortDescription,
		product.LongDescription,
		product.SmallImagePath,
		product.LargeImagePath,
	)

	if err != nil {
		if pgErrorCode(err) == pgerrcode.ForeignKeyViolation {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// Update overwrites every stored attribute of an existing product
func (r *productRepository) Update(ctx context.Context, product *domain.Product) error {
	query := `
		UPDATE products
		SET name = $2, category_id = $3, price = $4, quantity = $5,
		    short_description = $6, long_description = $7,
		    small_image_path = $8, large_image_path = $9
		WHERE id = $1
	`

	result, err := r.q.ExecContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.CategoryID,
		product.Price,
		product.Quantity,
		product.ShortDescription,
		product.LongDescription,
		product.SmallImagePath,
		product.LargeImagePath,
	)

	if err != nil {
		// Check for foreign key violation (unknown category)
		if pgErrorCode(err) == pgerrcode.ForeignKeyViolation {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("failed to update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

// Delete removes a product from the database
func (r *productRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

func (r *productRepository) FindAllByID(ctx context.Context, id int64) ([]*domain.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE p.id = $1
	`

	rows, err := r.q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// Query returns one page of products matching spec and the total number of
// matches across all pages.
func (r *productRepository) Query(ctx context.Context, spec query.Spec) ([]*domain.Product, int, error) {
	// Build the WHERE clause
	whereClause, args := whereFor(spec.Predicate)
	argIndex := len(args) + 1

	// Count matching products
	countQuery := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM products p
		JOIN categories c ON c.id = p.category_id
		%s
	`, whereClause)
	var total int
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	// Validate sort key and direction to prevent SQL injection
	orderBy, ok := orderColumns[spec.OrderKey]
	if !ok {
		orderBy = orderColumns[query.OrderByName]
	}
	direction := query.Asc
	if spec.OrderDirection == query.Desc {
		direction = query.Desc
	}

	pageSize := spec.PageSize
	if pageSize <= 0 {
		pageSize = query.DefaultPageSize
	}
	// Calculate offset
	offset := spec.Offset()

	// Build the main query with sorting and pagination
	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM products p
		JOIN categories c ON c.id = p.category_id
		%s
		ORDER BY %s %s, p.id ASC
		LIMIT $%d OFFSET $%d
	`, productColumns, whereClause, orderBy, direction, argIndex, argIndex+1)

	args = append(args, pageSize, offset)

	rows, err := r.q.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		if !spec.IncludeCategory {
			product.Category = nil
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating products: %w", err)
	}

	return products, total, nil
}

// whereFor renders a predicate as a substring match. strpos is used rather
// than LIKE so that '%' and '_' in the term match literally.
func whereFor(pr *query.Predicate) (string, []any) {
	if pr == nil || pr.Term == "" {
		return "", nil
	}

	var column string
	switch pr.Field {
	case query.SearchByCategory:
		column = "c.name"
	case query.SearchByDescription:
		column = "p.short_description"
	default:
		column = "p.name"
	}

	if pr.CaseInsensitive {
		return fmt.Sprintf("WHERE strpos(lower(%s), lower($1)) > 0", column), []any{pr.Term}
	}
	return fmt.Sprintf("WHERE strpos(%s, $1) > 0", column), []any{pr.Term}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{Category: &domain.Category{}}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.CategoryID,
		&product.Price,
		&product.Quantity,
		&product.ShortDescription,
		&product.LongDescription,
		&product.SmallImagePath,
		&product.LargeImagePath,
		&product.Category.ID,
		&product.Category.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	product.SmallImagePath = nonEmpty(product.SmallImagePath)
	product.LargeImagePath = nonEmpty(product.LargeImagePath)
	return product, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
