package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CatalogStore is the record store for products and categories.
type CatalogStore interface {
	Products() ProductRepository
	Categories() CategoryRepository

	// WithinTx runs fn against a store bound to a single transaction. The
	// transaction commits only if fn returns nil. Nested calls reuse the
	// outer transaction.
	WithinTx(ctx context.Context, fn func(tx CatalogStore) error) error
}

type catalogStore struct {
	db   *sql.DB
	q    Querier
	inTx bool
}

// NewCatalogStore creates a CatalogStore backed by db
func NewCatalogStore(db *sql.DB) CatalogStore {
	return &catalogStore{db: db, q: db}
}

func (s *catalogStore) Products() ProductRepository {
	return NewProductRepository(s.q)
}

func (s *catalogStore) Categories() CategoryRepository {
	return NewCategoryRepository(s.q)
}

func (s *catalogStore) WithinTx(ctx context.Context, fn func(tx CatalogStore) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&catalogStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgErrorCode returns the SQLSTATE of a postgres error, or "".
func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
