package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DBTX
}

func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

const schema = `CREATE TABLE IF NOT EXISTS products (
	id         BIGSERIAL PRIMARY KEY,
	name       VARCHAR(255) NOT NULL,
	price      BIGINT NOT NULL DEFAULT 0,
	qty        BIGINT NOT NULL DEFAULT 0 CHECK (qty >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create products table: %w", err)
	}
	return nil
}

func (r *Repository) CreateProduct(ctx context.Context, p *Product) (*Product, error) {
	query := `INSERT INTO products (name, price, qty) VALUES ($1, $2, $3) RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query, p.Name, p.Price, p.Qty).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

func (r *Repository) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	var p Product
	query := `SELECT id, name, price, qty, created_at FROM products WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.Qty, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return &p, nil
}

// DecrementStock subtracts amount from qty in a single conditioned UPDATE.
// It reports false, without error, when the product holds less than amount
// (or does not exist); qty is then left untouched.
func (r *Repository) DecrementStock(ctx context.Context, id, amount int64) (bool, error) {
	query := `UPDATE products SET qty = qty - $2 WHERE id = $1 AND qty >= $2`
	tag, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock for product %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
