package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads the catalog from a products table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSource{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			tags TEXT[] NOT NULL DEFAULT '{}',
			availability_status TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_products_position ON products (position);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) Fetch(ctx context.Context) ([]Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, category, price, discount_percentage, rating,
		        tags, availability_status, created_at
		 FROM products ORDER BY position, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.Category, &p.Price,
			&p.DiscountPercentage, &p.Rating, &p.Tags, &p.AvailabilityStatus, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

// Seed replaces the table contents with products, keeping their order.
func (s *PostgresSource) Seed(ctx context.Context, products []Product) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("clear products: %w", err)
	}
	for i, p := range products {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO products (id, position, name, description, category, price,
			                       discount_percentage, rating, tags, availability_status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			p.ID, i, p.Name, p.Description, p.Category, p.Price,
			p.DiscountPercentage, p.Rating, tags, p.AvailabilityStatus, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert product %d: %w", p.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
