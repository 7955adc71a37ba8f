package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CustomerStore struct {
	pool *pgxpool.Pool
}

func NewCustomerStore(pool *pgxpool.Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

// Touch records activity for the customer, creating the row on first sight.
func (s *CustomerStore) Touch(ctx context.Context, email, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("customer email is required")
	}

	query := `
		INSERT INTO customers (email, name, last_order_at)
		VALUES ($1, NULLIF($2, ''), NOW())
		ON CONFLICT (email) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), customers.name),
		    last_order_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query, email, strings.TrimSpace(name))
	return err
}
