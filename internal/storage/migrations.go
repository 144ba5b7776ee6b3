package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// rebind converts $N placeholders to the ?N form SQLite understands.
func (d dialect) rebind(query string) string {
	if d == dialectSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

func (d dialect) schema() []string {
	timestamp, money := "TIMESTAMPTZ", "NUMERIC(12,2)"
	if d == dialectSQLite {
		// TEXT keeps decimals exact; NUMERIC affinity would go through float64
		timestamp, money = "TIMESTAMP", "TEXT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) PRIMARY KEY,
			order_date ` + timestamp + ` NOT NULL,
			status VARCHAR(32) NOT NULL,
			user_id VARCHAR(255) NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			id VARCHAR(36) PRIMARY KEY,
			order_id VARCHAR(36) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			line_no INTEGER NOT NULL,
			product_id BIGINT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price ` + money + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_lines_order_id ON order_lines(order_id)`,
	}
}

func applyMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
