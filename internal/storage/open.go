package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open connects to the configured backend, waits for it to accept
// connections and applies the schema. dsn is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string, logger *logrus.Logger) (Store, error) {
	switch driver {
	case DriverMemory:
		logger.Info("Using in-memory order store")
		return NewMemoryStore(), nil
	case DriverPostgres:
		return openSQL(ctx, DriverPostgres, dsn, dialectPostgres, logger)
	case DriverSQLite:
		return openSQL(ctx, DriverSQLite, dsn, dialectSQLite, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func openSQL(ctx context.Context, driver, dsn string, d dialect, logger *logrus.Logger) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d == dialectSQLite {
		// one connection keeps :memory: databases alive and the pragma applied
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := waitForDB(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := applyMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.WithField("driver", driver).Info("Database connection established")
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

func waitForDB(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	var err error
	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		logger.WithError(err).WithField("attempt", i+1).Info("Waiting for database...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("database not reachable: %w", err)
}
