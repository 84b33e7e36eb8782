package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nikhil/eavenchat/internal/logger"
)

// Dialect carries the statements that differ between the supported drivers.
type Dialect struct {
	Name   string
	Schema []string

	// UpsertMarker inserts or advances a read marker without ever moving it back.
	// Args: user_id, channel_key, last_read_id, read_at.
	UpsertMarker string
}

// DialectFor returns the dialect of a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return mysqlDialect, nil
	case "sqlite3":
		return sqliteDialect, nil
	}
	return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
}

// Open connects to the database and verifies the connection is alive.
func Open(driver, dsn string, log *logger.Logger) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Dialect{}, fmt.Errorf("database connection is not active: %w", err)
	}

	log.Info("Database connected successfully", "driver", driver)
	return db, dialect, nil
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for i, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i, err)
		}
	}
	return nil
}
