// Package datastore is the business-database boundary: single-record writes,
// similarity lookups and read-only queries over Postgres.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	DSN              string        `envconfig:"DSN" required:"true"`
	MaxOpenConns     int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"10"`
	QueryRowLimit    int           `envconfig:"QUERY_ROW_LIMIT" split_words:"true" default:"200"`
	StatementTimeout time.Duration `envconfig:"STATEMENT_TIMEOUT" split_words:"true" default:"15s"`
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
