// Package database manages the sqlite store backing the three-tier
// incident corpus. A single writer connection with WAL journaling gives
// concurrent readers and serialised writes, which covers the pipeline's
// sub-10-events-per-second write rate.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/config"
)

// DB wraps the sqlx handle with pipeline-specific lifecycle management.
type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// Open connects to the sqlite database at cfg.URL, applies the required
// pragmas (foreign keys, WAL, busy timeout) and verifies connectivity.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Open("sqlite", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// One writer connection; sqlite serialises writes anyway and a single
	// connection keeps the in-memory variant coherent across goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 30 * time.Second
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	logger.Info("sqlite database opened",
		zap.String("url", cfg.URL),
		zap.Duration("busy_timeout", busy))

	return &DB{DB: db, logger: logger}, nil
}

// HealthCheck verifies the connection still answers queries.
func (d *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := d.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back on error.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
