package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
)

type monthLedger struct {
	db *database.DB
}

// NewMonthLedger creates the backfill idempotency ledger.
func NewMonthLedger(db *database.DB) MonthLedger {
	return &monthLedger{db: db}
}

func (r *monthLedger) IsProcessed(ctx context.Context, year int, month time.Month) (bool, error) {
	var processed int
	err := r.db.GetContext(ctx, &processed,
		`SELECT is_processed FROM months_processed WHERE year = ? AND month = ?`,
		year, int(month))
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking month %d-%02d: %w", year, month, err)
	}
	return processed == 1, nil
}

func (r *monthLedger) MarkProcessed(ctx context.Context, year int, month time.Month, stats MonthStats) error {
	blob, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling month stats: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO months_processed (year, month, is_processed, stats, processed_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (year, month) DO UPDATE SET
			is_processed = 1, stats = excluded.stats, processed_at = excluded.processed_at`,
		year, int(month), string(blob), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking month %d-%02d processed: %w", year, month, err)
	}
	return nil
}

func (r *monthLedger) GetStats(ctx context.Context, year int, month time.Month) (*MonthStats, error) {
	var blob string
	err := r.db.GetContext(ctx, &blob,
		`SELECT stats FROM months_processed WHERE year = ? AND month = ?`,
		year, int(month))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading month stats %d-%02d: %w", year, month, err)
	}
	var stats MonthStats
	if err := json.Unmarshal([]byte(blob), &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling month stats: %w", err)
	}
	return &stats, nil
}
