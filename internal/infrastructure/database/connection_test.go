package database

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		URL:         ":memory:",
		BusyTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestOpen_AppliesPragmas(t *testing.T) {
	db := openTestDB(t)

	var fk int
	require.NoError(t, db.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk, "foreign key enforcement must be on")

	var busy int
	require.NoError(t, db.Get(&busy, "PRAGMA busy_timeout"))
	assert.Equal(t, 5000, busy)
}

func TestMigrate_CreatesSchema(t *testing.T) {
	db := openTestDB(t)

	tables := []string{
		"raw_events", "enriched_events", "deduplicated_events", "entities",
		"event_dedup_map", "dedup_event_sources", "enriched_event_entities",
		"processing_log", "enrichment_audit_trail", "months_processed",
	}
	for _, table := range tables {
		var name string
		err := db.Get(&name,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		assert.NoError(t, err, "table %s must exist", table)
	}

	// Migrate is idempotent.
	assert.NoError(t, db.Migrate())
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO entities (entity_id, entity_name, created_at)
			VALUES ('e1', 'Test Org', ?)`, time.Now().UTC())
		require.NoError(t, err)
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM entities"))
	assert.Zero(t, count, "rolled-back insert must not persist")
}
