package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
)

type rawEventRepository struct {
	db *database.DB
}

// NewRawEventRepository creates the sqlite-backed raw event store.
func NewRawEventRepository(db *database.DB) RawEventRepository {
	return &rawEventRepository{db: db}
}

// rawEventRow carries the metadata JSON column alongside the domain fields.
type rawEventRow struct {
	incident.RawEvent
	MetadataJSON string `db:"source_metadata"`
}

func (r *rawEventRepository) Create(ctx context.Context, ev *incident.RawEvent) error {
	exists, err := r.Exists(ctx, ev.SourceType, urlOrEmpty(ev.SourceURL), ev.Title)
	if err != nil {
		return err
	}
	if exists {
		return errors.ErrDuplicateRawEvent
	}

	metadata, err := json.Marshal(ev.SourceMetadata)
	if err != nil {
		return fmt.Errorf("marshaling source metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO raw_events (
			raw_id, source_type, source_event_id, title, description, content,
			event_date, source_url, source_metadata, discovered_at,
			is_processed, processing_attempted_at, processing_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SourceType, ev.SourceEventID, ev.Title, ev.Description,
		ev.Content, ev.EventDate, ev.SourceURL, string(metadata),
		ev.DiscoveredAt, ev.IsProcessed, ev.ProcessingAttempted, ev.ProcessingError)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.ErrDuplicateRawEvent
		}
		return fmt.Errorf("inserting raw event: %w", err)
	}
	return nil
}

func (r *rawEventRepository) Exists(ctx context.Context, sourceType incident.SourceType, sourceURL, title string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM raw_events
		WHERE source_type = ? AND COALESCE(source_url, '') = ? AND title = ? COLLATE NOCASE`,
		sourceType, sourceURL, title)
	if err != nil {
		return false, fmt.Errorf("checking raw event existence: %w", err)
	}
	return count > 0, nil
}

func (r *rawEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*incident.RawEvent, error) {
	var row rawEventRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM raw_events WHERE raw_id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrRawEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading raw event: %w", err)
	}
	return row.toDomain()
}

func (r *rawEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*incident.RawEvent, error) {
	var rows []rawEventRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM raw_events
		WHERE is_processed = 0
		ORDER BY discovered_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed raw events: %w", err)
	}

	events := make([]*incident.RawEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *rawEventRepository) UpdateProcessing(ctx context.Context, ev *incident.RawEvent) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE raw_events
		SET content = ?, is_processed = ?, processing_attempted_at = ?, processing_error = ?
		WHERE raw_id = ?`,
		ev.Content, ev.IsProcessed, ev.ProcessingAttempted, ev.ProcessingError, ev.ID)
	if err != nil {
		return fmt.Errorf("updating raw event processing state: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.ErrRawEventNotFound
	}
	return nil
}

func (r *rawEventRepository) CountBySource(ctx context.Context) (map[incident.SourceType]int, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT source_type, COUNT(*) FROM raw_events GROUP BY source_type`)
	if err != nil {
		return nil, fmt.Errorf("counting raw events: %w", err)
	}
	defer rows.Close()

	counts := make(map[incident.SourceType]int)
	for rows.Next() {
		var sourceType incident.SourceType
		var count int
		if err := rows.Scan(&sourceType, &count); err != nil {
			return nil, fmt.Errorf("scanning raw event count: %w", err)
		}
		counts[sourceType] = count
	}
	return counts, rows.Err()
}

func (row *rawEventRow) toDomain() (*incident.RawEvent, error) {
	ev := row.RawEvent
	ev.SourceMetadata = make(map[string]string)
	if row.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(row.MetadataJSON), &ev.SourceMetadata); err != nil {
			return nil, fmt.Errorf("unmarshaling source metadata: %w", err)
		}
	}
	return &ev, nil
}

func urlOrEmpty(u *string) string {
	if u == nil {
		return ""
	}
	return *u
}
