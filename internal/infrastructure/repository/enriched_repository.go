package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
)

type enrichedEventRepository struct {
	db *database.DB
}

// NewEnrichedEventRepository creates the sqlite-backed enriched event store.
func NewEnrichedEventRepository(db *database.DB) EnrichedEventRepository {
	return &enrichedEventRepository{db: db}
}

func (r *enrichedEventRepository) Create(ctx context.Context, ev *incident.EnrichedEvent) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO enriched_events (
			enriched_id, raw_id, title, description, summary, event_type,
			severity, event_date, records_affected, is_australian_event,
			is_specific_event, confidence_score, australian_relevance_score,
			perplexity_validated, perplexity_enrichment_data,
			attacking_entity_name, attack_method, status, created_at, updated_at
		) VALUES (
			:enriched_id, :raw_id, :title, :description, :summary, :event_type,
			:severity, :event_date, :records_affected, :is_australian_event,
			:is_specific_event, :confidence_score, :australian_relevance_score,
			:perplexity_validated, :perplexity_enrichment_data,
			:attacking_entity_name, :attack_method, :status, :created_at, :updated_at
		)`, ev)
	if err != nil {
		return fmt.Errorf("inserting enriched event: %w", err)
	}
	return nil
}

func (r *enrichedEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*incident.EnrichedEvent, error) {
	var ev incident.EnrichedEvent
	err := r.db.GetContext(ctx, &ev, `SELECT * FROM enriched_events WHERE enriched_id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrEnrichedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading enriched event: %w", err)
	}
	return &ev, nil
}

func (r *enrichedEventRepository) Update(ctx context.Context, ev *incident.EnrichedEvent) error {
	ev.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE enriched_events SET
			title = :title, description = :description, summary = :summary,
			event_type = :event_type, severity = :severity, event_date = :event_date,
			records_affected = :records_affected,
			is_australian_event = :is_australian_event,
			is_specific_event = :is_specific_event,
			confidence_score = :confidence_score,
			australian_relevance_score = :australian_relevance_score,
			perplexity_validated = :perplexity_validated,
			perplexity_enrichment_data = :perplexity_enrichment_data,
			attacking_entity_name = :attacking_entity_name,
			attack_method = :attack_method, status = :status, updated_at = :updated_at
		WHERE enriched_id = :enriched_id`, ev)
	if err != nil {
		return fmt.Errorf("updating enriched event: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.ErrEnrichedNotFound
	}
	return nil
}

func (r *enrichedEventRepository) ListActiveWithSource(ctx context.Context) ([]*EnrichedWithSource, error) {
	var rows []*EnrichedWithSource
	err := r.db.SelectContext(ctx, &rows, `
		SELECT e.*, r.source_url, r.source_type, r.discovered_at
		FROM enriched_events e
		JOIN raw_events r ON r.raw_id = e.raw_id
		WHERE e.status = ?
		ORDER BY e.created_at ASC`, incident.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing active enriched events: %w", err)
	}
	return rows, nil
}

func (r *enrichedEventRepository) FindActiveByVictimAndDate(ctx context.Context, victimName string, eventDate time.Time) (*incident.EnrichedEvent, error) {
	var ev incident.EnrichedEvent
	err := r.db.GetContext(ctx, &ev, `
		SELECT e.* FROM enriched_events e
		JOIN enriched_event_entities ee ON ee.enriched_id = e.enriched_id
		JOIN entities en ON en.entity_id = ee.entity_id
		WHERE e.status = ?
		  AND ee.relationship_type = ?
		  AND LOWER(en.entity_name) = LOWER(?)
		  AND DATE(e.event_date) = DATE(?)
		LIMIT 1`,
		incident.StatusActive, incident.RelationVictim, victimName, eventDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding enriched event by victim and date: %w", err)
	}
	return &ev, nil
}

func (r *enrichedEventRepository) MarkSuperseded(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := r.db.ExecContext(ctx,
			`UPDATE enriched_events SET status = ?, updated_at = ? WHERE enriched_id = ?`,
			incident.StatusSuperseded, now, id)
		if err != nil {
			return fmt.Errorf("superseding enriched event %s: %w", id, err)
		}
	}
	return nil
}

func (r *enrichedEventRepository) ListForBackfill(ctx context.Context, limit int) ([]*incident.EnrichedEvent, error) {
	var events []*incident.EnrichedEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM enriched_events
		WHERE status = ? AND perplexity_validated = 0
		ORDER BY created_at ASC
		LIMIT ?`, incident.StatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("listing backfill candidates: %w", err)
	}
	return events, nil
}

func (r *enrichedEventRepository) ListWithRecordsAffected(ctx context.Context) ([]*incident.EnrichedEvent, error) {
	var events []*incident.EnrichedEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM enriched_events
		WHERE records_affected IS NOT NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing events with records_affected: %w", err)
	}
	return events, nil
}
