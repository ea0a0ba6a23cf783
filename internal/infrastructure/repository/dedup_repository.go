package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
)

type dedupRepository struct {
	db *database.DB
}

// NewDedupRepository creates the sqlite-backed canonical event store.
func NewDedupRepository(db *database.DB) DedupRepository {
	return &dedupRepository{db: db}
}

func (r *dedupRepository) CreateGroup(ctx context.Context, ev *incident.DeduplicatedEvent,
	mappings []incident.DedupMapping, sources []incident.DedupSource) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validating deduplicated event: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO deduplicated_events (
				dedup_id, master_enriched_id, title, description, summary,
				event_type, severity, event_date, records_affected,
				victim_organization_name, victim_organization_industry,
				attacking_entity_name, attack_method,
				is_australian_event, is_specific_event,
				confidence_score, australian_relevance_score,
				total_data_sources, contributing_raw_events,
				contributing_enriched_events, similarity_score,
				deduplication_method, status, created_at, updated_at
			) VALUES (
				:dedup_id, :master_enriched_id, :title, :description, :summary,
				:event_type, :severity, :event_date, :records_affected,
				:victim_organization_name, :victim_organization_industry,
				:attacking_entity_name, :attack_method,
				:is_australian_event, :is_specific_event,
				:confidence_score, :australian_relevance_score,
				:total_data_sources, :contributing_raw_events,
				:contributing_enriched_events, :similarity_score,
				:deduplication_method, :status, :created_at, :updated_at
			)`, ev)
		if err != nil {
			return fmt.Errorf("inserting deduplicated event: %w", err)
		}

		for i := range mappings {
			m := &mappings[i]
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO event_dedup_map (
					raw_id, enriched_id, dedup_id, contribution_type,
					similarity_to_master, weight
				) VALUES (
					:raw_id, :enriched_id, :dedup_id, :contribution_type,
					:similarity_to_master, :weight
				)`, m)
			if err != nil {
				return fmt.Errorf("inserting dedup mapping for %s: %w", m.EnrichedID, err)
			}

			// Contributors other than the master are retired from the
			// active enriched tier.
			if m.EnrichedID != ev.MasterEnrichedID {
				_, err := tx.ExecContext(ctx,
					`UPDATE enriched_events SET status = ?, updated_at = ? WHERE enriched_id = ?`,
					incident.StatusSuperseded, time.Now().UTC(), m.EnrichedID)
				if err != nil {
					return fmt.Errorf("superseding contributor %s: %w", m.EnrichedID, err)
				}
			}
		}

		for i := range sources {
			_, err := tx.NamedExecContext(ctx, `
				INSERT OR IGNORE INTO dedup_event_sources (
					dedup_id, source_url, source_type, credibility_score,
					content_snippet, discovered_at
				) VALUES (
					:dedup_id, :source_url, :source_type, :credibility_score,
					:content_snippet, :discovered_at
				)`, &sources[i])
			if err != nil {
				return fmt.Errorf("inserting dedup source: %w", err)
			}
		}
		return nil
	})
}

func (r *dedupRepository) GetByID(ctx context.Context, id uuid.UUID) (*incident.DeduplicatedEvent, error) {
	var ev incident.DeduplicatedEvent
	err := r.db.GetContext(ctx, &ev, `SELECT * FROM deduplicated_events WHERE dedup_id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDedupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading deduplicated event: %w", err)
	}
	return &ev, nil
}

func (r *dedupRepository) ListActive(ctx context.Context) ([]*incident.DeduplicatedEvent, error) {
	var events []*incident.DeduplicatedEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM deduplicated_events
		WHERE status = ?
		ORDER BY event_date DESC, created_at DESC`, incident.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing deduplicated events: %w", err)
	}
	return events, nil
}

func (r *dedupRepository) ListSources(ctx context.Context, dedupID uuid.UUID) ([]*incident.DedupSource, error) {
	var sources []*incident.DedupSource
	err := r.db.SelectContext(ctx, &sources, `
		SELECT * FROM dedup_event_sources
		WHERE dedup_id = ?
		ORDER BY credibility_score DESC, discovered_at ASC`, dedupID)
	if err != nil {
		return nil, fmt.Errorf("listing dedup sources: %w", err)
	}
	return sources, nil
}

func (r *dedupRepository) ListMappings(ctx context.Context, dedupID uuid.UUID) ([]*incident.DedupMapping, error) {
	var mappings []*incident.DedupMapping
	err := r.db.SelectContext(ctx, &mappings, `
		SELECT * FROM event_dedup_map
		WHERE dedup_id = ?
		ORDER BY similarity_to_master DESC`, dedupID)
	if err != nil {
		return nil, fmt.Errorf("listing dedup mappings: %w", err)
	}
	return mappings, nil
}

func (r *dedupRepository) PurgeActive(ctx context.Context) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Reactivate enriched events that the active canonical rows had
		// superseded, so the rebuilt sweep sees the full population.
		_, err := tx.ExecContext(ctx, `
			UPDATE enriched_events SET status = ?, updated_at = ?
			WHERE status = ? AND enriched_id IN (
				SELECT m.enriched_id FROM event_dedup_map m
				JOIN deduplicated_events d ON d.dedup_id = m.dedup_id
				WHERE d.status = ?
			)`,
			incident.StatusActive, time.Now().UTC(),
			incident.StatusSuperseded, incident.StatusActive)
		if err != nil {
			return fmt.Errorf("reactivating superseded enriched events: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM event_dedup_map WHERE dedup_id IN (
				SELECT dedup_id FROM deduplicated_events WHERE status = ?
			)`, incident.StatusActive)
		if err != nil {
			return fmt.Errorf("purging dedup mappings: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM dedup_event_sources WHERE dedup_id IN (
				SELECT dedup_id FROM deduplicated_events WHERE status = ?
			)`, incident.StatusActive)
		if err != nil {
			return fmt.Errorf("purging dedup sources: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM deduplicated_events WHERE status = ?`, incident.StatusActive)
		if err != nil {
			return fmt.Errorf("purging deduplicated events: %w", err)
		}
		return nil
	})
}
