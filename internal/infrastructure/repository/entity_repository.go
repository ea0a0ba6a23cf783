package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
)

type entityRepository struct {
	db *database.DB
}

// NewEntityRepository creates the sqlite-backed entity store.
func NewEntityRepository(db *database.DB) EntityRepository {
	return &entityRepository{db: db}
}

func (r *entityRepository) UpsertByName(ctx context.Context, entity *incident.Entity) (*incident.Entity, error) {
	existing, err := r.GetByName(ctx, entity.Name)
	if err != nil && err != errors.ErrEntityNotFound {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO entities (
			entity_id, entity_name, entity_type, industry, turnover,
			employee_count, is_australian, headquarters_location,
			website_url, confidence_score, created_at
		) VALUES (
			:entity_id, :entity_name, :entity_type, :industry, :turnover,
			:employee_count, :is_australian, :headquarters_location,
			:website_url, :confidence_score, :created_at
		)`, entity)
	if err != nil {
		return nil, fmt.Errorf("inserting entity %q: %w", entity.Name, err)
	}
	return entity, nil
}

func (r *entityRepository) GetByName(ctx context.Context, name string) (*incident.Entity, error) {
	var entity incident.Entity
	err := r.db.GetContext(ctx, &entity,
		`SELECT * FROM entities WHERE LOWER(entity_name) = LOWER(?)`, name)
	if err == sql.ErrNoRows {
		return nil, errors.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading entity %q: %w", name, err)
	}
	return &entity, nil
}

func (r *entityRepository) Link(ctx context.Context, link *incident.EventEntity) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO enriched_event_entities (
			enriched_id, entity_id, relationship_type, confidence
		) VALUES (:enriched_id, :entity_id, :relationship_type, :confidence)`, link)
	if err != nil {
		return fmt.Errorf("linking entity %s to event %s: %w", link.EntityID, link.EnrichedID, err)
	}
	return nil
}

func (r *entityRepository) ListForEnriched(ctx context.Context, enrichedID uuid.UUID) ([]*incident.Entity, error) {
	var entities []*incident.Entity
	err := r.db.SelectContext(ctx, &entities, `
		SELECT e.* FROM entities e
		JOIN enriched_event_entities ee ON ee.entity_id = e.entity_id
		WHERE ee.enriched_id = ?
		ORDER BY e.entity_name ASC`, enrichedID)
	if err != nil {
		return nil, fmt.Errorf("listing entities for event %s: %w", enrichedID, err)
	}
	return entities, nil
}
