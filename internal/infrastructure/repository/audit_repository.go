package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
)

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates the sqlite-backed enrichment audit store.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Save(ctx context.Context, row *AuditTrailRow) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO enrichment_audit_trail (
			audit_id, raw_id, started_at, finished_at, final_decision,
			final_confidence, failed_stage, failure_error,
			stage_content, stage_extraction, stage_factcheck,
			stage_validation, stage_confidence
		) VALUES (
			:audit_id, :raw_id, :started_at, :finished_at, :final_decision,
			:final_confidence, :failed_stage, :failure_error,
			:stage_content, :stage_extraction, :stage_factcheck,
			:stage_validation, :stage_confidence
		)`, row)
	if err != nil {
		return fmt.Errorf("saving audit trail: %w", err)
	}
	return nil
}

func (r *auditRepository) GetForRaw(ctx context.Context, rawID uuid.UUID) ([]*AuditTrailRow, error) {
	var rows []*AuditTrailRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM enrichment_audit_trail
		WHERE raw_id = ?
		ORDER BY started_at ASC`, rawID)
	if err != nil {
		return nil, fmt.Errorf("loading audit trail for %s: %w", rawID, err)
	}
	return rows, nil
}

type processingLogRepository struct {
	db *database.DB
}

// NewProcessingLogRepository creates the stage-level processing ledger.
func NewProcessingLogRepository(db *database.DB) ProcessingLogRepository {
	return &processingLogRepository{db: db}
}

func (r *processingLogRepository) Append(ctx context.Context, entry *ProcessingLogEntry) error {
	if entry.LogID == uuid.Nil {
		entry.LogID = uuid.New()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO processing_log (
			log_id, raw_id, stage, status, result_blob, error, duration_ms, created_at
		) VALUES (
			:log_id, :raw_id, :stage, :status, :result_blob, :error, :duration_ms, :created_at
		)`, entry)
	if err != nil {
		return fmt.Errorf("appending processing log: %w", err)
	}
	return nil
}

func (r *processingLogRepository) ListForRaw(ctx context.Context, rawID uuid.UUID) ([]*ProcessingLogEntry, error) {
	var entries []*ProcessingLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM processing_log
		WHERE raw_id = ?
		ORDER BY created_at ASC`, rawID)
	if err != nil {
		return nil, fmt.Errorf("loading processing log for %s: %w", rawID, err)
	}
	return entries, nil
}
