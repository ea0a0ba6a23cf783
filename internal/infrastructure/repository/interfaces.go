// Package repository persists the three-tier incident model: raw discovery
// records, enriched incidents and deduplicated canonical events, plus the
// mapping tables that tie them together.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

// RawEventRepository stores collector output.
type RawEventRepository interface {
	// Create inserts a raw event. Duplicate (source_type, source_url, title)
	// keys return errors.ErrDuplicateRawEvent.
	Create(ctx context.Context, ev *incident.RawEvent) error

	// Exists reports whether the duplicate key is already present.
	Exists(ctx context.Context, sourceType incident.SourceType, sourceURL, title string) (bool, error)

	// GetByID retrieves one raw event.
	GetByID(ctx context.Context, id uuid.UUID) (*incident.RawEvent, error)

	// ListUnprocessed returns enrichment work, oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]*incident.RawEvent, error)

	// UpdateProcessing persists processing status, error and late content.
	UpdateProcessing(ctx context.Context, ev *incident.RawEvent) error

	// CountBySource returns per-source totals for run statistics.
	CountBySource(ctx context.Context) (map[incident.SourceType]int, error)
}

// EnrichedEventRepository stores pipeline-accepted incidents.
type EnrichedEventRepository interface {
	Create(ctx context.Context, ev *incident.EnrichedEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*incident.EnrichedEvent, error)
	Update(ctx context.Context, ev *incident.EnrichedEvent) error

	// ListActiveWithSource returns Active enriched events joined with their
	// owning raw event's URL, source type and discovery time, ordered by
	// created_at ascending for deterministic dedup grouping.
	ListActiveWithSource(ctx context.Context) ([]*EnrichedWithSource, error)

	// FindActiveByVictimAndDate backs the validator's duplicate check.
	FindActiveByVictimAndDate(ctx context.Context, victimName string, eventDate time.Time) (*incident.EnrichedEvent, error)

	// MarkSuperseded flips contributors to Superseded after a merge.
	MarkSuperseded(ctx context.Context, ids []uuid.UUID) error

	// ListForBackfill returns Active events not yet Perplexity-validated.
	ListForBackfill(ctx context.Context, limit int) ([]*incident.EnrichedEvent, error)

	// ListWithRecordsAffected returns rows for the records repair job.
	ListWithRecordsAffected(ctx context.Context) ([]*incident.EnrichedEvent, error)
}

// EnrichedWithSource is the dedup engine's input row.
type EnrichedWithSource struct {
	incident.EnrichedEvent
	SourceURL        *string             `db:"source_url"`
	SourceType       incident.SourceType `db:"source_type"`
	SourceDiscovered time.Time           `db:"discovered_at"`
}

// DedupRepository stores canonical events and their mapping rows.
type DedupRepository interface {
	// CreateGroup persists the canonical event, its mapping rows and its
	// consolidated sources in one transaction, and supersedes non-master
	// contributors.
	CreateGroup(ctx context.Context, ev *incident.DeduplicatedEvent,
		mappings []incident.DedupMapping, sources []incident.DedupSource) error

	GetByID(ctx context.Context, id uuid.UUID) (*incident.DeduplicatedEvent, error)
	ListActive(ctx context.Context) ([]*incident.DeduplicatedEvent, error)
	ListSources(ctx context.Context, dedupID uuid.UUID) ([]*incident.DedupSource, error)
	ListMappings(ctx context.Context, dedupID uuid.UUID) ([]*incident.DedupMapping, error)

	// PurgeActive removes current canonical rows (and mappings) so a dedup
	// re-run can rebuild them; superseded enriched events are reactivated.
	PurgeActive(ctx context.Context) error
}

// EntityRepository stores named organizations, people and threat actors.
type EntityRepository interface {
	// UpsertByName finds-or-creates an entity keyed by its unique name.
	UpsertByName(ctx context.Context, entity *incident.Entity) (*incident.Entity, error)
	GetByName(ctx context.Context, name string) (*incident.Entity, error)
	Link(ctx context.Context, link *incident.EventEntity) error
	ListForEnriched(ctx context.Context, enrichedID uuid.UUID) ([]*incident.Entity, error)
}

// ProcessingLogEntry is one stage-level log row.
type ProcessingLogEntry struct {
	LogID      uuid.UUID  `db:"log_id"`
	RawID      uuid.UUID  `db:"raw_id"`
	Stage      string     `db:"stage"`
	Status     string     `db:"status"`
	ResultBlob *string    `db:"result_blob"`
	Error      *string    `db:"error"`
	DurationMS int64      `db:"duration_ms"`
	CreatedAt  time.Time  `db:"created_at"`
}

// ProcessingLogRepository appends stage results for observability.
type ProcessingLogRepository interface {
	Append(ctx context.Context, entry *ProcessingLogEntry) error
	ListForRaw(ctx context.Context, rawID uuid.UUID) ([]*ProcessingLogEntry, error)
}

// AuditTrailRow is the persisted per-run audit record; stage blobs are
// compact JSON.
type AuditTrailRow struct {
	AuditID         uuid.UUID `db:"audit_id"`
	RawID           uuid.UUID `db:"raw_id"`
	StartedAt       time.Time `db:"started_at"`
	FinishedAt      time.Time `db:"finished_at"`
	FinalDecision   string    `db:"final_decision"`
	FinalConfidence float64   `db:"final_confidence"`
	FailedStage     *string   `db:"failed_stage"`
	FailureError    *string   `db:"failure_error"`
	StageContent    *string   `db:"stage_content"`
	StageExtraction *string   `db:"stage_extraction"`
	StageFactCheck  *string   `db:"stage_factcheck"`
	StageValidation *string   `db:"stage_validation"`
	StageConfidence *string   `db:"stage_confidence"`
}

// AuditRepository stores one audit trail row per pipeline run.
type AuditRepository interface {
	Save(ctx context.Context, row *AuditTrailRow) error
	GetForRaw(ctx context.Context, rawID uuid.UUID) ([]*AuditTrailRow, error)
}

// MonthStats summarises one backfilled month.
type MonthStats struct {
	Discovered int `json:"discovered"`
	Enriched   int `json:"enriched"`
	Rejected   int `json:"rejected"`
	Errors     int `json:"errors"`
}

// MonthLedger makes month-by-month backfills idempotent.
type MonthLedger interface {
	IsProcessed(ctx context.Context, year int, month time.Month) (bool, error)
	MarkProcessed(ctx context.Context, year int, month time.Month, stats MonthStats) error
	GetStats(ctx context.Context, year int, month time.Month) (*MonthStats, error)
}
