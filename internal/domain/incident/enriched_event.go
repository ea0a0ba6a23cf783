package incident

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnrichedEvent is a structured incident with provenance to one RawEvent.
type EnrichedEvent struct {
	ID                       uuid.UUID   `db:"enriched_id" json:"enriched_id"`
	RawID                    uuid.UUID   `db:"raw_id" json:"raw_id"`
	Title                    string      `db:"title" json:"title"`
	Description              string      `db:"description" json:"description"`
	Summary                  string      `db:"summary" json:"summary"`
	EventType                string      `db:"event_type" json:"event_type"`
	Severity                 Severity    `db:"severity" json:"severity"`
	EventDate                *time.Time  `db:"event_date" json:"event_date,omitempty"`
	RecordsAffected          *int64      `db:"records_affected" json:"records_affected,omitempty"`
	IsAustralianEvent        bool        `db:"is_australian_event" json:"is_australian_event"`
	IsSpecificEvent          bool        `db:"is_specific_event" json:"is_specific_event"`
	ConfidenceScore          float64     `db:"confidence_score" json:"confidence_score"`
	AustralianRelevanceScore float64     `db:"australian_relevance_score" json:"australian_relevance_score"`
	PerplexityValidated      bool        `db:"perplexity_validated" json:"perplexity_validated"`
	PerplexityEnrichment     *string     `db:"perplexity_enrichment_data" json:"perplexity_enrichment_data,omitempty"`
	AttackingEntityName      *string     `db:"attacking_entity_name" json:"attacking_entity_name,omitempty"`
	AttackMethod             *string     `db:"attack_method" json:"attack_method,omitempty"`
	Status                   EventStatus `db:"status" json:"status"`
	CreatedAt                time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time   `db:"updated_at" json:"updated_at"`
}

// NewEnrichedEvent creates an Active enriched event owned by the given raw event.
// Standard inserts require both Australian relevance and specificity; callers
// performing a manual override go through NewEnrichedEventOverride.
func NewEnrichedEvent(rawID uuid.UUID, title string, isAustralian, isSpecific bool) (*EnrichedEvent, error) {
	if rawID == uuid.Nil {
		return nil, fmt.Errorf("enriched event requires an owning raw event")
	}
	if title == "" {
		return nil, fmt.Errorf("enriched event title is required")
	}
	if !isAustralian || !isSpecific {
		return nil, fmt.Errorf("standard enriched inserts require an Australian, specific incident")
	}
	now := time.Now().UTC()
	return &EnrichedEvent{
		ID:                uuid.New(),
		RawID:             rawID,
		Title:             title,
		Severity:          SeverityUnknown,
		IsAustralianEvent: isAustralian,
		IsSpecificEvent:   isSpecific,
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// NewEnrichedEventOverride creates an enriched event outside the standard
// Australian+specific gate, for operator-driven inserts.
func NewEnrichedEventOverride(rawID uuid.UUID, title string) (*EnrichedEvent, error) {
	if rawID == uuid.Nil {
		return nil, fmt.Errorf("enriched event requires an owning raw event")
	}
	now := time.Now().UTC()
	return &EnrichedEvent{
		ID:        uuid.New(),
		RawID:     rawID,
		Title:     title,
		Severity:  SeverityUnknown,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Supersede marks the event as merged into a deduplicated group.
func (e *EnrichedEvent) Supersede() {
	e.Status = StatusSuperseded
	e.UpdatedAt = time.Now().UTC()
}

// ApplyPerplexityBackfill records a backfill pass over this event.
func (e *EnrichedEvent) ApplyPerplexityBackfill(blob string, validated bool) {
	e.PerplexityValidated = validated
	e.PerplexityEnrichment = &blob
	e.UpdatedAt = time.Now().UTC()
}
