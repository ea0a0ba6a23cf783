package incident

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeduplicatedEvent is the canonical record for one real-world incident.
type DeduplicatedEvent struct {
	ID                        uuid.UUID   `db:"dedup_id" json:"dedup_id"`
	MasterEnrichedID          uuid.UUID   `db:"master_enriched_id" json:"master_enriched_id"`
	Title                     string      `db:"title" json:"title"`
	Description               string      `db:"description" json:"description"`
	Summary                   string      `db:"summary" json:"summary"`
	EventType                 string      `db:"event_type" json:"event_type"`
	Severity                  Severity    `db:"severity" json:"severity"`
	EventDate                 *time.Time  `db:"event_date" json:"event_date,omitempty"`
	RecordsAffected           *int64      `db:"records_affected" json:"records_affected,omitempty"`
	VictimOrganizationName    *string     `db:"victim_organization_name" json:"victim_organization_name,omitempty"`
	VictimOrganizationIndustry *string    `db:"victim_organization_industry" json:"victim_organization_industry,omitempty"`
	AttackingEntityName       *string     `db:"attacking_entity_name" json:"attacking_entity_name,omitempty"`
	AttackMethod              *string     `db:"attack_method" json:"attack_method,omitempty"`
	IsAustralianEvent         bool        `db:"is_australian_event" json:"is_australian_event"`
	IsSpecificEvent           bool        `db:"is_specific_event" json:"is_specific_event"`
	ConfidenceScore           float64     `db:"confidence_score" json:"confidence_score"`
	AustralianRelevanceScore  float64     `db:"australian_relevance_score" json:"australian_relevance_score"`
	TotalDataSources          int         `db:"total_data_sources" json:"total_data_sources"`
	ContributingRawEvents     int         `db:"contributing_raw_events" json:"contributing_raw_events"`
	ContributingEnrichedEvents int        `db:"contributing_enriched_events" json:"contributing_enriched_events"`
	SimilarityScore           float64     `db:"similarity_score" json:"similarity_score"`
	DeduplicationMethod       string      `db:"deduplication_method" json:"deduplication_method"`
	Status                    EventStatus `db:"status" json:"status"`
	CreatedAt                 time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time   `db:"updated_at" json:"updated_at"`
}

// Validate enforces the canonical-record invariants before persistence.
func (d *DeduplicatedEvent) Validate() error {
	if d.MasterEnrichedID == uuid.Nil {
		return fmt.Errorf("deduplicated event requires a master enriched event")
	}
	if d.ContributingEnrichedEvents < 1 {
		return fmt.Errorf("deduplicated event requires at least one contributor")
	}
	if d.Title == "" {
		return fmt.Errorf("deduplicated event title is required")
	}
	return nil
}

// DedupMapping is one EventDeduplicationMap row linking a contributor to
// its canonical record.
type DedupMapping struct {
	RawID              uuid.UUID        `db:"raw_id" json:"raw_id"`
	EnrichedID         uuid.UUID        `db:"enriched_id" json:"enriched_id"`
	DedupID            uuid.UUID        `db:"dedup_id" json:"dedup_id"`
	ContributionType   ContributionType `db:"contribution_type" json:"contribution_type"`
	SimilarityToMaster float64          `db:"similarity_to_master" json:"similarity_to_master"`
	Weight             float64          `db:"weight" json:"weight"`
}

// DedupSource is one consolidated, URL-deduplicated source row.
type DedupSource struct {
	DedupID          uuid.UUID  `db:"dedup_id" json:"dedup_id"`
	SourceURL        string     `db:"source_url" json:"source_url"`
	SourceType       SourceType `db:"source_type" json:"source_type"`
	CredibilityScore float64    `db:"credibility_score" json:"credibility_score"`
	ContentSnippet   string     `db:"content_snippet" json:"content_snippet"`
	DiscoveredAt     time.Time  `db:"discovered_at" json:"discovered_at"`
}
