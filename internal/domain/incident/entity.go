package incident

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity is a named organization, person or threat actor referenced by incidents.
type Entity struct {
	ID                   uuid.UUID  `db:"entity_id" json:"entity_id"`
	Name                 string     `db:"entity_name" json:"entity_name"`
	Type                 EntityType `db:"entity_type" json:"entity_type"`
	Industry             *string    `db:"industry" json:"industry,omitempty"`
	Turnover             *string    `db:"turnover" json:"turnover,omitempty"`
	EmployeeCount        *int       `db:"employee_count" json:"employee_count,omitempty"`
	IsAustralian         bool       `db:"is_australian" json:"is_australian"`
	HeadquartersLocation *string    `db:"headquarters_location" json:"headquarters_location,omitempty"`
	WebsiteURL           *string    `db:"website_url" json:"website_url,omitempty"`
	ConfidenceScore      float64    `db:"confidence_score" json:"confidence_score"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// NewEntity creates an entity with a normalised display name.
func NewEntity(name string, entityType EntityType) *Entity {
	return &Entity{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		Type:      entityType,
		CreatedAt: time.Now().UTC(),
	}
}

// NormalizedName is the lower-cased key used for entity merging.
func (e *Entity) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(e.Name))
}

// EventEntity links an entity to an enriched event with a relationship.
type EventEntity struct {
	EnrichedID uuid.UUID        `db:"enriched_id" json:"enriched_id"`
	EntityID   uuid.UUID        `db:"entity_id" json:"entity_id"`
	Relation   RelationshipType `db:"relationship_type" json:"relationship_type"`
	Confidence float64          `db:"confidence" json:"confidence"`
}
