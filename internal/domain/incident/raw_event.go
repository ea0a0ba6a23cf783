package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawEvent is an immutable discovery record produced by a collector.
// Only processing status and late-fetched content are ever mutated;
// rows are never deleted.
type RawEvent struct {
	ID                  uuid.UUID         `db:"raw_id" json:"raw_id"`
	SourceType          SourceType        `db:"source_type" json:"source_type"`
	SourceEventID       string            `db:"source_event_id" json:"source_event_id"`
	Title               string            `db:"title" json:"title"`
	Description         string            `db:"description" json:"description"`
	Content             *string           `db:"content" json:"content,omitempty"`
	EventDate           *time.Time        `db:"event_date" json:"event_date,omitempty"`
	SourceURL           *string           `db:"source_url" json:"source_url,omitempty"`
	SourceMetadata      map[string]string `db:"-" json:"source_metadata,omitempty"`
	DiscoveredAt        time.Time         `db:"discovered_at" json:"discovered_at"`
	IsProcessed         bool              `db:"is_processed" json:"is_processed"`
	ProcessingAttempted *time.Time        `db:"processing_attempted_at" json:"processing_attempted_at,omitempty"`
	ProcessingError     *string           `db:"processing_error" json:"processing_error,omitempty"`
}

// NewRawEvent builds a raw event with a fresh identity and discovery timestamp.
func NewRawEvent(sourceType SourceType, title, description string) (*RawEvent, error) {
	if !sourceType.Valid() {
		return nil, fmt.Errorf("invalid source type: %q", sourceType)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("raw event title is required")
	}
	return &RawEvent{
		ID:             uuid.New(),
		SourceType:     sourceType,
		Title:          title,
		Description:    strings.TrimSpace(description),
		SourceMetadata: make(map[string]string),
		DiscoveredAt:   time.Now().UTC(),
	}, nil
}

// WithURL attaches a source URL, trimming tracking whitespace.
func (r *RawEvent) WithURL(u string) *RawEvent {
	u = strings.TrimSpace(u)
	if u != "" {
		r.SourceURL = &u
	}
	return r
}

// WithEventDate attaches the reported event date.
func (r *RawEvent) WithEventDate(t time.Time) *RawEvent {
	r.EventDate = &t
	return r
}

// DuplicateKey is the uniqueness key collectors must check before insert.
func (r *RawEvent) DuplicateKey() string {
	u := ""
	if r.SourceURL != nil {
		u = *r.SourceURL
	}
	return fmt.Sprintf("%s|%s|%s", r.SourceType, u, strings.ToLower(r.Title))
}

// Enrichable reports whether the event carries enough signal for the
// enrichment pipeline: a URL, or a title plus a non-trivial description.
func (r *RawEvent) Enrichable() bool {
	if r.SourceURL != nil && *r.SourceURL != "" {
		return true
	}
	return len(strings.TrimSpace(r.Description)) >= 80
}

// MarkProcessed records the terminal processing state for this event.
func (r *RawEvent) MarkProcessed(processingErr error) {
	now := time.Now().UTC()
	r.IsProcessed = true
	r.ProcessingAttempted = &now
	if processingErr != nil {
		msg := processingErr.Error()
		r.ProcessingError = &msg
	}
}

// MarkAttempted records a non-terminal attempt so the event stays retryable.
func (r *RawEvent) MarkAttempted(processingErr error) {
	now := time.Now().UTC()
	r.ProcessingAttempted = &now
	if processingErr != nil {
		msg := processingErr.Error()
		r.ProcessingError = &msg
	}
}
