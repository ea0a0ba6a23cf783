// Package collector discovers candidate Australian cyber incidents from
// five source families and normalises them into raw events.
package collector

import (
	"context"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

// Descriptor identifies a collector for logging and rate limiting.
// Priority marks the authoritative, dated sources (event warehouse,
// regulator, curated list) that priority-only backfills are limited to.
type Descriptor struct {
	Name         string              `json:"name"`
	SourceType   incident.SourceType `json:"source_type"`
	RateLimitKey string              `json:"rate_limit_key"`
	Priority     bool                `json:"priority"`
}

// Collector is the shared discovery contract.
type Collector interface {
	// SourceInfo describes the collector.
	SourceInfo() Descriptor

	// ValidateConfig reports whether the collector has the credentials
	// and endpoints it needs for this run.
	ValidateConfig() bool

	// Collect discovers raw events within the date range. Partial results
	// with a nil error are valid; collectors degrade rather than abort.
	Collect(ctx context.Context, dateRange incident.DateRange) ([]*incident.RawEvent, error)
}

// CyberKeywords is the discovery vocabulary shared by query-driven
// collectors and the progressive filter.
var CyberKeywords = []string{
	"data breach", "ransomware", "malware", "cyber attack", "cyberattack",
	"phishing", "ddos", "credential theft", "hack", "hacked", "hacker",
	"vulnerability", "exploit", "data leak", "extortion", "security incident",
}
