// Package ratelimit enforces per-service request budgets for every outbound
// dependency the pipeline talks to. Each named service carries two limits,
// requests-per-second and requests-per-minute, and Wait suspends the caller
// until both admit one more request.
package ratelimit

import "context"

// Limiter is the per-service dual-window rate limiter contract.
type Limiter interface {
	// Wait blocks until the service admits one more request, then records
	// the admission. It returns only on admission or context cancellation.
	Wait(ctx context.Context, service string) error

	// SetLimit configures a service's budgets. Idempotent; may be called
	// before first use. Zero values fall back to the defaults.
	SetLimit(service string, perMinute, perSecond int)
}

// Default budgets applied to services that never called SetLimit.
const (
	DefaultPerMinute = 60
	DefaultPerSecond = 2
)

// Well-known service keys used across the pipeline.
const (
	ServiceOpenAI     = "openai"
	ServicePerplexity = "perplexity"
	ServiceWebSearch  = "web_search"
	ServiceNewsEvents = "news_events"
	ServiceScraper    = "scraper"
)
