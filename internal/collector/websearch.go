package collector

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/search"
)

// Australian cyber phrasings issued per sweep.
var webSearchQueries = []string{
	`"data breach" australian company`,
	`ransomware attack australia organisation`,
	`cyber attack australian business customers`,
	`"cyber incident" australia notified customers`,
	`australian company hacked customer data`,
}

var australiaMarkers = []string{
	"australia", "australian", "sydney", "melbourne", "brisbane", "perth",
	"adelaide", "canberra", "hobart", "darwin", "nsw", "queensland",
	"victoria", "tasmania", "acnc", "asx",
}

// WebSearchCollector discovers incidents via paged programmable search.
type WebSearchCollector struct {
	client     search.WebSearch
	filter     *ProgressiveFilter
	maxPerTerm int
	logger     *zap.Logger
}

// NewWebSearchCollector wires the programmable-search discovery path.
func NewWebSearchCollector(client search.WebSearch, filter *ProgressiveFilter, maxPerTerm int, logger *zap.Logger) *WebSearchCollector {
	return &WebSearchCollector{
		client:     client,
		filter:     filter,
		maxPerTerm: maxPerTerm,
		logger:     logger,
	}
}

func (c *WebSearchCollector) SourceInfo() Descriptor {
	return Descriptor{
		Name:         "web-search",
		SourceType:   incident.SourceWebSearch,
		RateLimitKey: ratelimit.ServiceWebSearch,
	}
}

func (c *WebSearchCollector) ValidateConfig() bool {
	return c.client != nil
}

func (c *WebSearchCollector) Collect(ctx context.Context, dateRange incident.DateRange) ([]*incident.RawEvent, error) {
	seen := make(map[string]bool)
	var events []*incident.RawEvent

	for _, query := range webSearchQueries {
		results, err := c.client.Search(ctx, query, dateRange.Start, c.maxPerTerm)
		if err != nil {
			// One failing query should not abandon the sweep.
			c.logger.Warn("web-search query failed", zap.String("query", query), zap.Error(err))
			continue
		}

		for _, hit := range results {
			if seen[hit.Link] {
				continue
			}
			seen[hit.Link] = true

			if !isAustralianHit(hit) {
				continue
			}
			if !c.filter.DiscoveryPass(hit.Title, hit.Snippet) {
				continue
			}

			ev, err := incident.NewRawEvent(incident.SourceWebSearch, hit.Title, hit.Snippet)
			if err != nil {
				continue
			}
			ev.WithURL(hit.Link)
			ev.SourceMetadata["query"] = query
			events = append(events, ev)
		}
	}

	c.logger.Info("web-search sweep complete",
		zap.Int("queries", len(webSearchQueries)),
		zap.Int("kept", len(events)))
	return events, nil
}

// isAustralianHit accepts Australian TLDs outright and otherwise requires
// a country marker in the title or snippet.
func isAustralianHit(hit search.Result) bool {
	if u, err := url.Parse(hit.Link); err == nil {
		host := strings.ToLower(u.Host)
		if strings.HasSuffix(host, ".au") {
			return true
		}
	}
	text := strings.ToLower(hit.Title + " " + hit.Snippet)
	return containsAny(text, australiaMarkers)
}
