package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/newsevents"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
)

// cameoIncidentTypes maps provider event codes to the internal incident
// type vocabulary. Unlisted codes fall back on their two-digit root.
var cameoIncidentTypes = map[string]string{
	"172":  "cyber attack",
	"1721": "cyber attack",
	"1722": "ransomware",
	"1723": "data breach",
	"175":  "cyber attack",
	"210":  "data breach",
	"211":  "data breach",
	"212":  "ransomware",
	"213":  "cyber attack",
}

var cameoRootTypes = map[string]string{
	"17": "cyber attack",
	"21": "data breach",
}

// NewsEventsCollector sweeps the CAMEO-coded global events warehouse.
type NewsEventsCollector struct {
	store      newsevents.Store
	filter     *ProgressiveFilter
	maxResults int
	logger     *zap.Logger
}

// NewNewsEventsCollector wires the warehouse sweep. store may be nil when
// warehouse credentials are absent; ValidateConfig then reports false.
func NewNewsEventsCollector(store newsevents.Store, filter *ProgressiveFilter, maxResults int, logger *zap.Logger) *NewsEventsCollector {
	return &NewsEventsCollector{
		store:      store,
		filter:     filter,
		maxResults: maxResults,
		logger:     logger,
	}
}

func (c *NewsEventsCollector) SourceInfo() Descriptor {
	return Descriptor{
		Name:         "news-events",
		SourceType:   incident.SourceNewsEvents,
		RateLimitKey: ratelimit.ServiceNewsEvents,
		Priority:     true,
	}
}

func (c *NewsEventsCollector) ValidateConfig() bool {
	return c.store != nil
}

func (c *NewsEventsCollector) Collect(ctx context.Context, dateRange incident.DateRange) ([]*incident.RawEvent, error) {
	hits, err := c.store.NewsEventsQuery(ctx, newsevents.Query{
		Range:      dateRange,
		Keywords:   queryTerms(),
		Exclusions: exclusionTerms,
		MinSources: 2,
		MaxResults: c.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("news-events collect: %w", err)
	}

	var events []*incident.RawEvent
	for _, hit := range hits {
		title := titleFromHit(hit)
		if !c.filter.DiscoveryPass(title, hit.SourceURL) {
			continue
		}

		ev, err := incident.NewRawEvent(incident.SourceNewsEvents, title,
			fmt.Sprintf("Warehouse event %d involving %s, corroborated by %d sources.",
				hit.EventID, actorOrUnknown(hit), hit.NumSources))
		if err != nil {
			c.logger.Warn("skipping malformed warehouse hit", zap.Int64("event_id", hit.EventID), zap.Error(err))
			continue
		}
		ev.SourceEventID = strconv.FormatInt(hit.EventID, 10)
		ev.WithURL(hit.SourceURL)
		if eventTime, err := hit.EventTime(); err == nil {
			ev.WithEventDate(eventTime)
		}
		ev.SourceMetadata["event_code"] = hit.EventCode
		ev.SourceMetadata["incident_type"] = incidentTypeFor(hit.EventCode)
		ev.SourceMetadata["goldstein_scale"] = strconv.FormatFloat(hit.GoldsteinScale, 'f', 1, 64)
		ev.SourceMetadata["num_sources"] = strconv.FormatInt(hit.NumSources, 10)
		ev.SourceMetadata["num_mentions"] = strconv.FormatInt(hit.NumMentions, 10)
		ev.SourceMetadata["avg_tone"] = strconv.FormatFloat(hit.AvgTone, 'f', 2, 64)
		events = append(events, ev)
	}

	c.logger.Info("news-events sweep complete",
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(events)))
	return events, nil
}

func incidentTypeFor(eventCode string) string {
	if t, ok := cameoIncidentTypes[eventCode]; ok {
		return t
	}
	if len(eventCode) >= 2 {
		if t, ok := cameoRootTypes[eventCode[:2]]; ok {
			return t
		}
	}
	return "cyber incident"
}

func titleFromHit(hit newsevents.RawHit) string {
	actor := actorOrUnknown(hit)
	slug := urlSlugTitle(hit.SourceURL)
	if slug != "" {
		return slug
	}
	return fmt.Sprintf("Reported %s involving %s", incidentTypeFor(hit.EventCode), actor)
}

func actorOrUnknown(hit newsevents.RawHit) string {
	switch {
	case hit.Actor1Name != "" && hit.Actor2Name != "":
		return hit.Actor1Name + " and " + hit.Actor2Name
	case hit.Actor1Name != "":
		return hit.Actor1Name
	case hit.Actor2Name != "":
		return hit.Actor2Name
	default:
		return "an unnamed organisation"
	}
}

// urlSlugTitle recovers a readable headline from the article URL path.
func urlSlugTitle(sourceURL string) string {
	path := sourceURL
	if i := strings.Index(path, "//"); i >= 0 {
		path = path[i+2:]
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		return ""
	}
	slug := segments[len(segments)-1]
	slug = strings.TrimSuffix(slug, ".html")
	slug = strings.TrimSuffix(slug, ".htm")
	slug = strings.ReplaceAll(slug, "-", " ")
	slug = strings.ReplaceAll(slug, "_", " ")
	slug = strings.TrimSpace(slug)
	if len(strings.Fields(slug)) < 3 {
		return ""
	}
	// Drop trailing numeric article IDs.
	fields := strings.Fields(slug)
	if _, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
		fields = fields[:len(fields)-1]
	}
	slug = strings.Join(fields, " ")
	return strings.ToUpper(slug[:1]) + slug[1:]
}

func queryTerms() []string {
	terms := make([]string, len(CyberKeywords))
	for i, k := range CyberKeywords {
		// URL slugs hyphenate multi-word phrases.
		terms[i] = strings.ReplaceAll(k, " ", "-")
	}
	return terms
}
