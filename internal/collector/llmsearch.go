package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
)

const llmSearchSystemPrompt = `You are a cyber security incident researcher with live web search.
You find REAL, SPECIFIC cyber security incidents affecting Australian organisations.
You never invent incidents. Every incident you report must come from a real published article.
You respond ONLY with a JSON object, no prose before or after it.`

const llmSearchUserPromptTemplate = `Search the web for cyber security incidents affecting Australian organisations
that were reported between %s and %s.

Include: data breaches, ransomware attacks, malware infections, phishing campaigns with
confirmed victims, DDoS attacks, credential theft and system intrusions.
Exclude: general advice articles, vendor marketing, incidents with no named or clearly
identified Australian victim organisation.

Respond with JSON in exactly this shape:
{
  "events": [
    {
      "title": "short headline naming the victim organisation",
      "description": "2-4 sentences on what happened",
      "event_date": "YYYY-MM-DD or null if unknown",
      "source_url": "URL of the article reporting the incident, or null",
      "victim_organization": "name or null",
      "incident_type": "data breach | ransomware | malware | phishing | ddos | credential theft | other"
    }
  ]
}

Return at most %d events. Return {"events": []} if you find none.`

type llmSearchEvent struct {
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	EventDate          *string `json:"event_date"`
	SourceURL          *string `json:"source_url"`
	VictimOrganization *string `json:"victim_organization"`
	IncidentType       string  `json:"incident_type"`
}

type llmSearchResponse struct {
	Events []llmSearchEvent `json:"events"`
}

// LLMSearchCollector discovers incidents through a search-grounded LLM.
type LLMSearchCollector struct {
	client    llm.SearchGroundedLLM
	filter    *ProgressiveFilter
	maxEvents int
	logger    *zap.Logger
}

// NewLLMSearchCollector wires the search-grounded discovery path.
func NewLLMSearchCollector(client llm.SearchGroundedLLM, filter *ProgressiveFilter, maxEvents int, logger *zap.Logger) *LLMSearchCollector {
	return &LLMSearchCollector{
		client:    client,
		filter:    filter,
		maxEvents: maxEvents,
		logger:    logger,
	}
}

func (c *LLMSearchCollector) SourceInfo() Descriptor {
	return Descriptor{
		Name:         "llm-search",
		SourceType:   incident.SourceLLMSearch,
		RateLimitKey: ratelimit.ServicePerplexity,
	}
}

func (c *LLMSearchCollector) ValidateConfig() bool {
	return c.client != nil
}

func (c *LLMSearchCollector) Collect(ctx context.Context, dateRange incident.DateRange) ([]*incident.RawEvent, error) {
	prompt := fmt.Sprintf(llmSearchUserPromptTemplate,
		dateRange.Start.Format("2 January 2006"),
		dateRange.End.Format("2 January 2006"),
		c.maxEvents)

	answer, err := c.client.Search(ctx, llmSearchSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm-search collect: %w", err)
	}

	var parsed llmSearchResponse
	if err := json.Unmarshal([]byte(extractJSONObject(answer.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("llm-search collect: parsing model response: %w", err)
	}

	var events []*incident.RawEvent
	for _, item := range parsed.Events {
		if !c.filter.DiscoveryPass(item.Title, item.Description) {
			continue
		}
		ev, err := incident.NewRawEvent(incident.SourceLLMSearch, item.Title, item.Description)
		if err != nil {
			c.logger.Warn("skipping malformed llm-search event", zap.Error(err))
			continue
		}
		if item.SourceURL != nil {
			ev.WithURL(*item.SourceURL)
		}
		if item.EventDate != nil {
			if d, err := time.Parse("2006-01-02", *item.EventDate); err == nil {
				ev.WithEventDate(d)
			}
		}
		if item.VictimOrganization != nil {
			ev.SourceMetadata["victim_organization"] = *item.VictimOrganization
		}
		ev.SourceMetadata["incident_type"] = item.IncidentType
		events = append(events, ev)
	}

	c.logger.Info("llm-search sweep complete",
		zap.Int("reported", len(parsed.Events)),
		zap.Int("kept", len(events)),
		zap.Int("citations", len(answer.Citations)))
	return events, nil
}

// extractJSONObject strips markdown fences and surrounding prose that
// grounded models sometimes add around their JSON payload.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if i := strings.LastIndex(content, "```"); i >= 0 {
			content = content[:i]
		}
		content = strings.TrimSpace(content)
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
