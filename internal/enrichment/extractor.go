package enrichment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
)

// Extractor runs the single constrained reasoning call per event.
type Extractor struct {
	client  llm.ReasoningLLM
	model   string
	charCap int
	logger  *zap.Logger
}

// NewExtractor wires the primary extraction stage.
func NewExtractor(client llm.ReasoningLLM, model string, charCap int, logger *zap.Logger) *Extractor {
	if charCap <= 0 {
		charCap = 8000
	}
	return &Extractor{client: client, model: model, charCap: charCap, logger: logger}
}

// Extract analyses the acquired article. Provider or parse failures
// return a sentinel extraction with zero confidence so the pipeline can
// continue into validation and reject cleanly.
func (e *Extractor) Extract(ctx context.Context, raw *incident.RawEvent, acquired *content.Result) *ExtractionResult {
	prompt := buildExtractionPrompt(
		raw.Title,
		urlOrEmpty(raw.SourceURL),
		acquired.PublicationDate,
		acquired.SourceReliability,
		extractionText(raw, acquired),
		e.charCap)

	result := &ExtractionResult{Model: e.model, Timestamp: time.Now().UTC()}

	response, err := e.client.CompleteJSON(ctx, extractionSystemPrompt, prompt)
	if err != nil {
		e.logger.Warn("extraction call failed", zap.String("raw_id", raw.ID.String()), zap.Error(err))
		result.ParseError = err.Error()
		return result
	}

	var extraction Extraction
	if err := json.Unmarshal([]byte(response), &extraction); err != nil {
		e.logger.Warn("extraction response unparsable", zap.String("raw_id", raw.ID.String()), zap.Error(err))
		result.ParseError = "parsing extraction JSON: " + err.Error()
		return result
	}

	// Post-parse pass: the records rule applies regardless of what the
	// model claimed.
	extraction.Incident.RecordsAffected = ValidateRecordsAffected(extraction.Incident.RecordsAffected, raw.Title)

	result.Extraction = extraction
	return result
}

// extractionText prefers scraped full text, falling back to whatever the
// collector captured.
func extractionText(raw *incident.RawEvent, acquired *content.Result) string {
	if acquired.ExtractionSuccess && acquired.FullText != "" {
		return acquired.FullText
	}
	var parts []string
	if raw.Description != "" {
		parts = append(parts, raw.Description)
	}
	if raw.Content != nil && *raw.Content != "" {
		parts = append(parts, *raw.Content)
	}
	return strings.Join(parts, "\n\n")
}

func urlOrEmpty(u *string) string {
	if u == nil {
		return ""
	}
	return *u
}
