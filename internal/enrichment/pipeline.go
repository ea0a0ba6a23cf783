package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/collector"
	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

// Strategy selects how much verification each event receives.
const (
	StrategyHighQuality = "high_quality"
	StrategyFast        = "fast"
)

// Stores groups the persistence surfaces the pipeline writes to.
type Stores struct {
	Raw      repository.RawEventRepository
	Enriched repository.EnrichedEventRepository
	Entities repository.EntityRepository
	Audit    repository.AuditRepository
	Log      repository.ProcessingLogRepository
}

// Pipeline runs the five enrichment stages for one raw event at a time.
type Pipeline struct {
	acquirer    *content.Acquirer
	filter      *collector.ProgressiveFilter
	extractor   *Extractor
	factChecker *FactChecker
	validator   *Validator
	stores      Stores
	strategy    string
	logger      *zap.Logger
}

// NewPipeline wires the enrichment stages. factChecker may be nil under
// the fast strategy.
func NewPipeline(acquirer *content.Acquirer, filter *collector.ProgressiveFilter,
	extractor *Extractor, factChecker *FactChecker, validator *Validator,
	stores Stores, strategy string, logger *zap.Logger) *Pipeline {
	if strategy == "" {
		strategy = StrategyHighQuality
	}
	return &Pipeline{
		acquirer:    acquirer,
		filter:      filter,
		extractor:   extractor,
		factChecker: factChecker,
		validator:   validator,
		stores:      stores,
		strategy:    strategy,
		logger:      logger,
	}
}

// Process runs the pipeline for one raw event, persists the outcome and
// always returns a result; errors inside stages surface as REJECT
// decisions rather than aborting the run.
func (p *Pipeline) Process(ctx context.Context, raw *incident.RawEvent) *PipelineResult {
	result := &PipelineResult{
		RawID:     raw.ID.String(),
		StartedAt: time.Now().UTC(),
	}

	p.runStages(ctx, raw, result)
	result.FinishedAt = time.Now().UTC()

	p.persistOutcome(ctx, raw, result)
	p.saveAudit(ctx, raw, result)
	return result
}

func (p *Pipeline) runStages(ctx context.Context, raw *incident.RawEvent, result *PipelineResult) {
	// Stage 1: content acquisition.
	acquired := p.acquireContent(ctx, raw, result)
	if acquired == nil {
		return
	}

	// Post-scrape filter gate: do not spend LLM calls on noise.
	if acquired.ExtractionSuccess && !p.filter.PostScrapePass(raw.Title, acquired.FullText) {
		result.FailedStage = "post_scrape_filter"
		result.Error = "scraped content failed the cyber incident filter"
		return
	}

	// Stage 2: primary extraction. Failures yield a sentinel that flows
	// on so validation can flag it.
	extraction := p.extractor.Extract(ctx, raw, acquired)
	result.Extraction = extraction

	// Stage 3: fact checking, high-quality strategy only.
	factCheck := &FactCheckResult{}
	if p.strategy == StrategyHighQuality && p.factChecker != nil && !extraction.Sentinel() {
		factCheck = p.factChecker.Check(ctx, &extraction.Extraction)
	}
	result.FactCheck = factCheck

	// Stage 4: validation with heuristic repairs.
	validation := p.validator.Validate(ctx, raw, &extraction.Extraction, factCheck)
	result.Validation = validation

	// Stage 5: confidence aggregation and decision.
	result.Confidence = AggregateConfidence(raw, &extraction.Extraction, factCheck,
		validation, result.Content.SourceReliability)
}

// acquireContent runs stage 1 and short-circuits the pipeline to REJECT
// when a URL-bearing event yields no usable text.
func (p *Pipeline) acquireContent(ctx context.Context, raw *incident.RawEvent, result *PipelineResult) *content.Result {
	started := time.Now()

	var acquired *content.Result
	if raw.SourceURL != nil && *raw.SourceURL != "" {
		acquired = p.acquirer.Acquire(ctx, *raw.SourceURL)
	} else {
		// Description-only events skip scraping; reliability is unknown.
		acquired = &content.Result{
			FullText:          raw.Description,
			ExtractionSuccess: len(strings.Fields(raw.Description)) >= 10,
			ExtractionMethod:  "collector_description",
			ContentLength:     len(raw.Description),
			SourceReliability: 0.6,
		}
	}

	result.Content = &ContentSummary{
		ExtractionSuccess: acquired.ExtractionSuccess,
		ExtractionMethod:  acquired.ExtractionMethod,
		ContentLength:     acquired.ContentLength,
		SourceDomain:      acquired.SourceDomain,
		SourceReliability: acquired.SourceReliability,
		Error:             acquired.Error,
	}
	p.appendLog(ctx, raw, "content_acquisition", acquired.ExtractionSuccess, result.Content, started)

	// A URL we failed to read is a hard stop; there is nothing to extract.
	if !acquired.ExtractionSuccess && raw.SourceURL != nil && *raw.SourceURL != "" {
		result.FailedStage = "content_acquisition"
		result.Error = acquired.Error
		return nil
	}
	if !acquired.ExtractionSuccess && !raw.Enrichable() {
		result.FailedStage = "content_acquisition"
		result.Error = "no URL and description too thin to enrich"
		return nil
	}
	return acquired
}

// persistOutcome writes the enriched event on accept and always marks the
// raw event processed.
func (p *Pipeline) persistOutcome(ctx context.Context, raw *incident.RawEvent, result *PipelineResult) {
	decision := result.Decision()

	if decision != incident.DecisionReject {
		if err := p.persistEnriched(ctx, raw, result); err != nil {
			p.logger.Error("persisting enriched event failed",
				zap.String("raw_id", raw.ID.String()), zap.Error(err))
			result.Error = err.Error()
		}
	}

	var processingErr error
	if result.Error != "" {
		processingErr = fmt.Errorf("%s", result.Error)
	}
	raw.MarkProcessed(processingErr)
	if err := p.stores.Raw.UpdateProcessing(ctx, raw); err != nil {
		p.logger.Error("marking raw event processed failed",
			zap.String("raw_id", raw.ID.String()), zap.Error(err))
	}
}

func (p *Pipeline) persistEnriched(ctx context.Context, raw *incident.RawEvent, result *PipelineResult) error {
	extraction := &result.Extraction.Extraction

	// Enriched tier admits Australian, specific incidents only; an
	// accepting confidence score cannot bypass the gate.
	if !extraction.AustralianRelevance.IsAustralianEvent || !extraction.Specificity.IsSpecificIncident {
		result.Confidence.Decision = incident.DecisionReject
		result.Error = "accepted confidence but failed the Australian/specific gate"
		return nil
	}

	ev, err := incident.NewEnrichedEvent(raw.ID, raw.Title, true, true)
	if err != nil {
		return err
	}
	ev.Description = raw.Description
	ev.Summary = extraction.Incident.Summary
	ev.EventType = extraction.Incident.Type
	ev.Severity = incident.ParseSeverity(extraction.Incident.Severity)
	if d := parseISODate(extraction.Incident.IncidentDate); d != nil {
		ev.EventDate = d
	} else if raw.EventDate != nil {
		ev.EventDate = raw.EventDate
	}
	ev.RecordsAffected = extraction.Incident.RecordsAffected
	ev.ConfidenceScore = result.Confidence.FinalConfidence
	ev.AustralianRelevanceScore = extraction.AustralianRelevance.Score
	ev.AttackingEntityName = extraction.Attacker.Name
	ev.AttackMethod = extraction.Incident.AttackMethod

	if err := p.stores.Enriched.Create(ctx, ev); err != nil {
		return fmt.Errorf("creating enriched event: %w", err)
	}
	result.Enriched = ev

	p.linkEntities(ctx, ev, extraction)
	return nil
}

// linkEntities upserts the victim and attacker and links them to the
// enriched event. Entity failures degrade to logs; the event stands.
func (p *Pipeline) linkEntities(ctx context.Context, ev *incident.EnrichedEvent, extraction *Extraction) {
	if extraction.Victim.Name != nil {
		victim := incident.NewEntity(*extraction.Victim.Name, incident.EntityBusiness)
		victim.Industry = extraction.Victim.Industry
		if extraction.Victim.IsAustralian != nil {
			victim.IsAustralian = *extraction.Victim.IsAustralian
		}
		victim.ConfidenceScore = extraction.Victim.Confidence
		p.linkOne(ctx, ev, victim, incident.RelationVictim, extraction.Victim.Confidence)
	}

	if extraction.Attacker.Name != nil && !strings.EqualFold(*extraction.Attacker.Name, "unknown") {
		attacker := incident.NewEntity(*extraction.Attacker.Name, incident.EntityThreatActor)
		attacker.ConfidenceScore = extraction.Attacker.Confidence
		p.linkOne(ctx, ev, attacker, incident.RelationAttacker, extraction.Attacker.Confidence)
	}

	if extraction.MultiVictim.IsMultiVictim {
		for _, name := range extraction.MultiVictim.VictimNames {
			if extraction.Victim.Name != nil && strings.EqualFold(name, *extraction.Victim.Name) {
				continue
			}
			affected := incident.NewEntity(name, incident.EntityBusiness)
			p.linkOne(ctx, ev, affected, incident.RelationAffected, 0.5)
		}
	}
}

func (p *Pipeline) linkOne(ctx context.Context, ev *incident.EnrichedEvent,
	entity *incident.Entity, relation incident.RelationshipType, confidence float64) {
	stored, err := p.stores.Entities.UpsertByName(ctx, entity)
	if err != nil {
		p.logger.Warn("entity upsert failed", zap.String("entity", entity.Name), zap.Error(err))
		return
	}
	err = p.stores.Entities.Link(ctx, &incident.EventEntity{
		EnrichedID: ev.ID,
		EntityID:   stored.ID,
		Relation:   relation,
		Confidence: confidence,
	})
	if err != nil {
		p.logger.Warn("entity link failed", zap.String("entity", entity.Name), zap.Error(err))
	}
}

func (p *Pipeline) saveAudit(ctx context.Context, raw *incident.RawEvent, result *PipelineResult) {
	row := &repository.AuditTrailRow{
		AuditID:         uuid.New(),
		RawID:           raw.ID,
		StartedAt:       result.StartedAt,
		FinishedAt:      result.FinishedAt,
		FinalDecision:   string(result.Decision()),
		FinalConfidence: result.FinalConfidence(),
		StageContent:    marshalStage(result.Content),
		StageExtraction: marshalStage(result.Extraction),
		StageFactCheck:  marshalStage(result.FactCheck),
		StageValidation: marshalStage(result.Validation),
		StageConfidence: marshalStage(result.Confidence),
	}
	if result.FailedStage != "" {
		row.FailedStage = &result.FailedStage
	}
	if result.Error != "" {
		row.FailureError = &result.Error
	}
	if err := p.stores.Audit.Save(ctx, row); err != nil {
		p.logger.Error("saving audit trail failed", zap.String("raw_id", raw.ID.String()), zap.Error(err))
	}
}

func (p *Pipeline) appendLog(ctx context.Context, raw *incident.RawEvent,
	stage string, success bool, blob any, started time.Time) {
	status := "success"
	if !success {
		status = "failure"
	}
	entry := &repository.ProcessingLogEntry{
		RawID:      raw.ID,
		Stage:      stage,
		Status:     status,
		ResultBlob: marshalStage(blob),
		DurationMS: time.Since(started).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.stores.Log.Append(ctx, entry); err != nil {
		p.logger.Warn("appending processing log failed", zap.Error(err))
	}
}

func marshalStage(v any) *string {
	if v == nil {
		return nil
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(blob)
	return &s
}
