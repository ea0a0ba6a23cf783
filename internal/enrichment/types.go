// Package enrichment implements the high-quality pipeline that turns one
// raw discovery record into a validated enriched incident: content
// acquisition, LLM extraction, fact checking, rule validation, confidence
// aggregation and audit persistence.
package enrichment

import (
	"time"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

// Victim is the extracted affected organisation.
type Victim struct {
	Name         *string `json:"name"`
	Industry     *string `json:"industry"`
	IsAustralian *bool   `json:"is_australian"`
	Confidence   float64 `json:"confidence"`
}

// Attacker is the extracted threat actor, when one is credibly named.
type Attacker struct {
	Name       *string `json:"name"`
	Type       *string `json:"type"`
	Confidence float64 `json:"confidence"`
}

// IncidentDetail is the extracted incident core.
type IncidentDetail struct {
	Type            string  `json:"type"`
	Severity        string  `json:"severity"`
	IncidentDate    *string `json:"incident_date"`
	DiscoveryDate   *string `json:"discovery_date"`
	DisclosureDate  *string `json:"disclosure_date"`
	RecordsAffected *int64  `json:"records_affected"`
	AttackMethod    *string `json:"attack_method"`
	Summary         string  `json:"summary"`
}

// AustralianRelevance scores how strongly the incident touches Australia.
type AustralianRelevance struct {
	IsAustralianEvent bool    `json:"is_australian_event"`
	Score             float64 `json:"score"`
	Reasoning         string  `json:"reasoning"`
}

// Specificity is the three-question decision: which organisation, what
// attack type, approximately when.
type Specificity struct {
	IsSpecificIncident bool   `json:"is_specific_incident"`
	Reasoning          string `json:"reasoning"`
}

// MultiVictim captures supply-chain style incidents naming several victims.
type MultiVictim struct {
	IsMultiVictim bool     `json:"is_multi_victim"`
	VictimNames   []string `json:"victim_names"`
}

// Extraction is the strict JSON object the reasoning model must return.
type Extraction struct {
	Victim              Victim              `json:"victim"`
	Attacker            Attacker            `json:"attacker"`
	Incident            IncidentDetail      `json:"incident"`
	AustralianRelevance AustralianRelevance `json:"australian_relevance"`
	Specificity         Specificity         `json:"specificity"`
	MultiVictim         MultiVictim         `json:"multi_victim"`
	OverallConfidence   float64             `json:"overall_confidence"`
	ExtractionNotes     string              `json:"extraction_notes"`
}

// ExtractionResult bundles the parsed extraction with call metadata.
type ExtractionResult struct {
	Extraction Extraction `json:"extraction"`
	Model      string     `json:"model"`
	ParseError string     `json:"parse_error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Sentinel reports whether extraction failed and this is the zero-value
// placeholder that flows to validation.
func (r *ExtractionResult) Sentinel() bool {
	return r.ParseError != ""
}

// CheckResult is one fact-check verdict.
type CheckResult struct {
	Name       string   `json:"name"`
	Performed  bool     `json:"performed"`
	Verified   bool     `json:"verified"`
	Confidence float64  `json:"confidence"`
	Details    string   `json:"details,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// FactCheckResult summarises the verification stage.
type FactCheckResult struct {
	ChecksPerformed int           `json:"checks_performed"`
	ChecksPassed    int           `json:"checks_passed"`
	ChecksFailed    int           `json:"checks_failed"`
	Checks          []CheckResult `json:"checks"`
	OverallVerificationConfidence float64 `json:"overall_verification_confidence"`
}

// PassRate is checks_passed over checks_performed; 0 with no checks.
func (r *FactCheckResult) PassRate() float64 {
	if r.ChecksPerformed == 0 {
		return 0
	}
	return float64(r.ChecksPassed) / float64(r.ChecksPerformed)
}

// Override records a heuristic repair the validator applied.
type Override struct {
	Field  string `json:"field"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ValidationResult is the rule-based validation stage output.
type ValidationResult struct {
	IsValid              bool       `json:"is_valid"`
	Errors               []string   `json:"errors"`
	Warnings             []string   `json:"warnings"`
	Overrides            []Override `json:"overrides"`
	ValidationConfidence float64    `json:"validation_confidence"`
}

// Penalty is one multiplicative confidence reduction.
type Penalty struct {
	Reason string  `json:"reason"`
	Factor float64 `json:"factor"`
}

// ConfidenceResult is the aggregation stage output.
type ConfidenceResult struct {
	ExtractionConfidence float64           `json:"extraction_confidence"`
	FactCheckConfidence  float64           `json:"factcheck_confidence"`
	ValidationConfidence float64           `json:"validation_confidence"`
	SourceReliability    float64           `json:"source_reliability"`
	Penalties            []Penalty         `json:"penalties"`
	FinalConfidence      float64           `json:"final_confidence"`
	Decision             incident.Decision `json:"decision"`
}

// PipelineResult bundles every stage output for one raw event.
type PipelineResult struct {
	RawID       string             `json:"raw_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Content     *ContentSummary    `json:"content,omitempty"`
	Extraction  *ExtractionResult  `json:"extraction,omitempty"`
	FactCheck   *FactCheckResult   `json:"factcheck,omitempty"`
	Validation  *ValidationResult  `json:"validation,omitempty"`
	Confidence  *ConfidenceResult  `json:"confidence,omitempty"`
	Enriched    *incident.EnrichedEvent `json:"-"`
	Error       string             `json:"error,omitempty"`
}

// ContentSummary is the compact audit form of the acquisition stage.
type ContentSummary struct {
	ExtractionSuccess bool    `json:"extraction_success"`
	ExtractionMethod  string  `json:"extraction_method"`
	ContentLength     int     `json:"content_length"`
	SourceDomain      string  `json:"source_domain"`
	SourceReliability float64 `json:"source_reliability"`
	Error             string  `json:"error,omitempty"`
}

// Decision returns the final decision, REJECT when the pipeline failed
// before aggregation.
func (p *PipelineResult) Decision() incident.Decision {
	if p.Confidence == nil {
		return incident.DecisionReject
	}
	return p.Confidence.Decision
}

// FinalConfidence returns the aggregated confidence, 0 when unavailable.
func (p *PipelineResult) FinalConfidence() float64 {
	if p.Confidence == nil {
		return 0
	}
	return p.Confidence.FinalConfidence
}
