package enrichment

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
)

// Fact-check weights: organisation and incident existence dominate.
const (
	weightOrganization = 0.4
	weightIncident     = 0.4
	weightAttacker     = 0.1
	weightRecords      = 0.1
)

// recordTolerance accepts corroborated counts within ±20%.
const recordTolerance = 0.20

// FactChecker verifies extractions against live web search.
type FactChecker struct {
	client llm.SearchGroundedLLM
	logger *zap.Logger
}

// NewFactChecker wires the verification stage.
func NewFactChecker(client llm.SearchGroundedLLM, logger *zap.Logger) *FactChecker {
	return &FactChecker{client: client, logger: logger}
}

type checkVerdict struct {
	Verified   bool     `json:"verified"`
	Confidence float64  `json:"confidence"`
	Details    string   `json:"details"`
	Sources    []string `json:"sources"`
	FoundCount *int64   `json:"found_count,omitempty"`
}

// Check runs up to four targeted verifications depending on what was
// extracted.
func (f *FactChecker) Check(ctx context.Context, extraction *Extraction) *FactCheckResult {
	result := &FactCheckResult{}

	victim := ""
	if extraction.Victim.Name != nil {
		victim = strings.TrimSpace(*extraction.Victim.Name)
	}

	if victim != "" {
		f.runCheck(ctx, result, "organization_existence", weightOrganization,
			orgExistencePrompt(victim), nil)
	}

	if victim != "" && extraction.Incident.IncidentDate != nil {
		f.runCheck(ctx, result, "incident_occurrence", weightIncident,
			incidentOccurrencePrompt(victim, *extraction.Incident.IncidentDate), nil)
	}

	if victim != "" && extraction.Attacker.Name != nil &&
		!strings.EqualFold(*extraction.Attacker.Name, "unknown") {
		f.runCheck(ctx, result, "attacker_attribution", weightAttacker,
			attackerAttributionPrompt(*extraction.Attacker.Name, victim), nil)
	}

	if victim != "" && extraction.Incident.RecordsAffected != nil {
		expected := *extraction.Incident.RecordsAffected
		f.runCheck(ctx, result, "record_count", weightRecords,
			recordCountPrompt(victim, expected), &expected)
	}

	result.OverallVerificationConfidence = weightedConfidence(result.Checks)
	return result
}

// runCheck issues one verification and folds its verdict into the result.
// A check that never returns a parsable verdict is recorded unverified
// with confidence 0.
func (f *FactChecker) runCheck(ctx context.Context, result *FactCheckResult,
	name string, weight float64, prompt string, expectedCount *int64) {

	check := CheckResult{Name: name, Performed: true}
	result.ChecksPerformed++

	answer, err := f.client.Search(ctx, factCheckSystemPrompt, prompt)
	if err != nil {
		f.logger.Warn("fact check failed", zap.String("check", name), zap.Error(err))
		check.Details = err.Error()
		result.ChecksFailed++
		result.Checks = append(result.Checks, check)
		return
	}

	var verdict checkVerdict
	if err := json.Unmarshal([]byte(extractJSON(answer.Content)), &verdict); err != nil {
		f.logger.Warn("fact check verdict unparsable", zap.String("check", name), zap.Error(err))
		check.Details = "unparsable verdict"
		result.ChecksFailed++
		result.Checks = append(result.Checks, check)
		return
	}

	check.Verified = verdict.Verified
	check.Confidence = clamp01(verdict.Confidence)
	check.Details = verdict.Details
	check.Sources = verdict.Sources
	if len(check.Sources) == 0 {
		check.Sources = answer.Citations
	}

	// Record-count corroboration is verified only within tolerance.
	if expectedCount != nil && verdict.FoundCount != nil {
		check.Verified = withinTolerance(*verdict.FoundCount, *expectedCount, recordTolerance)
	}

	if check.Verified {
		result.ChecksPassed++
	} else {
		result.ChecksFailed++
	}
	result.Checks = append(result.Checks, check)
}

// weightedConfidence averages per-check confidence by weight; failed
// checks contribute 0.5 * (1 - confidence) * weight.
func weightedConfidence(checks []CheckResult) float64 {
	var sum, totalWeight float64
	for _, check := range checks {
		w := checkWeight(check.Name)
		totalWeight += w
		if check.Verified {
			sum += check.Confidence * w
		} else {
			sum += 0.5 * (1 - check.Confidence) * w
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return clamp01(sum / totalWeight)
}

func checkWeight(name string) float64 {
	switch name {
	case "organization_existence":
		return weightOrganization
	case "incident_occurrence":
		return weightIncident
	case "attacker_attribution":
		return weightAttacker
	case "record_count":
		return weightRecords
	default:
		return 0.1
	}
}

func withinTolerance(found, expected int64, tolerance float64) bool {
	if expected == 0 {
		return found == 0
	}
	diff := math.Abs(float64(found - expected))
	return diff/float64(expected) <= tolerance
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// extractJSON strips fences and prose around a JSON object.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
