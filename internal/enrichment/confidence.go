package enrichment

import (
	"strings"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

// Stage weights for the final confidence blend.
const (
	weightExtraction        = 0.30
	weightFactCheckStage    = 0.30
	weightValidationStage   = 0.20
	weightSourceReliability = 0.20
)

// Decision thresholds.
const (
	autoAcceptThreshold = 0.80
	acceptWarnThreshold = 0.50
)

// AggregateConfidence blends the stage confidences, applies the
// multiplicative penalty ladder in order, clamps, and decides.
func AggregateConfidence(raw *incident.RawEvent, extraction *Extraction,
	factCheck *FactCheckResult, validation *ValidationResult, sourceReliability float64) *ConfidenceResult {

	result := &ConfidenceResult{
		ExtractionConfidence: clamp01(extraction.OverallConfidence),
		FactCheckConfidence:  factCheck.OverallVerificationConfidence,
		ValidationConfidence: validation.ValidationConfidence,
		SourceReliability:    clamp01(sourceReliability),
	}

	final := weightExtraction*result.ExtractionConfidence +
		weightFactCheckStage*result.FactCheckConfidence +
		weightValidationStage*result.ValidationConfidence +
		weightSourceReliability*result.SourceReliability

	apply := func(reason string, factor float64) {
		result.Penalties = append(result.Penalties, Penalty{Reason: reason, Factor: factor})
		final *= factor
	}

	if len(validation.Errors) > 0 {
		apply("validation errors present", 0.30)
	}
	if len(validation.Warnings) > 3 {
		apply("more than three validation warnings", 0.80)
	}
	if !extraction.Specificity.IsSpecificIncident {
		apply("not a specific incident", 0.80)
	}
	if extraction.AustralianRelevance.Score < 0.3 {
		apply("low Australian relevance", 0.40)
	}
	if factCheck.ChecksPerformed > 0 && factCheck.PassRate() < 0.5 {
		apply("fact-check pass rate below half", 0.50)
	}
	if strings.Contains(strings.ToLower(raw.Title), "australian") &&
		extraction.AustralianRelevance.Score < 0.3 {
		apply("claims Australian in title but relevance contradicts", 0.30)
	}

	result.FinalConfidence = clamp01(final)
	result.Decision = decide(result.FinalConfidence)
	return result
}

func decide(final float64) incident.Decision {
	switch {
	case final >= autoAcceptThreshold:
		return incident.DecisionAutoAccept
	case final >= acceptWarnThreshold:
		return incident.DecisionAcceptWithWarning
	default:
		return incident.DecisionReject
	}
}
