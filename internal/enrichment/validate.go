package enrichment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

var genericNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^an?\s+australian\s+\w+(\s+\w+)?\s*(company|provider|organisation|organization|business|firm)?$`),
	regexp.MustCompile(`(?i)^(multiple|several|various|unnamed|numerous)\s+(organisations|organizations|companies|businesses|victims|entities)$`),
	regexp.MustCompile(`(?i)^a\s+(major|large|small|local|regional)\s+\w+`),
	regexp.MustCompile(`(?i)^(the\s+)?(company|organisation|organization|business|provider|agency)$`),
}

var personNamePattern = regexp.MustCompile(`(?i)^(mr|mrs|ms|dr|prof|professor)\.?\s+[A-Z][a-z]+$`)

var rejectedNames = map[string]bool{
	"unknown": true, "n/a": true, "none": true, "": true, "null": true,
}

var aggregateURLMarkers = []string{
	"blog/", "weekly", "roundup", "round-up", "digest", "newsletter", "recap",
}

var educationalPrefixes = []string{
	"how to", "guide to", "best practices", "top 10", "top ten", "what is",
	"why you should", "tips for",
}

// Small known-organisation industry table for cross-field checks.
var knownOrgIndustries = map[string]string{
	"optus":             "Communications",
	"telstra":           "Communications",
	"medibank":          "Healthcare",
	"commonwealth bank": "Financial Services",
	"westpac":           "Financial Services",
	"anz":               "Financial Services",
	"nab":               "Financial Services",
	"qantas":            "Transportation Systems",
	"woolworths":        "Retail",
	"coles":             "Retail",
	"latitude":          "Financial Services",
	"canva":             "Information Technology",
}

// duplicateFinder is the slice of the enriched store validation needs.
type duplicateFinder interface {
	FindActiveByVictimAndDate(ctx context.Context, victimName string, eventDate time.Time) (*incident.EnrichedEvent, error)
}

// Validator applies rule-based checks and heuristic repairs over the
// extraction and fact-check verdicts.
type Validator struct {
	store  duplicateFinder
	now    func() time.Time
	logger *zap.Logger
}

// NewValidator wires the validation stage. store may be nil in tests;
// the duplicate check is then skipped.
func NewValidator(store duplicateFinder, logger *zap.Logger) *Validator {
	return &Validator{store: store, now: time.Now, logger: logger}
}

// Validate checks the extraction, applies overrides in place, and scores
// validation confidence.
func (v *Validator) Validate(ctx context.Context, raw *incident.RawEvent,
	extraction *Extraction, factCheck *FactCheckResult) *ValidationResult {

	result := &ValidationResult{}

	v.checkVictimName(extraction, result)
	v.checkTitleMatch(raw, extraction, result)
	v.checkDates(extraction, result)
	v.checkCrossField(extraction, result)
	v.checkDuplicate(ctx, extraction, result)
	v.applySpecificityOverride(raw, extraction, result)

	result.IsValid = len(result.Errors) == 0

	conf := clamp01(1 - 0.3*float64(len(result.Errors)) - 0.1*float64(len(result.Warnings)))
	if factCheck != nil && factCheck.ChecksPerformed > 0 {
		conf = (conf + factCheck.PassRate()) / 2
	}
	result.ValidationConfidence = conf
	return result
}

func (v *Validator) checkVictimName(extraction *Extraction, result *ValidationResult) {
	if extraction.Victim.Name == nil {
		return
	}
	name := strings.TrimSpace(*extraction.Victim.Name)

	if rejectedNames[strings.ToLower(name)] {
		result.Errors = append(result.Errors, fmt.Sprintf("victim name %q is a rejected placeholder", name))
		extraction.Victim.Name = nil
		return
	}
	if len(name) < 2 || len(name) > 150 {
		result.Errors = append(result.Errors, fmt.Sprintf("victim name length %d outside [2,150]", len(name)))
		extraction.Victim.Name = nil
		return
	}
	for _, pattern := range genericNamePatterns {
		if pattern.MatchString(name) {
			result.Errors = append(result.Errors, fmt.Sprintf("victim name %q is a generic descriptor", name))
			extraction.Victim.Name = nil
			return
		}
	}
	if personNamePattern.MatchString(name) {
		result.Errors = append(result.Errors, fmt.Sprintf("victim name %q looks like a person, not an organisation", name))
		extraction.Victim.Name = nil
	}
}

var insignificantWords = map[string]bool{
	"the": true, "of": true, "and": true, "group": true, "ltd": true,
	"limited": true, "pty": true, "inc": true, "corp": true, "co": true,
	"australia": true, "australian": true,
}

func (v *Validator) checkTitleMatch(raw *incident.RawEvent, extraction *Extraction, result *ValidationResult) {
	if extraction.Victim.Name == nil {
		return
	}
	title := strings.ToLower(raw.Title)

	matched := false
	for _, word := range strings.Fields(strings.ToLower(*extraction.Victim.Name)) {
		word = strings.Trim(word, ".,()'\"")
		if len(word) < 3 || insignificantWords[word] {
			continue
		}
		if strings.Contains(title, word) {
			matched = true
			break
		}
	}
	if matched {
		return
	}

	msg := fmt.Sprintf("victim %q does not appear in the article title", *extraction.Victim.Name)
	if raw.SourceURL != nil && containsAnyMarker(strings.ToLower(*raw.SourceURL), aggregateURLMarkers) {
		msg += "; URL looks like an aggregate listing, victim may belong to another item"
		result.Warnings = append(result.Warnings, msg)
		// Stronger warning: the aggregate shape doubles the doubt.
		result.Warnings = append(result.Warnings, "aggregate listing source requires manual confirmation of the victim")
		return
	}
	result.Warnings = append(result.Warnings, msg)
}

func (v *Validator) checkDates(extraction *Extraction, result *ValidationResult) {
	today := v.now().UTC()

	incidentDate := parseISODate(extraction.Incident.IncidentDate)
	discoveryDate := parseISODate(extraction.Incident.DiscoveryDate)
	disclosureDate := parseISODate(extraction.Incident.DisclosureDate)

	if incidentDate != nil {
		if incidentDate.After(today) {
			result.Errors = append(result.Errors, "incident date is in the future")
		}
		if incidentDate.Year() < 1990 {
			result.Errors = append(result.Errors, fmt.Sprintf("incident year %d predates the corpus", incidentDate.Year()))
		}
	}
	if incidentDate != nil && discoveryDate != nil && discoveryDate.Before(*incidentDate) {
		result.Errors = append(result.Errors, "discovery date precedes incident date")
	}
	if discoveryDate != nil && disclosureDate != nil && disclosureDate.Before(*discoveryDate) {
		result.Errors = append(result.Errors, "disclosure date precedes discovery date")
	}
}

func (v *Validator) checkCrossField(extraction *Extraction, result *ValidationResult) {
	records := extraction.Incident.RecordsAffected
	severity := strings.ToLower(extraction.Incident.Severity)

	if records != nil {
		if severity == "critical" && *records < 1000 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("severity critical with only %d records affected", *records))
		}
		if severity == "low" && *records > 100000 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("severity low with %d records affected", *records))
		}
	}

	if extraction.Victim.Name != nil && extraction.Victim.Industry != nil {
		victimLower := strings.ToLower(*extraction.Victim.Name)
		for org, industry := range knownOrgIndustries {
			if strings.Contains(victimLower, org) && *extraction.Victim.Industry != industry {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("victim %q is known as %s, extraction says %s",
						*extraction.Victim.Name, industry, *extraction.Victim.Industry))
				break
			}
		}
	}
}

func (v *Validator) checkDuplicate(ctx context.Context, extraction *Extraction, result *ValidationResult) {
	if v.store == nil || extraction.Victim.Name == nil || extraction.Incident.IncidentDate == nil {
		return
	}
	date := parseISODate(extraction.Incident.IncidentDate)
	if date == nil {
		return
	}
	existing, err := v.store.FindActiveByVictimAndDate(ctx, *extraction.Victim.Name, *date)
	if err != nil {
		v.logger.Warn("duplicate check failed", zap.Error(err))
		return
	}
	if existing != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("an active enriched event for %q on %s already exists (%s)",
				*extraction.Victim.Name, *extraction.Incident.IncidentDate, existing.ID))
	}
}

// applySpecificityOverride repairs the model's specificity flag when the
// evidence contradicts it, recording the override either way.
func (v *Validator) applySpecificityOverride(raw *incident.RawEvent, extraction *Extraction, result *ValidationResult) {
	hasVictim := extraction.Victim.Name != nil
	hasAnchor := extraction.Incident.RecordsAffected != nil ||
		extraction.Incident.IncidentDate != nil ||
		hasConcreteAttackType(extraction.Incident.Type)

	if !extraction.Specificity.IsSpecificIncident &&
		hasVictim && extraction.AustralianRelevance.Score >= 0.7 && hasAnchor {
		extraction.Specificity.IsSpecificIncident = true
		result.Overrides = append(result.Overrides, Override{
			Field:  "specificity.is_specific_incident",
			From:   "false",
			To:     "true",
			Reason: "named victim with high Australian relevance and a concrete anchor",
		})
		return
	}

	titleLower := strings.ToLower(raw.Title)
	if extraction.Specificity.IsSpecificIncident && !hasVictim {
		for _, prefix := range educationalPrefixes {
			if strings.HasPrefix(titleLower, prefix) {
				extraction.Specificity.IsSpecificIncident = false
				result.Overrides = append(result.Overrides, Override{
					Field:  "specificity.is_specific_incident",
					From:   "true",
					To:     "false",
					Reason: "educational title with no named victim",
				})
				return
			}
		}
	}
}

func hasConcreteAttackType(incidentType string) bool {
	switch strings.ToLower(strings.TrimSpace(incidentType)) {
	case "", "other", "unknown":
		return false
	default:
		return true
	}
}

func containsAnyMarker(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func parseISODate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &t
}
