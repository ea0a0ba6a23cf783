package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
)

func strp(s string) *string { return &s }

func newTestRaw(t *testing.T, title string) *incident.RawEvent {
	t.Helper()
	raw, err := incident.NewRawEvent(incident.SourceWebSearch, title, "A description of the incident under review.")
	require.NoError(t, err)
	return raw
}

func baseExtraction() *Extraction {
	return &Extraction{
		Victim: Victim{
			Name:       strp("Acme Logistics"),
			Industry:   strp("Transportation Systems"),
			Confidence: 0.9,
		},
		Incident: IncidentDetail{
			Type:         "ransomware",
			Severity:     "high",
			IncidentDate: strp("2024-03-10"),
			Summary:      "Ransomware encrypted dispatch systems.",
		},
		AustralianRelevance: AustralianRelevance{IsAustralianEvent: true, Score: 0.9},
		Specificity:         Specificity{IsSpecificIncident: true},
		OverallConfidence:   0.85,
	}
}

func newTestValidator() *Validator {
	v := NewValidator(nil, zap.NewNop())
	v.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return v
}

func TestValidate_CleanExtraction(t *testing.T) {
	v := newTestValidator()
	raw := newTestRaw(t, "Acme Logistics hit by ransomware attack")

	result := v.Validate(context.Background(), raw, baseExtraction(), nil)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.InDelta(t, 1.0, result.ValidationConfidence, 0.001)
}

func TestValidate_GenericVictimRejected(t *testing.T) {
	v := newTestValidator()
	raw := newTestRaw(t, "Healthcare provider suffers data breach")

	tests := []string{
		"an Australian healthcare provider",
		"multiple organizations",
		"a major bank",
		"Unknown",
		"N/A",
		"X",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			ex := baseExtraction()
			ex.Victim.Name = strp(name)
			result := v.Validate(context.Background(), raw, ex, nil)
			assert.False(t, result.IsValid, "victim %q must produce a validation error", name)
			assert.Nil(t, ex.Victim.Name, "rejected victim names are cleared")
		})
	}
}

func TestValidate_PersonNameRejected(t *testing.T) {
	v := newTestValidator()
	raw := newTestRaw(t, "Expert warns of data breach wave")

	ex := baseExtraction()
	ex.Victim.Name = strp("Dr Smith")
	result := v.Validate(context.Background(), raw, ex, nil)
	assert.False(t, result.IsValid)
}

func TestValidate_TitleMatchWarnings(t *testing.T) {
	v := newTestValidator()

	// Victim absent from the title: one warning.
	raw := newTestRaw(t, "Weekly security news update on recent data breach events")
	ex := baseExtraction()
	result := v.Validate(context.Background(), raw, ex, nil)
	assert.True(t, result.IsValid)
	assert.NotEmpty(t, result.Warnings)

	// Aggregate URL shape: stronger warning.
	raw.WithURL("https://example.com/blog/weekly-roundup-march")
	result = v.Validate(context.Background(), raw, baseExtraction(), nil)
	assert.GreaterOrEqual(t, len(result.Warnings), 2)
}

func TestValidate_DatePlausibility(t *testing.T) {
	v := newTestValidator()
	raw := newTestRaw(t, "Acme Logistics ransomware attack")

	ex := baseExtraction()
	ex.Incident.IncidentDate = strp("2031-01-01")
	result := v.Validate(context.Background(), raw, ex, nil)
	assert.False(t, result.IsValid, "future incident date is an error")

	ex = baseExtraction()
	ex.Incident.IncidentDate = strp("1987-05-05")
	result = v.Validate(context.Background(), raw, ex, nil)
	assert.False(t, result.IsValid, "pre-1990 incident date is an error")

	ex = baseExtraction()
	ex.Incident.IncidentDate = strp("2024-03-10")
	ex.Incident.DiscoveryDate = strp("2024-03-01")
	result = v.Validate(context.Background(), raw, ex, nil)
	assert.False(t, result.IsValid, "discovery before incident is an error")

	ex = baseExtraction()
	ex.Incident.DiscoveryDate = strp("2024-03-12")
	ex.Incident.DisclosureDate = strp("2024-03-11")
	result = v.Validate(context.Background(), raw, ex, nil)
	assert.False(t, result.IsValid, "disclosure before discovery is an error")
}

func TestValidate_CrossFieldWarnings(t *testing.T) {
	v := newTestValidator()
	raw := newTestRaw(t, "Acme Logistics ransomware attack")

	ex := baseExtraction()
	ex.Incident.Severity = "critical"
	ex.Incident.RecordsAffected = int64p(200)
	result := v.Validate(context.Background(), raw, ex, nil)
	assert.True(t, result.IsValid)
	assert.NotEmpty(t, result.Warnings, "critical severity with tiny record count warns")

	raw2 := newTestRaw(t, "Optus confirms incident")
	ex = baseExtraction()
	ex.Victim.Name = strp("Optus")
	ex.Victim.Industry = strp("Retail")
	result = v.Validate(context.Background(), raw2, ex, nil)
	assert.NotEmpty(t, result.Warnings, "known-organisation industry mismatch warns")
}

func TestValidate_SpecificityOverrides(t *testing.T) {
	v := newTestValidator()

	// Repair false -> true: named victim, high relevance, concrete anchor.
	raw := newTestRaw(t, "Acme Logistics ransomware attack")
	ex := baseExtraction()
	ex.Specificity.IsSpecificIncident = false
	result := v.Validate(context.Background(), raw, ex, nil)
	assert.True(t, ex.Specificity.IsSpecificIncident)
	require.Len(t, result.Overrides, 1)
	assert.Equal(t, "false", result.Overrides[0].From)

	// Repair true -> false: educational title, no victim.
	raw = newTestRaw(t, "How to protect your business from ransomware")
	ex = baseExtraction()
	ex.Victim.Name = nil
	ex.Specificity.IsSpecificIncident = true
	result = v.Validate(context.Background(), raw, ex, nil)
	assert.False(t, ex.Specificity.IsSpecificIncident)
	require.Len(t, result.Overrides, 1)
	assert.Equal(t, "true", result.Overrides[0].From)
}

func TestValidate_AveragesWithFactCheckPassRate(t *testing.T) {
	v := newTestValidator()
	raw := newTestRaw(t, "Acme Logistics ransomware attack")

	factCheck := &FactCheckResult{ChecksPerformed: 2, ChecksPassed: 1, ChecksFailed: 1}
	result := v.Validate(context.Background(), raw, baseExtraction(), factCheck)
	// (1.0 + 0.5) / 2
	assert.InDelta(t, 0.75, result.ValidationConfidence, 0.001)
}
