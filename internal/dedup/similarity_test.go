package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

func dateOn(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func newCandidate(title, description, eventType string, eventDate *time.Time, confidence float64) *candidate {
	ev := &repository.EnrichedWithSource{}
	ev.ID = uuid.New()
	ev.RawID = uuid.New()
	ev.Title = title
	ev.Description = description
	ev.EventType = eventType
	ev.EventDate = eventDate
	ev.ConfidenceScore = confidence
	ev.Status = incident.StatusActive
	return &candidate{ev: ev, primary: extractPrimaryEntity(title)}
}

func TestExtractPrimaryEntity(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Optus suffers massive data breach", "Optus"},
		{"Medibank confirms ransomware incident", "Medibank"},
		{"ANZ Bank confirms data leak", "ANZ Bank"},
		{"Latitude Financial hit by cyber attack", "Latitude Financial"},
		{"Ransomware attack on Royal Perth Hospital", "Royal Perth Hospital"},
		{"The Medibank hack explained", "Medibank"},
		{"Data breach at Canva: accounts exposed", "Canva"},
		{"Multiple Australian companies targeted this week", ""},
		{"Cyber security tips for small business", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPrimaryEntity(tt.title))
		})
	}
}

func TestEntitySimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Optus", "Optus", 1.0, 1.0},
		{"suffix stripped", "Acme Pty Ltd", "Acme", 1.0, 1.0},
		{"containment", "Optus", "Optus Communications", 0.95, 1.0},
		{"acronym expansion", "ANZ Bank", "Australia and New Zealand Banking Group", 0.95, 1.0},
		{"alias table", "CBA", "Commonwealth Bank", 1.0, 1.0},
		{"unrelated", "Optus", "Medibank", 0.0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entitySimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestTitleSimilarity_Truncation(t *testing.T) {
	full := "Optus data breach exposes millions of customer records nationwide"
	short := "Optus data breach exposes millions"
	assert.GreaterOrEqual(t, titleSimilarity(full, short), 0.9)
}

func TestDateFactor(t *testing.T) {
	base := dateOn(2024, time.March, 1)
	tests := []struct {
		name string
		b    *time.Time
		want float64
	}{
		{"same day", dateOn(2024, time.March, 1), 1.0},
		{"within a week", dateOn(2024, time.March, 6), 0.98},
		{"within a month", dateOn(2024, time.March, 25), 0.90},
		{"within 90 days", dateOn(2024, time.May, 15), 0.80},
		{"within 180 days", dateOn(2024, time.June, 29), 0.70},
		{"within a year", dateOn(2024, time.December, 1), 0.60},
		{"missing date", nil, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, dateFactor(base, tt.b, false), 0.001)
		})
	}

	// Identical titles floor the factor even with distant dates.
	far := dateOn(2025, time.June, 1)
	assert.InDelta(t, 0.95, dateFactor(base, far, true), 0.001)
}

func TestIsGenericSummaryPair(t *testing.T) {
	assert.True(t, isGenericSummaryPair(
		"Multiple Australian companies hit by data breaches this week",
		"Multiple companies report data breaches across Australia"))
	assert.False(t, isGenericSummaryPair(
		"Optus suffers data breach",
		"Multiple companies report data breaches"))
}

func TestIsDifferentIncident(t *testing.T) {
	a := newCandidate("Acme Corp suffers data breach", "Phishing campaign stole credentials.", "data breach",
		dateOn(2024, time.March, 1), 0.8)
	b := newCandidate("Acme Corp suffers data breach", "Ransomware encrypted file servers.", "data breach",
		dateOn(2024, time.June, 1), 0.8)

	records := func(v int64) *int64 { return &v }
	a.ev.RecordsAffected = records(500)
	b.ev.RecordsAffected = records(200_000)

	// Structured attack methods disagree.
	phishing, ransomware := "phishing", "ransomware"
	a.ev.AttackMethod = &phishing
	b.ev.AttackMethod = &ransomware
	assert.True(t, isDifferentIncident(a, b))

	// Same method: scale difference alone does not split them.
	b.ev.AttackMethod = &phishing
	assert.False(t, isDifferentIncident(a, b))

	// No structured methods: description anchors decide.
	a.ev.AttackMethod, b.ev.AttackMethod = nil, nil
	assert.True(t, isDifferentIncident(a, b))

	// Comparable scale never splits.
	b.ev.RecordsAffected = records(900)
	assert.False(t, isDifferentIncident(a, b))
}

const anzDescription = "The bank said unauthorised access exposed customer records including " +
	"names, email addresses and phone numbers. Stolen data including personal information " +
	"was offered on the dark web and affected customers were notified."

func TestMatcher_EntityAliasMerge(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	a := newCandidate("ANZ Bank confirms data leak", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Australia and New Zealand Banking Group discloses breach", anzDescription, "data breach",
		dateOn(2024, time.March, 5), 0.80)

	assert.True(t, m.IsSimilar(context.Background(), a, b))
}

func TestMatcher_EntityGateBlocksDifferentOrganisations(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	a := newCandidate("Optus suffers data breach", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Medibank confirms data breach", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)

	assert.False(t, m.IsSimilar(context.Background(), a, b),
		"identical prose must not merge different organisations")
}

func TestMatcher_IdenticalTitlesBypassEntityGate(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	// No pattern extracts an entity from these, but the titles are identical.
	a := newCandidate("Cyber incident under investigation in Victoria", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Cyber incident under investigation in Victoria", anzDescription, "data breach",
		dateOn(2024, time.March, 2), 0.85)

	assert.Equal(t, "", a.primary)
	assert.True(t, m.IsSimilar(context.Background(), a, b))
}

const strongAnchorDescription = "Attackers accessed the contact centre platform on 12 March 2024. " +
	"Unusual activity was detected and names, email addresses and Medicare numbers were stolen " +
	"in the ransomware incident. Stolen data appeared on the dark web."

func TestMatcher_StrongIndicatorsSurviveDateGap(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	actor := "LockBit"

	a := newCandidate("Acme Corp suffers ransomware attack", strongAnchorDescription, "ransomware",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Acme Corp ransomware incident widens", strongAnchorDescription, "ransomware",
		dateOn(2024, time.June, 29), 0.80)
	a.ev.AttackingEntityName = &actor
	b.ev.AttackingEntityName = &actor

	assert.True(t, m.IsSimilar(context.Background(), a, b),
		"120-day gap merges when anchors are strong")

	// Same pair with weak signals stays apart.
	weakA := newCandidate("Acme Corp suffers ransomware attack", "Systems were disrupted.", "ransomware",
		dateOn(2024, time.March, 1), 0.85)
	weakB := newCandidate("Acme Corp reports incident", "An issue is being investigated by the company.", "other",
		dateOn(2024, time.June, 29), 0.80)
	assert.False(t, m.IsSimilar(context.Background(), weakA, weakB))
}

type fakeSearchArbiter struct {
	content string
	calls   int
}

func (f *fakeSearchArbiter) Search(_ context.Context, _, _ string) (*llm.GroundedAnswer, error) {
	f.calls++
	return &llm.GroundedAnswer{Content: f.content}, nil
}

func TestMatcher_ArbiterVetoesBorderlinePair(t *testing.T) {
	search := &fakeSearchArbiter{content: `{"same_incident": false, "confidence": 0.9, "reasoning": "two separate breaches"}`}
	m := NewMatcher(NewArbiter(search, nil, zap.NewNop()), zap.NewNop())

	a := newCandidate("ANZ Bank confirms data leak", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Australia and New Zealand Banking Group discloses breach", anzDescription, "data breach",
		dateOn(2024, time.March, 12), 0.80)

	assert.False(t, m.IsSimilar(context.Background(), a, b))
	assert.Equal(t, 1, search.calls)
}

func TestMatcher_ArbiterApprovesBorderlinePair(t *testing.T) {
	search := &fakeSearchArbiter{content: `{"same_incident": true, "confidence": 0.9, "reasoning": "same breach reported twice"}`}
	m := NewMatcher(NewArbiter(search, nil, zap.NewNop()), zap.NewNop())

	// The 120-day gap drags the raw score under the standard threshold
	// but keeps it inside the arbiter band.
	a := newCandidate("ANZ Bank confirms data leak", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Australia and New Zealand Banking Group discloses breach", anzDescription, "data breach",
		dateOn(2024, time.June, 29), 0.80)

	score := scorePair(a, b)
	require.GreaterOrEqual(t, score.Combined, arbiterBandLow)
	require.Less(t, score.Combined, score.Threshold)
	assert.True(t, m.IsSimilar(context.Background(), a, b))
	assert.Equal(t, 1, search.calls)
}

func TestMatcher_LowConfidenceVerdictFallsBackToScore(t *testing.T) {
	search := &fakeSearchArbiter{content: `{"same_incident": false, "confidence": 0.4, "reasoning": "unclear"}`}
	m := NewMatcher(NewArbiter(search, nil, zap.NewNop()), zap.NewNop())

	a := newCandidate("ANZ Bank confirms data leak", anzDescription, "data breach",
		dateOn(2024, time.March, 1), 0.85)
	b := newCandidate("Australia and New Zealand Banking Group discloses breach", anzDescription, "data breach",
		dateOn(2024, time.March, 12), 0.80)

	score := scorePair(a, b)
	assert.Equal(t, score.Combined >= score.Threshold, m.IsSimilar(context.Background(), a, b))
	assert.Equal(t, 1, search.calls)
}

func TestParseVerdict(t *testing.T) {
	verdict, err := parseVerdict("Based on my search:\n```json\n{\"same_incident\": true, \"confidence\": 0.8, \"reasoning\": \"ok\"}\n```")
	assert.NoError(t, err)
	assert.True(t, verdict.SameIncident)
	assert.InDelta(t, 0.8, verdict.Confidence, 0.001)

	_, err = parseVerdict("no structure here")
	assert.Error(t, err)
}

func TestBestEventDate(t *testing.T) {
	placeholder := newCandidate("Acme Corp suffers breach", "d", "data breach", dateOn(2024, time.March, 1), 0.9)
	precise := newCandidate("Acme Corp suffers breach", "d", "data breach", dateOn(2024, time.April, 17), 0.7)
	group := []*candidate{placeholder, precise}

	// A first-of-month date is treated as a placeholder and loses to any
	// precise date, even a later one.
	got := bestEventDate(group, placeholder)
	assert.Equal(t, *dateOn(2024, time.April, 17), *got)

	// With placeholders only, the earliest wins.
	other := newCandidate("Acme Corp suffers breach", "d", "data breach", dateOn(2024, time.February, 1), 0.7)
	got = bestEventDate([]*candidate{placeholder, other}, placeholder)
	assert.Equal(t, *dateOn(2024, time.February, 1), *got)
}

func TestCanonicalConfidence(t *testing.T) {
	assert.InDelta(t, 0.9, canonicalConfidence(0.7, 2), 0.001)
	assert.InDelta(t, 1.0, canonicalConfidence(0.8, 5), 0.001, "bonus caps at three sources")
	assert.InDelta(t, 1.0, canonicalConfidence(0.95, 1), 0.001, "confidence never exceeds 1.0")
}

func TestMeanTitleSimilarity_Singleton(t *testing.T) {
	only := newCandidate("Acme Corp suffers breach", "d", "data breach", nil, 0.9)
	assert.InDelta(t, 1.0, meanTitleSimilarity([]*candidate{only}), 0.001)
}
