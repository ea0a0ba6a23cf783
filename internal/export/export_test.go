package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/config"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

func newExporter(t *testing.T) (*Exporter, repository.DedupRepository, repository.RawEventRepository, repository.EnrichedEventRepository) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		URL:         ":memory:",
		BusyTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	dedup := repository.NewDedupRepository(db)
	return NewExporter(dedup, zap.NewNop()),
		dedup,
		repository.NewRawEventRepository(db),
		repository.NewEnrichedEventRepository(db)
}

func seedCanonical(t *testing.T, dedup repository.DedupRepository,
	raws repository.RawEventRepository, enriched repository.EnrichedEventRepository,
	title, url string, records *int64) *incident.DeduplicatedEvent {
	t.Helper()
	ctx := context.Background()

	raw, err := incident.NewRawEvent(incident.SourceWebSearch, title,
		"A ransomware attack and data breach disrupted operations across the organisation.")
	require.NoError(t, err)
	raw.WithURL(url)
	require.NoError(t, raws.Create(ctx, raw))

	ev, err := incident.NewEnrichedEvent(raw.ID, title, true, true)
	require.NoError(t, err)
	ev.EventType = "ransomware"
	ev.ConfidenceScore = 0.85
	require.NoError(t, enriched.Create(ctx, ev))

	victim := "Acme Logistics"
	method := "ransomware"
	date := time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC)
	canonical := &incident.DeduplicatedEvent{
		ID:                         uuid.New(),
		MasterEnrichedID:           ev.ID,
		Title:                      title,
		Description:                raw.Description,
		Summary:                    "Ransomware encrypted dispatch systems.",
		EventType:                  "ransomware",
		Severity:                   incident.SeverityHigh,
		EventDate:                  &date,
		RecordsAffected:            records,
		VictimOrganizationName:     &victim,
		AttackMethod:               &method,
		IsAustralianEvent:          true,
		IsSpecificEvent:            true,
		ConfidenceScore:            0.85,
		AustralianRelevanceScore:   0.9,
		TotalDataSources:           1,
		ContributingRawEvents:      1,
		ContributingEnrichedEvents: 1,
		SimilarityScore:            1.0,
		DeduplicationMethod:        "entity-anchored-v2",
		Status:                     incident.StatusActive,
	}
	mappings := []incident.DedupMapping{{
		RawID:              raw.ID,
		EnrichedID:         ev.ID,
		DedupID:            canonical.ID,
		ContributionType:   incident.ContributionPrimary,
		SimilarityToMaster: 1.0,
		Weight:             1.0,
	}}
	sources := []incident.DedupSource{{
		DedupID:          canonical.ID,
		SourceURL:        url,
		SourceType:       incident.SourceWebSearch,
		CredibilityScore: 0.5,
		ContentSnippet:   raw.Description,
		DiscoveredAt:     time.Now().UTC(),
	}}
	require.NoError(t, dedup.CreateGroup(ctx, canonical, mappings, sources))
	return canonical
}

func TestWriteCSV(t *testing.T) {
	e, dedup, raws, enriched := newExporter(t)
	records := int64(9700000)
	seedCanonical(t, dedup, raws, enriched,
		"Medibank confirms ransomware incident", "https://news.example.com/medibank", &records)
	seedCanonical(t, dedup, raws, enriched,
		"Acme Logistics hit by ransomware attack", "https://news.example.com/acme", nil)

	var buf bytes.Buffer
	n, err := e.WriteCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, incidentHeader, rows[0])

	byTitle := map[string][]string{}
	for _, row := range rows[1:] {
		byTitle[row[0]] = row
	}
	medibank, ok := byTitle["Medibank confirms ransomware incident"]
	require.True(t, ok)
	assert.Equal(t, "Acme Logistics", medibank[1])
	assert.Equal(t, "2024-03-12", medibank[5])
	assert.Equal(t, "9700000", medibank[6])
	assert.Equal(t, "entity-anchored-v2", medibank[15])

	acme, ok := byTitle["Acme Logistics hit by ransomware attack"]
	require.True(t, ok)
	assert.Empty(t, acme[6], "missing record counts export as blank")
}

func TestWriteCSV_EmptyCorpus(t *testing.T) {
	e, _, _, _ := newExporter(t)
	var buf bytes.Buffer
	n, err := e.WriteCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(buf.String()), "\n")+1,
		"header line only")
}

func TestWriteXLSX(t *testing.T) {
	e, dedup, raws, enriched := newExporter(t)
	records := int64(9700000)
	seedCanonical(t, dedup, raws, enriched,
		"Medibank confirms ransomware incident", "https://news.example.com/medibank", &records)

	var buf bytes.Buffer
	n, err := e.WriteXLSX(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.ElementsMatch(t, []string{incidentsSheet, sourcesSheet}, f.GetSheetList())

	rows, err := f.GetRows(incidentsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, incidentHeader, rows[0])
	assert.Equal(t, "Medibank confirms ransomware incident", rows[1][0])
	assert.Equal(t, "9700000", rows[1][6])

	srcRows, err := f.GetRows(sourcesSheet)
	require.NoError(t, err)
	require.Len(t, srcRows, 2)
	assert.Equal(t, "https://news.example.com/medibank", srcRows[1][1])
}
