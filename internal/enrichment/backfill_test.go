package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/config"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

type backfillHarness struct {
	raw      repository.RawEventRepository
	enriched repository.EnrichedEventRepository
}

func newBackfillHarness(t *testing.T) *backfillHarness {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		URL:         ":memory:",
		BusyTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return &backfillHarness{
		raw:      repository.NewRawEventRepository(db),
		enriched: repository.NewEnrichedEventRepository(db),
	}
}

func (h *backfillHarness) seedEnriched(t *testing.T, title string, records *int64) *incident.EnrichedEvent {
	t.Helper()
	ctx := context.Background()
	raw, err := incident.NewRawEvent(incident.SourceWebSearch, title,
		"A ransomware incident and data breach confirmed by the organisation.")
	require.NoError(t, err)
	require.NoError(t, h.raw.Create(ctx, raw))

	ev, err := incident.NewEnrichedEvent(raw.ID, title, true, true)
	require.NoError(t, err)
	ev.Summary = "Ransomware encrypted internal systems."
	ev.EventType = "ransomware"
	ev.RecordsAffected = records
	require.NoError(t, h.enriched.Create(ctx, ev))
	return ev
}

func TestBackfiller_ConfirmedAppliesCorrections(t *testing.T) {
	h := newBackfillHarness(t)
	ev := h.seedEnriched(t, "Acme Logistics ransomware attack", nil)

	client := &scriptedGroundedLLM{responses: map[string]string{
		"Verify this Australian cyber security incident": `{
			"confirmed": true,
			"corrections": {
				"event_date": "2024-03-12",
				"records_affected": 2000000,
				"attack_method": "phishing-delivered ransomware"
			},
			"additional_context": "Widely reported.",
			"sources": ["https://example.com/report"]
		}`,
	}}
	backfiller := NewBackfiller(client, h.enriched, zap.NewNop())

	ctx := context.Background()
	stats, err := backfiller.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Zero(t, stats.Errors)

	got, err := h.enriched.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, got.PerplexityValidated)
	require.NotNil(t, got.EventDate)
	assert.Equal(t, "2024-03-12", got.EventDate.Format("2006-01-02"))
	require.NotNil(t, got.RecordsAffected)
	assert.Equal(t, int64(2_000_000), *got.RecordsAffected)
	require.NotNil(t, got.AttackMethod)
	assert.Equal(t, "phishing-delivered ransomware", *got.AttackMethod)

	// Validated events leave the backfill queue.
	pending, err := h.enriched.ListForBackfill(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBackfiller_CorrectionFailingPlausibilityDropped(t *testing.T) {
	h := newBackfillHarness(t)
	ev := h.seedEnriched(t, "Local accounting firm breach", nil)

	// 25M records at an unremarkable organisation fails the plausibility rule.
	client := &scriptedGroundedLLM{responses: map[string]string{
		"Verify this Australian cyber security incident": `{
			"confirmed": true,
			"corrections": {"event_date": null, "records_affected": 25000000, "attack_method": null},
			"additional_context": "",
			"sources": []
		}`,
	}}
	backfiller := NewBackfiller(client, h.enriched, zap.NewNop())

	ctx := context.Background()
	_, err := backfiller.Run(ctx, 10)
	require.NoError(t, err)

	got, err := h.enriched.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RecordsAffected)
}

func TestBackfiller_UnconfirmedLeavesEventUntouched(t *testing.T) {
	h := newBackfillHarness(t)
	ev := h.seedEnriched(t, "Acme Logistics ransomware attack", int64p(5000))

	client := &scriptedGroundedLLM{responses: map[string]string{
		"Verify this Australian cyber security incident": `{
			"confirmed": false,
			"corrections": {"event_date": "2019-01-01", "records_affected": 99, "attack_method": "none"},
			"additional_context": "No independent reporting found.",
			"sources": []
		}`,
	}}
	backfiller := NewBackfiller(client, h.enriched, zap.NewNop())

	ctx := context.Background()
	stats, err := backfiller.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unconfirmed)

	got, err := h.enriched.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, got.PerplexityValidated)
	assert.Nil(t, got.EventDate)
	require.NotNil(t, got.RecordsAffected)
	assert.Equal(t, int64(5000), *got.RecordsAffected)
	require.NotNil(t, got.PerplexityEnrichment, "the verdict blob is still recorded")
}

func TestBackfiller_BadVerdictCountedAsError(t *testing.T) {
	h := newBackfillHarness(t)
	h.seedEnriched(t, "Acme Logistics ransomware attack", nil)

	client := &scriptedGroundedLLM{responses: map[string]string{
		"Verify this Australian cyber security incident": "no json here",
	}}
	backfiller := NewBackfiller(client, h.enriched, zap.NewNop())

	stats, err := backfiller.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
}

func TestRecordsRepair_DryRunThenApply(t *testing.T) {
	h := newBackfillHarness(t)
	bad := h.seedEnriched(t, "Local accounting firm breach", int64p(25_000_000))
	good := h.seedEnriched(t, "Medibank extortion incident", int64p(9_700_000))

	repair := NewRecordsRepair(h.enriched, zap.NewNop())
	ctx := context.Background()

	report, err := repair.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Flagged)
	assert.False(t, report.Applied)

	// Dry run changes nothing.
	got, err := h.enriched.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RecordsAffected)

	report, err = repair.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)
	assert.True(t, report.Applied)

	got, err = h.enriched.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RecordsAffected)

	kept, err := h.enriched.GetByID(ctx, good.ID)
	require.NoError(t, err)
	require.NotNil(t, kept.RecordsAffected)
	assert.Equal(t, int64(9_700_000), *kept.RecordsAffected)
}
