package incident

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawEvent(t *testing.T) {
	tests := []struct {
		name       string
		sourceType SourceType
		title      string
		wantErr    bool
	}{
		{
			name:       "valid news event",
			sourceType: SourceNewsEvents,
			title:      "Optus confirms data breach",
			wantErr:    false,
		},
		{
			name:       "empty title rejected",
			sourceType: SourceWebSearch,
			title:      "   ",
			wantErr:    true,
		},
		{
			name:       "invalid source type rejected",
			sourceType: SourceType("rss"),
			title:      "Some incident",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewRawEvent(tt.sourceType, tt.title, "description")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, ev.ID)
			assert.False(t, ev.IsProcessed)
			assert.WithinDuration(t, time.Now().UTC(), ev.DiscoveredAt, time.Minute)
		})
	}
}

func TestRawEvent_DuplicateKey(t *testing.T) {
	a, err := NewRawEvent(SourceWebSearch, "iiNet Data Breach", "desc")
	require.NoError(t, err)
	a.WithURL("https://example.com/a")

	b, err := NewRawEvent(SourceWebSearch, "IINET DATA BREACH", "other desc")
	require.NoError(t, err)
	b.WithURL("https://example.com/a")

	assert.Equal(t, a.DuplicateKey(), b.DuplicateKey(), "key is case-insensitive on title")

	c, err := NewRawEvent(SourceRegulatorScrape, "iiNet Data Breach", "desc")
	require.NoError(t, err)
	c.WithURL("https://example.com/a")
	assert.NotEqual(t, a.DuplicateKey(), c.DuplicateKey(), "source type is part of the key")
}

func TestRawEvent_Enrichable(t *testing.T) {
	ev, err := NewRawEvent(SourceLLMSearch, "Breach", "short")
	require.NoError(t, err)
	assert.False(t, ev.Enrichable())

	ev.WithURL("https://example.com/breach")
	assert.True(t, ev.Enrichable())

	long, err := NewRawEvent(SourceLLMSearch, "Breach",
		"A ransomware group exfiltrated customer data from a Melbourne logistics provider over the Easter long weekend.")
	require.NoError(t, err)
	assert.True(t, long.Enrichable())
}

func TestRawEvent_MarkProcessed(t *testing.T) {
	ev, err := NewRawEvent(SourceCuratedList, "Breach", "desc")
	require.NoError(t, err)

	ev.MarkProcessed(errors.New("content extraction failed"))
	assert.True(t, ev.IsProcessed)
	require.NotNil(t, ev.ProcessingError)
	assert.Equal(t, "content extraction failed", *ev.ProcessingError)
	assert.NotNil(t, ev.ProcessingAttempted)
}

func TestNewEnrichedEvent_Gate(t *testing.T) {
	rawID := uuid.New()

	_, err := NewEnrichedEvent(rawID, "title", true, false)
	assert.Error(t, err, "non-specific incidents cannot be inserted normally")

	_, err = NewEnrichedEvent(rawID, "title", false, true)
	assert.Error(t, err, "non-Australian incidents cannot be inserted normally")

	ev, err := NewEnrichedEvent(rawID, "title", true, true)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, ev.Status)

	override, err := NewEnrichedEventOverride(rawID, "title")
	require.NoError(t, err)
	assert.False(t, override.IsAustralianEvent)
}

func TestDeduplicatedEvent_Validate(t *testing.T) {
	ev := &DeduplicatedEvent{
		MasterEnrichedID:           uuid.New(),
		Title:                      "ANZ Bank data leak",
		ContributingEnrichedEvents: 2,
	}
	assert.NoError(t, ev.Validate())

	ev.ContributingEnrichedEvents = 0
	assert.Error(t, ev.Validate())
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("Critical"))
	assert.Equal(t, SeverityHigh, ParseSeverity(" HIGH "))
	assert.Equal(t, SeverityUnknown, ParseSeverity("catastrophic"))
}

func TestDateRange(t *testing.T) {
	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	dr, err := NewDateRange(start, end)
	require.NoError(t, err)
	assert.True(t, dr.Contains(time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, dr.Contains(end))

	_, err = NewDateRange(end, start)
	assert.Error(t, err)

	widened := dr.WidenStart(2)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), widened.Start)

	month := MonthRange(2025, time.February)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), month.End)
}
