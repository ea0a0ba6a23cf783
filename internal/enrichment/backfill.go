package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

const backfillPromptTemplate = `Verify this Australian cyber security incident using web search:

Title: %s
Event date: %s
Summary: %s

Respond with JSON:
{
  "confirmed": true/false,
  "corrections": {
    "event_date": "YYYY-MM-DD or null if no correction",
    "records_affected": integer or null,
    "attack_method": "string or null"
  },
  "additional_context": "1-2 sentences",
  "sources": ["url", ...]
}`

type backfillVerdict struct {
	Confirmed   bool `json:"confirmed"`
	Corrections struct {
		EventDate       *string `json:"event_date"`
		RecordsAffected *int64  `json:"records_affected"`
		AttackMethod    *string `json:"attack_method"`
	} `json:"corrections"`
	AdditionalContext string   `json:"additional_context"`
	Sources           []string `json:"sources"`
}

// Backfiller revisits accepted events that never went through
// search-grounded validation and annotates them in place.
type Backfiller struct {
	client llm.SearchGroundedLLM
	store  repository.EnrichedEventRepository
	logger *zap.Logger
}

// NewBackfiller wires the validation backfill job.
func NewBackfiller(client llm.SearchGroundedLLM, store repository.EnrichedEventRepository, logger *zap.Logger) *Backfiller {
	return &Backfiller{client: client, store: store, logger: logger}
}

// BackfillStats summarises one backfill sweep.
type BackfillStats struct {
	Examined  int `json:"examined"`
	Confirmed int `json:"confirmed"`
	Unconfirmed int `json:"unconfirmed"`
	Errors    int `json:"errors"`
}

// Run validates up to limit pending events. Individual failures are
// counted and skipped so one bad event cannot stall the sweep.
func (b *Backfiller) Run(ctx context.Context, limit int) (*BackfillStats, error) {
	events, err := b.store.ListForBackfill(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("backfill: listing candidates: %w", err)
	}

	stats := &BackfillStats{}
	for _, ev := range events {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Examined++
		if err := b.backfillOne(ctx, ev, stats); err != nil {
			b.logger.Warn("backfill failed for event",
				zap.String("enriched_id", ev.ID.String()), zap.Error(err))
			stats.Errors++
		}
	}
	return stats, nil
}

func (b *Backfiller) backfillOne(ctx context.Context, ev *incident.EnrichedEvent, stats *BackfillStats) error {
	date := "unknown"
	if ev.EventDate != nil {
		date = ev.EventDate.Format("2006-01-02")
	}
	prompt := fmt.Sprintf(backfillPromptTemplate, ev.Title, date, ev.Summary)

	answer, err := b.client.Search(ctx, factCheckSystemPrompt, prompt)
	if err != nil {
		return err
	}

	var verdict backfillVerdict
	if err := json.Unmarshal([]byte(extractJSON(answer.Content)), &verdict); err != nil {
		return fmt.Errorf("parsing backfill verdict: %w", err)
	}

	if verdict.Confirmed {
		stats.Confirmed++
		if d := parseISODate(verdict.Corrections.EventDate); d != nil {
			ev.EventDate = d
		}
		if verdict.Corrections.RecordsAffected != nil {
			ev.RecordsAffected = ValidateRecordsAffected(verdict.Corrections.RecordsAffected, ev.Title)
		}
		if verdict.Corrections.AttackMethod != nil && strings.TrimSpace(*verdict.Corrections.AttackMethod) != "" {
			ev.AttackMethod = verdict.Corrections.AttackMethod
		}
	} else {
		stats.Unconfirmed++
	}

	blob, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	ev.ApplyPerplexityBackfill(string(blob), verdict.Confirmed)
	return b.store.Update(ctx, ev)
}

// RecordsRepair re-applies the records plausibility rule to already
// persisted events; earlier prompt versions let implausible counts in.
type RecordsRepair struct {
	store  repository.EnrichedEventRepository
	logger *zap.Logger
}

// NewRecordsRepair wires the fix-records job.
func NewRecordsRepair(store repository.EnrichedEventRepository, logger *zap.Logger) *RecordsRepair {
	return &RecordsRepair{store: store, logger: logger}
}

// RepairReport lists what the sweep would change.
type RepairReport struct {
	Examined int      `json:"examined"`
	Flagged  int      `json:"flagged"`
	Applied  bool     `json:"applied"`
	Details  []string `json:"details"`
}

// Run scans events carrying a records count and nulls implausible values.
// With apply false it only reports what would change.
func (r *RecordsRepair) Run(ctx context.Context, apply bool) (*RepairReport, error) {
	events, err := r.store.ListWithRecordsAffected(ctx)
	if err != nil {
		return nil, fmt.Errorf("fix-records: listing events: %w", err)
	}

	report := &RepairReport{Applied: apply}
	for _, ev := range events {
		report.Examined++
		validated := ValidateRecordsAffected(ev.RecordsAffected, ev.Title)
		if validated != nil {
			continue
		}

		report.Flagged++
		report.Details = append(report.Details,
			fmt.Sprintf("%s: %q records_affected %d fails plausibility",
				ev.ID, ev.Title, *ev.RecordsAffected))

		if apply {
			ev.RecordsAffected = nil
			if err := r.store.Update(ctx, ev); err != nil {
				return report, fmt.Errorf("fix-records: updating %s: %w", ev.ID, err)
			}
		}
	}

	r.logger.Info("fix-records sweep complete",
		zap.Int("examined", report.Examined),
		zap.Int("flagged", report.Flagged),
		zap.Bool("applied", apply))
	return report, nil
}
