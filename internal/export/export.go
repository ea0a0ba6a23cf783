// Package export renders the deduplicated tier as analyst-facing files.
// XLSX output carries an Incidents sheet plus a Sources sheet; CSV output
// is the Incidents sheet alone, for downstream tooling.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

const (
	incidentsSheet = "Incidents"
	sourcesSheet   = "Sources"
)

var incidentHeader = []string{
	"title",
	"victim_organization",
	"victim_industry",
	"event_type",
	"severity",
	"event_date",
	"records_affected",
	"attack_method",
	"attacking_entity",
	"summary",
	"confidence_score",
	"australian_relevance_score",
	"total_data_sources",
	"contributing_enriched_events",
	"similarity_score",
	"deduplication_method",
}

var sourceHeader = []string{
	"incident_title",
	"source_url",
	"source_type",
	"credibility_score",
	"discovered_at",
}

// Exporter reads the active canonical events and writes them out.
type Exporter struct {
	dedup  repository.DedupRepository
	logger *zap.Logger
}

func NewExporter(dedup repository.DedupRepository, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{dedup: dedup, logger: logger}
}

// WriteCSV streams the active events as RFC 4180 rows with a header line.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer) (int, error) {
	events, err := e.dedup.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: listing active events: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(incidentHeader); err != nil {
		return 0, fmt.Errorf("export: writing csv header: %w", err)
	}
	for _, ev := range events {
		if err := cw.Write(incidentRow(ev)); err != nil {
			return 0, fmt.Errorf("export: writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("export: flushing csv: %w", err)
	}
	e.logger.Info("csv export complete", zap.Int("events", len(events)))
	return len(events), nil
}

// WriteXLSX builds the workbook in memory and writes it to w.
func (e *Exporter) WriteXLSX(ctx context.Context, w io.Writer) (int, error) {
	events, err := e.dedup.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: listing active events: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), incidentsSheet); err != nil {
		return 0, fmt.Errorf("export: naming sheet: %w", err)
	}
	if _, err := f.NewSheet(sourcesSheet); err != nil {
		return 0, fmt.Errorf("export: adding sources sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DCE6F1"}},
	})
	if err != nil {
		return 0, fmt.Errorf("export: creating header style: %w", err)
	}

	if err := writeSheetRow(f, incidentsSheet, 1, toAny(incidentHeader)); err != nil {
		return 0, err
	}
	last, _ := excelize.ColumnNumberToName(len(incidentHeader))
	_ = f.SetCellStyle(incidentsSheet, "A1", last+"1", headerStyle)
	_ = f.AutoFilter(incidentsSheet, "A1:"+last+"1", nil)
	_ = f.SetColWidth(incidentsSheet, "A", "A", 60)
	_ = f.SetColWidth(incidentsSheet, "B", last, 22)

	for i, ev := range events {
		if err := writeSheetRow(f, incidentsSheet, i+2, incidentCells(ev)); err != nil {
			return 0, err
		}
	}

	if err := writeSheetRow(f, sourcesSheet, 1, toAny(sourceHeader)); err != nil {
		return 0, err
	}
	srcLast, _ := excelize.ColumnNumberToName(len(sourceHeader))
	_ = f.SetCellStyle(sourcesSheet, "A1", srcLast+"1", headerStyle)
	_ = f.SetColWidth(sourcesSheet, "A", "B", 60)

	srcRow := 2
	for _, ev := range events {
		sources, err := e.dedup.ListSources(ctx, ev.ID)
		if err != nil {
			return 0, fmt.Errorf("export: listing sources for %s: %w", ev.ID, err)
		}
		for _, src := range sources {
			cells := []any{
				ev.Title,
				src.SourceURL,
				string(src.SourceType),
				src.CredibilityScore,
				src.DiscoveredAt.Format(time.RFC3339),
			}
			if err := writeSheetRow(f, sourcesSheet, srcRow, cells); err != nil {
				return 0, err
			}
			srcRow++
		}
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("export: writing workbook: %w", err)
	}
	e.logger.Info("xlsx export complete",
		zap.Int("events", len(events)), zap.Int("source_rows", srcRow-2))
	return len(events), nil
}

func writeSheetRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("export: cell coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("export: writing row %d: %w", row, err)
	}
	return nil
}

func incidentRow(ev *incident.DeduplicatedEvent) []string {
	return []string{
		ev.Title,
		deref(ev.VictimOrganizationName),
		deref(ev.VictimOrganizationIndustry),
		ev.EventType,
		string(ev.Severity),
		formatDate(ev.EventDate),
		formatInt(ev.RecordsAffected),
		deref(ev.AttackMethod),
		deref(ev.AttackingEntityName),
		ev.Summary,
		strconv.FormatFloat(ev.ConfidenceScore, 'f', 2, 64),
		strconv.FormatFloat(ev.AustralianRelevanceScore, 'f', 2, 64),
		strconv.Itoa(ev.TotalDataSources),
		strconv.Itoa(ev.ContributingEnrichedEvents),
		strconv.FormatFloat(ev.SimilarityScore, 'f', 3, 64),
		ev.DeduplicationMethod,
	}
}

// incidentCells keeps numbers numeric so spreadsheet sorting works.
func incidentCells(ev *incident.DeduplicatedEvent) []any {
	cells := make([]any, 0, len(incidentHeader))
	cells = append(cells,
		ev.Title,
		deref(ev.VictimOrganizationName),
		deref(ev.VictimOrganizationIndustry),
		ev.EventType,
		string(ev.Severity),
		formatDate(ev.EventDate))
	if ev.RecordsAffected != nil {
		cells = append(cells, *ev.RecordsAffected)
	} else {
		cells = append(cells, "")
	}
	cells = append(cells,
		deref(ev.AttackMethod),
		deref(ev.AttackingEntityName),
		ev.Summary,
		ev.ConfidenceScore,
		ev.AustralianRelevanceScore,
		ev.TotalDataSources,
		ev.ContributingEnrichedEvents,
		ev.SimilarityScore,
		ev.DeduplicationMethod)
	return cells
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatInt(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
