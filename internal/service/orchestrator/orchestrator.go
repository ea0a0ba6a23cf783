// Package orchestrator sequences the pipeline phases: discovery across
// the configured collectors, concurrent enrichment of the raw backlog,
// deduplication into canonical events and the idempotent month backfill.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auscyberwatch/incident-pipeline/internal/collector"
	"github.com/auscyberwatch/incident-pipeline/internal/dedup"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/enrichment"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
	"github.com/auscyberwatch/incident-pipeline/internal/metrics"
)

// Counters are the per-phase progress numbers reported after each run.
type Counters struct {
	Discovered int64 `json:"discovered"`
	Duplicates int64 `json:"duplicates"`
	Enriched   int64 `json:"enriched"`
	Rejected   int64 `json:"rejected"`
	Errors     int64 `json:"errors"`
}

type counters struct {
	discovered atomic.Int64
	duplicates atomic.Int64
	enriched   atomic.Int64
	rejected   atomic.Int64
	errors     atomic.Int64
}

func (c *counters) snapshot() Counters {
	return Counters{
		Discovered: c.discovered.Load(),
		Duplicates: c.duplicates.Load(),
		Enriched:   c.enriched.Load(),
		Rejected:   c.rejected.Load(),
		Errors:     c.errors.Load(),
	}
}

// Orchestrator owns the long-lived collaborators and runs one phase at a
// time; phases never overlap within a process.
type Orchestrator struct {
	collectors []collector.Collector
	raw        repository.RawEventRepository
	months     repository.MonthLedger
	pipeline   *enrichment.Pipeline
	engine     *dedup.Engine
	workers    int
	logger     *zap.Logger
	metrics    *metrics.Registry
}

// New wires the phase runner. workers bounds enrichment concurrency.
func New(collectors []collector.Collector, raw repository.RawEventRepository,
	months repository.MonthLedger, pipeline *enrichment.Pipeline,
	engine *dedup.Engine, workers int, logger *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		collectors: collectors,
		raw:        raw,
		months:     months,
		pipeline:   pipeline,
		engine:     engine,
		workers:    workers,
		logger:     logger,
	}
}

// WithMetrics attaches a Prometheus registry; nil leaves recording off.
func (o *Orchestrator) WithMetrics(m *metrics.Registry) *Orchestrator {
	o.metrics = m
	return o
}

// DiscoverOptions narrows a discovery run to a subset of collectors.
type DiscoverOptions struct {
	// Sources lists collector names to run; empty means all. Names are
	// matched case-insensitively with underscores treated as hyphens.
	Sources []string
	// PriorityOnly restricts the run to priority-flagged collectors.
	PriorityOnly bool
}

func (opts DiscoverOptions) admits(info collector.Descriptor) bool {
	if opts.PriorityOnly && !info.Priority {
		return false
	}
	if len(opts.Sources) == 0 {
		return true
	}
	for _, s := range opts.Sources {
		if normalizeSourceName(s) == normalizeSourceName(info.Name) {
			return true
		}
	}
	return false
}

func normalizeSourceName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

// Discover runs the selected collectors over the range, sequentially so
// per-source rate limits stay honest, and persists new raw events.
// Misconfigured collectors are skipped, not fatal.
func (o *Orchestrator) Discover(ctx context.Context, dateRange incident.DateRange, maxEvents int, opts DiscoverOptions) (Counters, error) {
	var c counters
	for _, col := range o.collectors {
		info := col.SourceInfo()
		if !opts.admits(info) {
			continue
		}
		if !col.ValidateConfig() {
			o.logger.Warn("collector not configured, skipping", zap.String("collector", info.Name))
			continue
		}
		if ctx.Err() != nil {
			return c.snapshot(), ctx.Err()
		}

		events, err := col.Collect(ctx, dateRange)
		if err != nil {
			o.logger.Error("collector failed", zap.String("collector", info.Name), zap.Error(err))
			c.errors.Add(1)
			if o.metrics != nil {
				o.metrics.RecordCollectorError(info.Name)
			}
			continue
		}

		stored, dupes := 0, 0
		for _, ev := range events {
			if maxEvents > 0 && stored >= maxEvents {
				break
			}
			switch err := o.raw.Create(ctx, ev); {
			case err == nil:
				stored++
				c.discovered.Add(1)
			case stderrors.Is(err, errors.ErrDuplicateRawEvent):
				dupes++
				c.duplicates.Add(1)
			default:
				o.logger.Error("storing raw event failed",
					zap.String("collector", info.Name), zap.String("title", ev.Title), zap.Error(err))
				c.errors.Add(1)
				if o.metrics != nil {
					o.metrics.RecordCollectorError(info.Name)
				}
			}
		}
		if o.metrics != nil {
			o.metrics.RecordDiscovered(info.Name, stored)
			o.metrics.RecordDuplicates(info.Name, dupes)
		}
		o.logger.Info("collector finished",
			zap.String("collector", info.Name),
			zap.Int("found", len(events)),
			zap.Int("stored", stored))
	}
	return c.snapshot(), nil
}

// Enrich drains up to limit unprocessed raw events through the pipeline
// with a bounded worker pool. A non-positive limit drains everything.
func (o *Orchestrator) Enrich(ctx context.Context, limit int) (Counters, error) {
	var c counters

	if limit <= 0 {
		// sqlite treats a negative LIMIT as unbounded.
		limit = -1
	}
	pending, err := o.raw.ListUnprocessed(ctx, limit)
	if err != nil {
		return c.snapshot(), fmt.Errorf("orchestrator: listing unprocessed events: %w", err)
	}
	if len(pending) == 0 {
		return c.snapshot(), nil
	}
	o.logger.Info("enrichment starting",
		zap.Int("pending", len(pending)), zap.Int("workers", o.workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, raw := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			result := o.pipeline.Process(gctx, raw)
			switch {
			case result.Error != "" && result.Decision() == incident.DecisionReject:
				c.errors.Add(1)
			case result.Decision() == incident.DecisionReject:
				c.rejected.Add(1)
			default:
				c.enriched.Add(1)
			}
			if o.metrics != nil {
				o.metrics.RecordDecision(string(result.Decision()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.snapshot(), err
	}
	return c.snapshot(), nil
}

// Dedupe rebuilds the canonical tier.
func (o *Orchestrator) Dedupe(ctx context.Context) (*dedup.Stats, error) {
	stats, err := o.engine.Run(ctx)
	if err == nil && o.metrics != nil {
		o.metrics.RecordDedupRun(stats.Groups, stats.MergedGroups, stats.Contributors)
	}
	return stats, err
}

// BackfillOptions controls a month-by-month backfill run.
type BackfillOptions struct {
	// MaxEvents caps stored events per collector per month; 0 is unlimited.
	MaxEvents int
	// PriorityOnly restricts discovery to priority-flagged collectors.
	PriorityOnly bool
	// Force re-runs months the ledger already marks processed.
	Force bool
}

// MonthBackfill discovers and enriches one month at a time, consulting
// the ledger so completed months are skipped and a crashed run resumes
// where it stopped.
func (o *Orchestrator) MonthBackfill(ctx context.Context, startYear int, startMonth time.Month,
	endYear int, endMonth time.Month, opts BackfillOptions) (Counters, error) {

	var total counters
	cursor := time.Date(startYear, startMonth, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear, endMonth, 1, 0, 0, 0, 0, time.UTC)
	if cursor.After(end) {
		return total.snapshot(), fmt.Errorf("orchestrator: backfill start %s is after end %s",
			cursor.Format("2006-01"), end.Format("2006-01"))
	}

	for !cursor.After(end) {
		if ctx.Err() != nil {
			return total.snapshot(), ctx.Err()
		}
		year, month := cursor.Year(), cursor.Month()

		if !opts.Force {
			done, err := o.months.IsProcessed(ctx, year, month)
			if err != nil {
				return total.snapshot(), fmt.Errorf("orchestrator: checking month ledger: %w", err)
			}
			if done {
				o.logger.Info("month already processed, skipping",
					zap.Int("year", year), zap.String("month", month.String()))
				cursor = cursor.AddDate(0, 1, 0)
				continue
			}
		}

		discovered, err := o.Discover(ctx, incident.MonthRange(year, month), opts.MaxEvents,
			DiscoverOptions{PriorityOnly: opts.PriorityOnly})
		if err != nil {
			return total.snapshot(), err
		}
		enriched, err := o.Enrich(ctx, opts.MaxEvents)
		if err != nil {
			return total.snapshot(), err
		}

		stats := repository.MonthStats{
			Discovered: int(discovered.Discovered),
			Enriched:   int(enriched.Enriched),
			Rejected:   int(enriched.Rejected),
			Errors:     int(discovered.Errors + enriched.Errors),
		}
		if err := o.months.MarkProcessed(ctx, year, month, stats); err != nil {
			return total.snapshot(), fmt.Errorf("orchestrator: recording month %d-%02d: %w", year, month, err)
		}
		o.logger.Info("month backfill complete",
			zap.Int("year", year), zap.String("month", month.String()),
			zap.Int("discovered", stats.Discovered), zap.Int("enriched", stats.Enriched))

		total.discovered.Add(discovered.Discovered)
		total.duplicates.Add(discovered.Duplicates)
		total.enriched.Add(enriched.Enriched)
		total.rejected.Add(enriched.Rejected)
		total.errors.Add(discovered.Errors + enriched.Errors)

		cursor = cursor.AddDate(0, 1, 0)
	}
	return total.snapshot(), nil
}
