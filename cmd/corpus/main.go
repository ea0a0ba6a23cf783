// Command corpus runs the incident corpus pipeline: discovery across the
// configured collectors, enrichment, deduplication, month backfills and
// exports of the canonical tier.
//
// Exit codes: 0 success, 1 runtime failure, 2 usage error, 130 interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/auscyberwatch/incident-pipeline/internal/collector"
	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/dedup"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/enrichment"
	"github.com/auscyberwatch/incident-pipeline/internal/export"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/config"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/database"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/newsevents"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/resilience"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/search"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/telemetry"
	"github.com/auscyberwatch/incident-pipeline/internal/metrics"
	"github.com/auscyberwatch/incident-pipeline/internal/service/orchestrator"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const usage = `Usage: corpus <command> [flags]

Commands:
  discover     collect raw events for a date window
  enrich       run the enrichment pipeline over the raw backlog
  dedupe       rebuild the deduplicated tier
  backfill     discover and enrich month by month
  fix-records  repair implausible record counts (dry run unless --apply)
  export       write the canonical events as xlsx or csv
  migrate      apply or roll back schema migrations
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return exitUsage
	}
	command, args := args[0], args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "corpus: %v\n", err)
		return exitError
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corpus: building logger: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitError
	}
	defer app.close(logger)

	err = app.dispatch(ctx, command, args)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp), errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		return exitUsage
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Warn("interrupted")
		return exitInterrupted
	default:
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		return exitError
	}
}

var errUsage = errors.New("usage error")

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// app holds the wired pipeline. LLM-backed pieces are nil when their
// credentials are absent; the collectors and phases that need them skip
// or fail with a clear error instead of panicking.
type app struct {
	cfg      *config.Config
	db       *database.DB
	news     *newsevents.Client
	otel     *telemetry.Provider
	registry *metrics.Registry

	orch       *orchestrator.Orchestrator
	backfiller *enrichment.Backfiller
	repair     *enrichment.RecordsRepair
	exporter   *export.Exporter
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, registry: metrics.NewRegistry()}

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewProvider(ctx, &telemetry.Config{
			ServiceName:    "incident-pipeline",
			ServiceVersion: cfg.Version,
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Enabled:        true,
			SamplingRate:   1.0,
			ExportTimeout:  30 * time.Second,
			BatchTimeout:   5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("starting telemetry: %w", err)
		}
		a.otel = provider
	}
	if cfg.Telemetry.MetricsPort > 0 {
		a.serveMetrics(cfg.Telemetry.MetricsPort, logger)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := db.Migrate(); err != nil {
		return nil, err
	}

	raw := repository.NewRawEventRepository(db)
	enriched := repository.NewEnrichedEventRepository(db)
	entities := repository.NewEntityRepository(db)
	dedupRepo := repository.NewDedupRepository(db)
	months := repository.NewMonthLedger(db)

	limiter := a.newLimiter(logger)
	slogger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	breakers := resilience.NewBreakerRegistry(
		cfg.Resilience.CircuitThreshold, cfg.Resilience.CircuitCooldown)
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Resilience.MaxRetries
	executor := resilience.NewExecutor(retryCfg, breakers, slogger)

	var reasoning llm.ReasoningLLM
	if cfg.Collectors.OpenAIAPIKey != "" {
		reasoning = llm.NewOpenAIClient(cfg.Collectors.OpenAIAPIKey,
			cfg.Enrichment.LLMModel, cfg.Enrichment.LLMTimeout, limiter, executor)
	}
	var grounded llm.SearchGroundedLLM
	if cfg.Collectors.PerplexityAPIKey != "" {
		grounded = llm.NewPerplexityClient(cfg.Collectors.PerplexityAPIKey,
			cfg.Enrichment.PerplexityModel, cfg.Enrichment.LLMTimeout, limiter, executor)
	}
	var webSearch search.WebSearch
	if cfg.Collectors.WebSearchAPIKey != "" && cfg.Collectors.WebSearchCX != "" {
		webSearch = search.NewCSEClient(cfg.Collectors.WebSearchAPIKey,
			cfg.Collectors.WebSearchCX, cfg.Collectors.HTTPTimeout, limiter, executor)
	}
	var newsStore newsevents.Store
	if cfg.Collectors.NewsEventsProject != "" {
		client, err := newsevents.NewClient(ctx,
			cfg.Collectors.NewsEventsProject, cfg.Collectors.NewsEventsCredentials)
		if err != nil {
			return nil, fmt.Errorf("connecting news events warehouse: %w", err)
		}
		a.news = client
		newsStore = client
	}

	fetcher := content.NewHTTPFetcher(cfg.Collectors.HTTPTimeout, 2)
	renderer := content.NewChromeRenderer(cfg.Collectors.HTTPTimeout)
	acquirer := content.NewAcquirer(fetcher, renderer, logger)
	filter := collector.NewProgressiveFilter()
	maxPerSource := cfg.Collectors.MaxEventsPerSource

	collectors := []collector.Collector{
		collector.NewNewsEventsCollector(newsStore, filter, maxPerSource, logger),
		collector.NewLLMSearchCollector(grounded, filter, maxPerSource, logger),
		collector.NewWebSearchCollector(webSearch, filter, maxPerSource, logger),
		collector.NewRegulatorScrapeCollector(cfg.Collectors.RegulatorListURL,
			fetcher, filter, maxPerSource, logger),
		collector.NewCuratedListScrapeCollector(cfg.Collectors.CuratedListURL,
			fetcher, grounded, filter, maxPerSource, logger),
	}

	var factChecker *enrichment.FactChecker
	if cfg.Enrichment.Strategy == enrichment.StrategyHighQuality && grounded != nil {
		factChecker = enrichment.NewFactChecker(grounded, logger)
	}
	pipeline := enrichment.NewPipeline(
		acquirer,
		filter,
		enrichment.NewExtractor(reasoning, cfg.Enrichment.LLMModel, cfg.Enrichment.ArticleCharCap, logger),
		factChecker,
		enrichment.NewValidator(enriched, logger),
		enrichment.Stores{
			Raw:      raw,
			Enriched: enriched,
			Entities: entities,
			Audit:    repository.NewAuditRepository(db),
			Log:      repository.NewProcessingLogRepository(db),
		},
		cfg.Enrichment.Strategy,
		logger)

	var arbiter *dedup.Arbiter
	if cfg.Dedup.ArbiterEnabled && (grounded != nil || reasoning != nil) {
		arbiter = dedup.NewArbiter(grounded, reasoning, logger)
	}
	engine := dedup.NewEngine(enriched, dedupRepo, entities,
		dedup.NewMatcher(arbiter, logger), logger)

	a.orch = orchestrator.New(collectors, raw, months, pipeline, engine,
		cfg.Enrichment.Workers, logger).WithMetrics(a.registry)
	if grounded != nil {
		a.backfiller = enrichment.NewBackfiller(grounded, enriched, logger)
	}
	a.repair = enrichment.NewRecordsRepair(enriched, logger)
	a.exporter = export.NewExporter(dedupRepo, logger)
	return a, nil
}

func (a *app) newLimiter(logger *zap.Logger) ratelimit.Limiter {
	if a.cfg.Redis.URL == "" {
		return ratelimit.NewMemoryLimiter(logger)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.URL,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	return ratelimit.NewRedisLimiter(client, logger)
}

func (a *app) serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.registry.Handler())
	go func() {
		addr := ":" + strconv.Itoa(port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}

func (a *app) close(logger *zap.Logger) {
	if a.news != nil {
		_ = a.news.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "discover":
		return a.cmdDiscover(ctx, args)
	case "enrich":
		return a.cmdEnrich(ctx, args)
	case "dedupe":
		return a.cmdDedupe(ctx)
	case "backfill":
		return a.cmdBackfill(ctx, args)
	case "fix-records":
		return a.cmdFixRecords(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "migrate":
		return a.cmdMigrate(args)
	case "help", "-h", "--help":
		return errUsage
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func (a *app) cmdDiscover(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	start := fs.String("start", "", "window start (YYYY-MM-DD)")
	end := fs.String("end", "", "window end (YYYY-MM-DD)")
	sources := fs.String("sources", "", "comma-separated collector names (empty = all)")
	maxEvents := fs.Int("max-events", 0, "cap stored events per collector (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	window, err := parseWindow(*start, *end)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var opts orchestrator.DiscoverOptions
	if *sources != "" {
		opts.Sources = strings.Split(*sources, ",")
	}
	counts, err := a.orch.Discover(ctx, window, *maxEvents, opts)
	if err != nil {
		return err
	}
	fmt.Printf("discovered %d events (%d duplicates, %d errors)\n",
		counts.Discovered, counts.Duplicates, counts.Errors)
	return nil
}

func (a *app) cmdEnrich(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum events to enrich (0 = batch size)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		*limit = a.cfg.Enrichment.BatchSize
	}

	counts, err := a.orch.Enrich(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("enriched %d events (%d rejected, %d errors)\n",
		counts.Enriched, counts.Rejected, counts.Errors)
	return nil
}

func (a *app) cmdDedupe(ctx context.Context) error {
	stats, err := a.orch.Dedupe(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deduplicated %d events into %d canonical records (%d merged groups)\n",
		stats.CandidateEvents, stats.Groups, stats.MergedGroups)
	return nil
}

func (a *app) cmdBackfill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	startMonth := fs.String("start-month", "", "first month (YYYY-MM)")
	endMonth := fs.String("end-month", "", "last month (YYYY-MM)")
	maxEvents := fs.Int("max-events", 0, "cap stored events per collector per month")
	priorityOnly := fs.Bool("priority-only", false, "run only the priority collectors")
	force := fs.Bool("force", false, "re-run months the ledger already marks processed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sy, sm, err := parseMonth(*startMonth)
	if err != nil {
		return fmt.Errorf("%w: start-month: %v", errUsage, err)
	}
	ey, em, err := parseMonth(*endMonth)
	if err != nil {
		return fmt.Errorf("%w: end-month: %v", errUsage, err)
	}

	counts, err := a.orch.MonthBackfill(ctx, sy, sm, ey, em, orchestrator.BackfillOptions{
		MaxEvents:    *maxEvents,
		PriorityOnly: *priorityOnly,
		Force:        *force,
	})
	if err != nil {
		return err
	}
	fmt.Printf("backfill stored %d events, enriched %d (%d rejected, %d errors)\n",
		counts.Discovered, counts.Enriched, counts.Rejected, counts.Errors)

	if a.backfiller != nil {
		stats, err := a.backfiller.Run(ctx, a.cfg.Enrichment.BatchSize)
		if err != nil {
			return err
		}
		fmt.Printf("validation pass confirmed %d of %d events\n", stats.Confirmed, stats.Examined)
	}
	return nil
}

func (a *app) cmdFixRecords(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fix-records", flag.ContinueOnError)
	apply := fs.Bool("apply", false, "apply repairs instead of reporting them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := a.repair.Run(ctx, *apply)
	if err != nil {
		return err
	}
	for _, line := range report.Details {
		fmt.Println(line)
	}
	verb := "would repair"
	if report.Applied {
		verb = "repaired"
	}
	fmt.Printf("%s %d of %d events with record counts\n", verb, report.Flagged, report.Examined)
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "xlsx", "output format: xlsx or csv")
	output := fs.String("output", "", "output file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		*output = "incidents." + *format
	}

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	defer f.Close()

	var n int
	switch strings.ToLower(*format) {
	case "xlsx":
		n, err = a.exporter.WriteXLSX(ctx, f)
	case "csv":
		n, err = a.exporter.WriteCSV(ctx, f)
	default:
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("exported %d events to %s\n", n, *output)
	return nil
}

func (a *app) cmdMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back n migrations instead of migrating up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// Up migrations already ran during startup.
	if *down > 0 {
		if err := a.db.MigrateDown(*down); err != nil {
			return err
		}
		fmt.Printf("rolled back %d migrations\n", *down)
		return nil
	}
	fmt.Println("schema is up to date")
	return nil
}

func parseWindow(start, end string) (incident.DateRange, error) {
	now := time.Now().UTC()
	s := now.AddDate(0, -1, 0)
	e := now
	var err error
	if start != "" {
		if s, err = time.Parse("2006-01-02", start); err != nil {
			return incident.DateRange{}, fmt.Errorf("start: %v", err)
		}
	}
	if end != "" {
		if e, err = time.Parse("2006-01-02", end); err != nil {
			return incident.DateRange{}, fmt.Errorf("end: %v", err)
		}
		// The end day is inclusive.
		e = e.AddDate(0, 0, 1)
	}
	return incident.NewDateRange(s, e)
}

func parseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Year(), t.Month(), nil
}
