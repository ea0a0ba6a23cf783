package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Collectors CollectorsConfig `koanf:"collectors"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type DatabaseConfig struct {
	// URL is a sqlite path or file: URL.
	URL         string        `koanf:"url" validate:"required"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

type RedisConfig struct {
	// URL enables the redis-backed rate limiter for multi-process runs.
	// Empty means the in-memory limiter is used.
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type CollectorsConfig struct {
	NewsEventsProject     string `koanf:"news_events_project"`
	NewsEventsCredentials string `koanf:"news_events_credentials"`
	WebSearchAPIKey       string `koanf:"web_search_api_key"`
	WebSearchCX           string `koanf:"web_search_cx"`
	OpenAIAPIKey          string `koanf:"openai_api_key"`
	PerplexityAPIKey      string `koanf:"perplexity_api_key"`

	RegulatorListURL   string        `koanf:"regulator_list_url"`
	CuratedListURL     string        `koanf:"curated_list_url"`
	MaxEventsPerSource int           `koanf:"max_events_per_source" validate:"gt=0"`
	HTTPTimeout        time.Duration `koanf:"http_timeout"`
}

type EnrichmentConfig struct {
	Strategy        string        `koanf:"strategy" validate:"oneof=high_quality fast"`
	BatchSize       int           `koanf:"batch_size" validate:"gt=0"`
	Workers         int           `koanf:"workers" validate:"gt=0"`
	LLMTimeout      time.Duration `koanf:"llm_timeout"`
	LLMModel        string        `koanf:"llm_model"`
	PerplexityModel string        `koanf:"perplexity_model"`
	ArticleCharCap  int           `koanf:"article_char_cap" validate:"gt=0"`
}

type DedupConfig struct {
	ArbiterEnabled   bool    `koanf:"arbiter_enabled"`
	ArbiterMinScore  float64 `koanf:"arbiter_min_score"`
	ArbiterMaxScore  float64 `koanf:"arbiter_max_score"`
	AlgorithmVersion string  `koanf:"algorithm_version"`
}

// ResilienceConfig tunes the shared retry and circuit-breaker layer for
// outbound calls.
type ResilienceConfig struct {
	MaxRetries       int           `koanf:"max_retries" validate:"gte=0"`
	CircuitThreshold int           `koanf:"circuit_threshold" validate:"gt=0"`
	CircuitCooldown  time.Duration `koanf:"circuit_cooldown" validate:"gt=0"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	MetricsPort  int    `koanf:"metrics_port"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			URL:         "incidents.db",
			BusyTimeout: 30 * time.Second,
		},
		Collectors: CollectorsConfig{
			RegulatorListURL:   "https://www.oaic.gov.au/news",
			CuratedListURL:     "https://www.webberinsurance.com.au/data-breaches-list",
			MaxEventsPerSource: 250,
			HTTPTimeout:        30 * time.Second,
		},
		Enrichment: EnrichmentConfig{
			Strategy:        "high_quality",
			BatchSize:       50,
			Workers:         3,
			LLMTimeout:      60 * time.Second,
			LLMModel:        "gpt-4o",
			PerplexityModel: "sonar-pro",
			ArticleCharCap:  8000,
		},
		Dedup: DedupConfig{
			ArbiterEnabled:   true,
			ArbiterMinScore:  0.50,
			ArbiterMaxScore:  0.85,
			AlgorithmVersion: "entity-anchored-v2",
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			CircuitThreshold: 5,
			CircuitCooldown:  5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			MetricsPort:  9091,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with ACIP_-prefixed environment variables.
	if err := k.Load(env.Provider("ACIP_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ACIP_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyWellKnownEnv(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyWellKnownEnv maps the documented un-prefixed variables onto the config.
// These win over file values so operators can configure credentials the way
// the upstream tools expect.
func applyWellKnownEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Collectors.OpenAIAPIKey = v
	}
	if v := os.Getenv("PERPLEXITY_API_KEY"); v != "" {
		cfg.Collectors.PerplexityAPIKey = v
	}
	if v := os.Getenv("NEWSEVENTS_PROJECT"); v != "" {
		cfg.Collectors.NewsEventsProject = v
	}
	if v := os.Getenv("NEWSEVENTS_CREDENTIALS"); v != "" {
		cfg.Collectors.NewsEventsCredentials = v
	}
	if v := os.Getenv("WEBSEARCH_API_KEY"); v != "" {
		cfg.Collectors.WebSearchAPIKey = v
	}
	if v := os.Getenv("WEBSEARCH_CX"); v != "" {
		cfg.Collectors.WebSearchCX = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Enrichment.BatchSize = n
		}
	}
	if v := os.Getenv("ENRICHMENT_STRATEGY"); v != "" {
		cfg.Enrichment.Strategy = v
	}
}
