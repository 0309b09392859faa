// Package config loads pgxdash configuration from defaults, an optional YAML
// file, and PGXDASH_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Consumer     ConsumerConfig     `koanf:"consumer"`
	Analysis     AnalysisConfig     `koanf:"analysis"`
	API          APIConfig          `koanf:"api"`
	Breaker      BreakerConfig      `koanf:"breaker"`
	Cache        CacheConfig        `koanf:"cache"`
	Store        StoreConfig        `koanf:"store"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// OrchestratorConfig bounds the gene worker pool.
type OrchestratorConfig struct {
	// MaxConcurrency caps the default pool size.
	MaxConcurrency int `koanf:"max_concurrency"`
	// ParallelismMultiplier is applied to runtime.NumCPU() for the default pool size.
	ParallelismMultiplier int `koanf:"parallelism_multiplier"`
	// GeneTimeout bounds a single gene analysis.
	GeneTimeout time.Duration `koanf:"gene_timeout"`
}

// ConsumerConfig controls how progress events are polled and rendered.
type ConsumerConfig struct {
	PollInterval      time.Duration `koanf:"poll_interval"`
	BatchSize         int           `koanf:"batch_size"`
	MinRenderInterval time.Duration `koanf:"min_render_interval"`
}

// AnalysisConfig limits how much data each gene analysis collects.
type AnalysisConfig struct {
	MaxVariantsPerGene int `koanf:"max_variants_per_gene"`
	MaxClinVarLookups  int `koanf:"max_clinvar_lookups"`
	MaxPublications    int `koanf:"max_publications"`
}

// SourceConfig describes one upstream API.
type SourceConfig struct {
	BaseURL   string  `koanf:"base_url"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// APIConfig holds upstream API settings.
type APIConfig struct {
	Email        string        `koanf:"email"`
	NCBIAPIKey   string        `koanf:"ncbi_api_key"`
	UserAgent    string        `koanf:"user_agent"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	UniProt      SourceConfig  `koanf:"uniprot"`
	Proteins     SourceConfig  `koanf:"proteins"`
	NCBI         SourceConfig  `koanf:"ncbi"`
	PharmGKB     SourceConfig  `koanf:"pharmgkb"`
	EuropePMC    SourceConfig  `koanf:"europepmc"`
}

// BreakerConfig configures the per-source circuit breakers.
type BreakerConfig struct {
	MaxRequests         uint32        `koanf:"max_requests"`
	Interval            time.Duration `koanf:"interval"`
	Timeout             time.Duration `koanf:"timeout"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures"`
}

// CacheConfig configures the API response cache.
type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	TTL     time.Duration `koanf:"ttl"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen          string        `koanf:"listen"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
	File   string `koanf:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrency:        8,
			ParallelismMultiplier: 2,
			GeneTimeout:           2 * time.Minute,
		},
		Consumer: ConsumerConfig{
			PollInterval:      75 * time.Millisecond,
			BatchSize:         10,
			MinRenderInterval: 100 * time.Millisecond,
		},
		Analysis: AnalysisConfig{
			MaxVariantsPerGene: 50,
			MaxClinVarLookups:  10,
			MaxPublications:    5,
		},
		API: APIConfig{
			UserAgent:    "pgxdash/1.0",
			Timeout:      30 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 2 * time.Second,
			UniProt:      SourceConfig{BaseURL: "https://rest.uniprot.org/uniprotkb", RateLimit: 3, Burst: 1},
			Proteins:     SourceConfig{BaseURL: "https://www.ebi.ac.uk/proteins/api", RateLimit: 10, Burst: 2},
			NCBI:         SourceConfig{BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils", RateLimit: 3, Burst: 1},
			PharmGKB:     SourceConfig{BaseURL: "https://api.pharmgkb.org/v1/data", RateLimit: 1.5, Burst: 1},
			EuropePMC:    SourceConfig{BaseURL: "https://www.ebi.ac.uk/europepmc/webservices/rest", RateLimit: 10, Burst: 2},
		},
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Path: ".pgxdash/pgxdash.db",
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:7468",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestrator.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_concurrency must be >= 1, got %d", c.Orchestrator.MaxConcurrency))
	}
	if c.Orchestrator.ParallelismMultiplier < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.parallelism_multiplier must be >= 1, got %d", c.Orchestrator.ParallelismMultiplier))
	}
	if c.Orchestrator.GeneTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator.gene_timeout must be positive"))
	}
	if c.Consumer.PollInterval <= 0 {
		errs = append(errs, errors.New("consumer.poll_interval must be positive"))
	}
	if c.Consumer.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("consumer.batch_size must be >= 1, got %d", c.Consumer.BatchSize))
	}
	if c.Consumer.MinRenderInterval < 0 {
		errs = append(errs, errors.New("consumer.min_render_interval must not be negative"))
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, errors.New("api.max_retries must not be negative"))
	}
	for name, src := range c.API.Sources() {
		if src.BaseURL == "" {
			errs = append(errs, fmt.Errorf("api.%s.base_url is required", name))
		}
		if src.RateLimit <= 0 {
			errs = append(errs, fmt.Errorf("api.%s.rate_limit must be positive", name))
		}
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	return errors.Join(errs...)
}

// Sources returns the upstream APIs keyed by name.
func (a APIConfig) Sources() map[string]SourceConfig {
	return map[string]SourceConfig{
		"uniprot":   a.UniProt,
		"proteins":  a.Proteins,
		"ncbi":      a.NCBI,
		"pharmgkb":  a.PharmGKB,
		"europepmc": a.EuropePMC,
	}
}
