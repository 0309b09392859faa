package orchestrator

import (
	"runtime"
	"time"

	"github.com/fentz26/pgxdash/internal/config"
)

// Config defines the orchestrator's worker pool bounds.
type Config struct {
	// MaxConcurrency caps the default pool size.
	MaxConcurrency int
	// ParallelismMultiplier scales runtime.NumCPU() for the default pool size.
	ParallelismMultiplier int
	// GeneTimeout bounds a single gene analysis.
	GeneTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:        8,
		ParallelismMultiplier: 2,
		GeneTimeout:           2 * time.Minute,
	}
}

// ConfigFrom converts loaded settings.
func ConfigFrom(c config.OrchestratorConfig) *Config {
	return &Config{
		MaxConcurrency:        c.MaxConcurrency,
		ParallelismMultiplier: c.ParallelismMultiplier,
		GeneTimeout:           c.GeneTimeout,
	}
}

// DefaultConcurrency returns the pool size used when a run does not request one:
// the number of genes, capped by ParallelismMultiplier x CPUs clamped to [1, MaxConcurrency].
func (c *Config) DefaultConcurrency(genes int) int {
	return c.defaultConcurrency(genes, runtime.NumCPU())
}

func (c *Config) defaultConcurrency(genes, cpus int) int {
	limit := c.ParallelismMultiplier * cpus
	if limit > c.MaxConcurrency {
		limit = c.MaxConcurrency
	}
	if limit < 1 {
		limit = 1
	}
	if genes < limit {
		limit = genes
	}
	return limit
}
