package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"soundd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultQueueCap        = 100
	defaultMaxRetries      = 2
	defaultGenerateTimeout = 2 * time.Minute
	defaultIdleUnloadTTL   = 5 * time.Minute
	defaultGraceTTL        = 10 * time.Minute
	defaultGraceMax        = 512
)

// Config encapsulates all tunables for Scheduler construction.
type Config struct {
	// Catalog of loadable models with their memory costs.
	Catalog []types.ModelSpec
	// Accelerator memory budget and reserved margin in MB. Budget 0 disables
	// residency accounting (everything fits).
	BudgetMB int
	MarginMB int

	// Global cap on pending jobs.
	QueueCap int
	// Retries after the first generation attempt, transient failures only.
	// Zero selects the default; negative disables retries.
	MaxRetries int
	// Wall-clock bound per generation attempt; overruns count as transient.
	GenerateTimeout time.Duration
	// Resident models unused this long are unloaded between jobs.
	IdleUnloadTTL time.Duration

	// Terminal records stay pollable this long before eviction.
	GraceTTL time.Duration
	GraceMax int

	Logger    zerolog.Logger
	Publisher EventPublisher
}

func (c *Config) withDefaults() {
	if c.QueueCap <= 0 {
		c.QueueCap = defaultQueueCap
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = defaultMaxRetries
	case c.MaxRetries < 0:
		// Negative means explicitly no retries.
		c.MaxRetries = 0
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = defaultGenerateTimeout
	}
	if c.IdleUnloadTTL == 0 {
		c.IdleUnloadTTL = defaultIdleUnloadTTL
	}
	if c.GraceTTL <= 0 {
		c.GraceTTL = defaultGraceTTL
	}
	if c.GraceMax <= 0 {
		c.GraceMax = defaultGraceMax
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
}
