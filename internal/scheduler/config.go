package scheduler

import (
	"time"

	"github.com/luisterslim/billing/internal/config"
)

// Config controls job schedules and batch sizes.
type Config struct {
	Enabled          bool
	ReconcileSpec    string
	WebhookRetrySpec string
	BatchSize        int
	JobTimeout       time.Duration
	// EnabledJobs limits the jobs RunOnce runs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ReconcileSpec:    "@every 15m",
		WebhookRetrySpec: "@every 5m",
		BatchSize:        50,
		JobTimeout:       2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.Enabled = cfg.ReconcileEnabled
	if cfg.ReconcileCron != "" {
		c.ReconcileSpec = cfg.ReconcileCron
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconcileSpec == "" {
		c.ReconcileSpec = defaults.ReconcileSpec
	}
	if c.WebhookRetrySpec == "" {
		c.WebhookRetrySpec = defaults.WebhookRetrySpec
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
