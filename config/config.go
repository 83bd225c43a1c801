// Package config loads and validates the Sentivane configuration.
//
// Configuration is read from sentivane.toml (project directory or
// ~/.sentivane/), overridable through SENTIVANE_* environment variables.
// The config object is constructed once at process startup and passed
// explicitly into the queue, source clients and aggregation engine; nothing
// reads it through package-level globals.
package config

import "time"

// Config is the root Sentivane configuration.
type Config struct {
	Database   DatabaseConfig          `mapstructure:"database"`
	Queue      QueueConfig             `mapstructure:"queue"`
	Sources    map[string]SourceConfig `mapstructure:"sources"`
	Index      IndexConfig             `mapstructure:"index"`
	Collection CollectionConfig        `mapstructure:"collection"`
}

// CollectionConfig configures what the collection job handlers fetch.
type CollectionConfig struct {
	// Universe lists the entity IDs the financial batch job fetches
	// per-entity data for. Daily collection fetches market-wide data and
	// ignores it.
	Universe []string `mapstructure:"universe"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig configures the batch job queue and its worker pool.
type QueueConfig struct {
	Workers             int     `mapstructure:"workers"`               // Number of concurrent job workers (default: 2)
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"` // How often workers check for new jobs (default: 1)
	GlobalConcurrency   int     `mapstructure:"global_concurrency"`    // Max jobs running at once across all sources (default: 4)
	PerSourceCap        int     `mapstructure:"per_source_cap"`        // Max running jobs touching one source (default: 1)
	MaxAttempts         int     `mapstructure:"max_attempts"`          // Job attempts before dead (default: 3)
	BackoffBaseSeconds  float64 `mapstructure:"backoff_base_seconds"`  // Base retry delay, doubled per attempt (default: 5)
	BackoffCapSeconds   float64 `mapstructure:"backoff_cap_seconds"`   // Upper bound on retry delay (default: 300)
}

// PollInterval returns the worker poll interval as a duration.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSeconds) * time.Second
}

// SourceConfig configures one rate-limited external source.
type SourceConfig struct {
	URL              string  `mapstructure:"url"`                // Endpoint template; {date} and {entity} are substituted
	APIKeyEnv        string  `mapstructure:"api_key_env"`        // Environment variable holding the bearer token, if any
	BucketCapacity   int     `mapstructure:"bucket_capacity"`    // Token bucket burst capacity
	RefillPerSecond  float64 `mapstructure:"refill_per_second"`  // Continuous refill rate
	DailyQuota       int     `mapstructure:"daily_quota"`        // Rolling 24h call quota, 0 = unlimited
	Blocking         bool    `mapstructure:"blocking"`           // Wait for a token instead of rejecting
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`    // Per-call timeout (default: 20)
	MaxAttempts      int     `mapstructure:"max_attempts"`       // Fetch retries on transient failures (default: 3)
	BackoffBaseMS    int     `mapstructure:"backoff_base_ms"`    // Base retry delay in ms (default: 250)
	BackoffCapMS     int     `mapstructure:"backoff_cap_ms"`     // Retry delay ceiling in ms (default: 10000)
	BreakerWindow    int     `mapstructure:"breaker_window"`     // Rolling outcome window size (default: 20)
	BreakerThreshold float64 `mapstructure:"breaker_threshold"`  // Failure ratio that opens the circuit (default: 0.5)
	BreakerMinCalls  int     `mapstructure:"breaker_min_calls"`  // Minimum outcomes before the ratio applies (default: 5)
	BreakerCooldownS int     `mapstructure:"breaker_cooldown_s"` // Open-state cool-down before the probe (default: 30)
}

// Timeout returns the per-call timeout as a duration.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// IndexConfig configures the aggregation engine.
//
// Weights are a named map summing to 100 (±0.01, enforced at load). The
// component set is fixed; the weight values are configuration because the
// intended split is an operator decision, not a code constant.
type IndexConfig struct {
	Weights         map[string]float64 `mapstructure:"weights"`
	NeutralMidpoint float64            `mapstructure:"neutral_midpoint"` // Substituted for unavailable components (default: 50)
}
