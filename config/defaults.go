package config

import "github.com/spf13/viper"

// Component names for the composite index. The set is fixed; only the weight
// split is configurable.
const (
	ComponentMomentum   = "price_momentum"
	ComponentSentiment  = "investor_sentiment"
	ComponentOptionSkew = "option_skew"
	ComponentVolatility = "volatility"
	ComponentSafeHaven  = "safe_haven_demand"
)

// ComponentNames returns the fixed component set in canonical order.
func ComponentNames() []string {
	return []string{
		ComponentMomentum,
		ComponentSentiment,
		ComponentOptionSkew,
		ComponentVolatility,
		ComponentSafeHaven,
	}
}

// DefaultWeights returns the default weight split. Values sum to 100.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		ComponentMomentum:   25,
		ComponentSentiment:  25,
		ComponentOptionSkew: 20,
		ComponentVolatility: 15,
		ComponentSafeHaven:  15,
	}
}

// SetDefaults installs default values into the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "sentivane.db")

	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.poll_interval_seconds", 1)
	v.SetDefault("queue.global_concurrency", 4)
	v.SetDefault("queue.per_source_cap", 1)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_seconds", 5.0)
	v.SetDefault("queue.backoff_cap_seconds", 300.0)

	v.SetDefault("collection.universe", []string{"SPX", "NDX", "DJI", "RUT", "VIX"})

	v.SetDefault("index.neutral_midpoint", 50.0)
	for name, weight := range DefaultWeights() {
		v.SetDefault("index.weights."+name, weight)
	}
}

// applySourceDefaults fills zero-valued source fields after unmarshal.
// Viper defaults cannot cover map entries whose keys are unknown up front.
func applySourceDefaults(s *SourceConfig) {
	if s.BucketCapacity <= 0 {
		s.BucketCapacity = 5
	}
	if s.RefillPerSecond <= 0 {
		s.RefillPerSecond = 1
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 20
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.BackoffBaseMS <= 0 {
		s.BackoffBaseMS = 250
	}
	if s.BackoffCapMS <= 0 {
		s.BackoffCapMS = 10000
	}
	if s.BreakerWindow <= 0 {
		s.BreakerWindow = 20
	}
	if s.BreakerThreshold <= 0 {
		s.BreakerThreshold = 0.5
	}
	if s.BreakerMinCalls <= 0 {
		s.BreakerMinCalls = 5
	}
	if s.BreakerCooldownS <= 0 {
		s.BreakerCooldownS = 30
	}
}
