package config

import (
	"math"

	"github.com/sentivane/sentivane/errors"
)

// WeightSumEpsilon is the tolerance for the weight-sum check. Weight sets
// summing to 99 or 101 are rejected.
const WeightSumEpsilon = 0.01

// Validate checks the configuration for invariant violations. It is called
// by every load path before the config is handed to callers.
func Validate(cfg *Config) error {
	if err := ValidateWeights(cfg.Index.Weights); err != nil {
		return err
	}

	if cfg.Index.NeutralMidpoint < 0 || cfg.Index.NeutralMidpoint > 100 {
		return errors.NewValidationError("neutral_midpoint %.2f outside [0,100]", cfg.Index.NeutralMidpoint)
	}

	if cfg.Queue.Workers < 1 {
		return errors.NewValidationError("queue.workers must be >= 1, got %d", cfg.Queue.Workers)
	}
	if cfg.Queue.MaxAttempts < 1 {
		return errors.NewValidationError("queue.max_attempts must be >= 1, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.GlobalConcurrency < 1 {
		return errors.NewValidationError("queue.global_concurrency must be >= 1, got %d", cfg.Queue.GlobalConcurrency)
	}

	for name, src := range cfg.Sources {
		if src.BreakerThreshold <= 0 || src.BreakerThreshold > 1 {
			return errors.NewValidationError("sources.%s.breaker_threshold %.2f outside (0,1]", name, src.BreakerThreshold)
		}
	}

	return nil
}

// ValidateWeights enforces the composite-index weight invariants: every fixed
// component has a weight, no extra components appear, every weight is
// non-negative, and the sum is 100 within WeightSumEpsilon.
func ValidateWeights(weights map[string]float64) error {
	for _, name := range ComponentNames() {
		if _, ok := weights[name]; !ok {
			return errors.NewValidationError("missing weight for component %s", name)
		}
	}

	sum := 0.0
	for name, w := range weights {
		known := false
		for _, c := range ComponentNames() {
			if name == c {
				known = true
				break
			}
		}
		if !known {
			return errors.NewValidationError("unknown component %s in weights", name)
		}
		if w < 0 {
			return errors.NewValidationError("negative weight %.2f for component %s", w, name)
		}
		sum += w
	}

	if math.Abs(sum-100) > WeightSumEpsilon {
		return errors.NewValidationError("weights sum to %.2f, expected 100 ± %.2f", sum, WeightSumEpsilon)
	}

	return nil
}
