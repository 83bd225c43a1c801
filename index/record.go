// Package index implements the composite aggregation engine: weighted
// multi-component scoring over whatever source records are available for a
// date, with graceful degradation and confidence estimation.
package index

import (
	"time"
)

// Level is one of five ordered mood buckets.
type Level string

const (
	LevelExtremeFear  Level = "extreme_fear"
	LevelFear         Level = "fear"
	LevelNeutral      Level = "neutral"
	LevelGreed        Level = "greed"
	LevelExtremeGreed Level = "extreme_greed"
)

// LevelFor buckets a composite value into its mood level using the fixed
// thresholds: ≤20 extreme-fear, ≤40 fear, ≤60 neutral, ≤80 greed, else
// extreme-greed.
func LevelFor(value float64) Level {
	switch {
	case value <= 20:
		return LevelExtremeFear
	case value <= 40:
		return LevelFear
	case value <= 60:
		return LevelNeutral
	case value <= 80:
		return LevelGreed
	default:
		return LevelExtremeGreed
	}
}

// ComponentScore is one component's contribution to a composite record.
// Available is false when the component's required records were missing; in
// that case Score holds the substituted neutral midpoint.
type ComponentScore struct {
	Score     float64 `json:"score"`
	Available bool    `json:"available"`
}

// CompositeIndex is the daily aggregated sentiment record: one row per
// calendar date.
type CompositeIndex struct {
	Date       string                    `json:"date"` // YYYY-MM-DD, unique key
	Value      float64                   `json:"value"`
	Level      Level                     `json:"level"`
	Confidence float64                   `json:"confidence"`
	Components map[string]ComponentScore `json:"components"`
	Weights    map[string]float64        `json:"weights"` // snapshot used for this computation
	ComputedAt time.Time                 `json:"computed_at"`
}

// Degraded reports whether the record's confidence falls below the given
// threshold. The engine never fails on low confidence; callers needing a
// stricter contract enforce their own minimum here.
func (c *CompositeIndex) Degraded(minConfidence float64) bool {
	return c.Confidence < minConfidence
}
