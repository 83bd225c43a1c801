package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		value float64
		want  Level
	}{
		{0, LevelExtremeFear},
		{20, LevelExtremeFear},
		{20.01, LevelFear},
		{40, LevelFear},
		{40.01, LevelNeutral},
		{50, LevelNeutral},
		{60, LevelNeutral},
		{60.01, LevelGreed},
		{80, LevelGreed},
		{80.01, LevelExtremeGreed},
		{100, LevelExtremeGreed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.value), "value %v", tt.value)
	}
}

func TestDegraded(t *testing.T) {
	idx := &CompositeIndex{Confidence: 60}
	assert.False(t, idx.Degraded(60))
	assert.True(t, idx.Degraded(61))
}
