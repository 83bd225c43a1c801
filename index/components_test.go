package index

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentivane/sentivane/store"
)

func recs(payloads ...string) []*store.SourceRecord {
	out := make([]*store.SourceRecord, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, &store.SourceRecord{Payload: json.RawMessage(p)})
	}
	return out
}

func TestMomentumScorer(t *testing.T) {
	tests := []struct {
		name    string
		records []*store.SourceRecord
		want    float64
		ok      bool
	}{
		{"at average", recs(`{"close": 100, "sma_125": 100}`), 50, true},
		{"six percent above", recs(`{"close": 106, "sma_125": 100}`), 80, true},
		{"clamped high", recs(`{"close": 200, "sma_125": 100}`), 100, true},
		{"clamped low", recs(`{"close": 50, "sma_125": 100}`), 0, true},
		{"averaged", recs(`{"close": 106, "sma_125": 100}`, `{"close": 100, "sma_125": 100}`), 65, true},
		{"zero sma skipped", recs(`{"close": 100, "sma_125": 0}`), 0, false},
		{"garbage skipped", recs(`not json`, `{"close": 106, "sma_125": 100}`), 80, true},
		{"no records", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := momentumScorer{}.Score(tt.records)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestSentimentScorer(t *testing.T) {
	tests := []struct {
		name    string
		records []*store.SourceRecord
		want    float64
		ok      bool
	}{
		{"bullish share", recs(`{"bullish": 70, "bearish": 30, "neutral": 0}`), 70, true},
		{"neutral ignored in ratio", recs(`{"bullish": 30, "bearish": 30, "neutral": 40}`), 50, true},
		{"all bullish", recs(`{"bullish": 10, "bearish": 0}`), 100, true},
		{"zero responses skipped", recs(`{"bullish": 0, "bearish": 0, "neutral": 100}`), 0, false},
		{"no records", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sentimentScorer{}.Score(tt.records)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestOptionSkewScorer(t *testing.T) {
	tests := []struct {
		name    string
		records []*store.SourceRecord
		want    float64
		ok      bool
	}{
		{"balanced", recs(`{"put_volume": 100, "call_volume": 100}`), 50, true},
		{"heavy puts clamp to fear", recs(`{"put_volume": 300, "call_volume": 100}`), 0, true},
		{"no puts", recs(`{"put_volume": 0, "call_volume": 100}`), 100, true},
		{"zero call volume skipped", recs(`{"put_volume": 100, "call_volume": 0}`), 0, false},
		{"no records", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := optionSkewScorer{}.Score(tt.records)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestVolatilityScorer(t *testing.T) {
	tests := []struct {
		name    string
		records []*store.SourceRecord
		want    float64
		ok      bool
	}{
		{"mid band", recs(`{"value": 15, "band_low": 10, "band_high": 20}`), 50, true},
		{"low vol reads greedy", recs(`{"value": 14, "band_low": 10, "band_high": 20}`), 60, true},
		{"above band clamps", recs(`{"value": 30, "band_low": 10, "band_high": 20}`), 0, true},
		{"below band clamps", recs(`{"value": 5, "band_low": 10, "band_high": 20}`), 100, true},
		{"inverted band skipped", recs(`{"value": 15, "band_low": 20, "band_high": 10}`), 0, false},
		{"no records", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := volatilityScorer{}.Score(tt.records)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestSafeHavenScorer(t *testing.T) {
	tests := []struct {
		name    string
		records []*store.SourceRecord
		want    float64
		ok      bool
	}{
		{"no spread", recs(`{"stock_return": 1, "bond_return": 1}`), 50, true},
		{"stocks lead", recs(`{"stock_return": 3, "bond_return": 1}`), 60, true},
		{"bonds lead", recs(`{"stock_return": -2, "bond_return": 2}`), 30, true},
		{"clamped", recs(`{"stock_return": 50, "bond_return": -50}`), 100, true},
		{"no records", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := safeHavenScorer{}.Score(tt.records)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

// Each scorer's weight key must exist in the default weight set and scorers
// must not share sources.
func TestDefaultScorersWiring(t *testing.T) {
	seen := map[string]bool{}
	for _, scorer := range DefaultScorers() {
		assert.NotEmpty(t, scorer.Name())
		assert.False(t, seen[scorer.Source()], "duplicate source %s", scorer.Source())
		seen[scorer.Source()] = true
	}
}
