package index

import (
	"encoding/json"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/internal/util"
	"github.com/sentivane/sentivane/store"
)

// Scorer maps the source records available for a date to a [0,100] score, or
// reports unavailable when its required records are missing. Scorers are
// pure: they never touch storage themselves.
type Scorer interface {
	// Name is the component name, matching a key in the weight set.
	Name() string
	// Source is the source whose records this scorer consumes.
	Source() string
	// Score returns the component score and whether it could be computed.
	Score(records []*store.SourceRecord) (float64, bool)
}

// DefaultScorers returns the fixed component set in canonical order.
func DefaultScorers() []Scorer {
	return []Scorer{
		momentumScorer{},
		sentimentScorer{},
		optionSkewScorer{},
		volatilityScorer{},
		safeHavenScorer{},
	}
}

// momentumScorer scores price momentum: how far the close sits above or
// below its 125-day moving average. ±10% from the average maps to the score
// extremes.
type momentumScorer struct{}

type momentumPayload struct {
	Close  float64 `json:"close"`
	SMA125 float64 `json:"sma_125"`
}

func (momentumScorer) Name() string   { return config.ComponentMomentum }
func (momentumScorer) Source() string { return "market_prices" }

func (momentumScorer) Score(records []*store.SourceRecord) (float64, bool) {
	sum, n := 0.0, 0
	for _, rec := range records {
		var p momentumPayload
		if json.Unmarshal(rec.Payload, &p) != nil || p.SMA125 <= 0 {
			continue
		}
		deviation := (p.Close - p.SMA125) / p.SMA125
		sum += util.Clamp(50+deviation*500, 0, 100)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// sentimentScorer scores investor sentiment from survey tallies: the bullish
// share of bullish+bearish responses.
type sentimentScorer struct{}

type sentimentPayload struct {
	Bullish int `json:"bullish"`
	Bearish int `json:"bearish"`
	Neutral int `json:"neutral"`
}

func (sentimentScorer) Name() string   { return config.ComponentSentiment }
func (sentimentScorer) Source() string { return "sentiment_survey" }

func (sentimentScorer) Score(records []*store.SourceRecord) (float64, bool) {
	sum, n := 0.0, 0
	for _, rec := range records {
		var p sentimentPayload
		if json.Unmarshal(rec.Payload, &p) != nil || p.Bullish+p.Bearish == 0 {
			continue
		}
		sum += float64(p.Bullish) / float64(p.Bullish+p.Bearish) * 100
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// optionSkewScorer scores the put/call volume ratio. A ratio of 1 is
// neutral; 2 puts per call reads as extreme fear, all-calls as extreme greed.
type optionSkewScorer struct{}

type optionSkewPayload struct {
	PutVolume  float64 `json:"put_volume"`
	CallVolume float64 `json:"call_volume"`
}

func (optionSkewScorer) Name() string   { return config.ComponentOptionSkew }
func (optionSkewScorer) Source() string { return "options_flow" }

func (optionSkewScorer) Score(records []*store.SourceRecord) (float64, bool) {
	sum, n := 0.0, 0
	for _, rec := range records {
		var p optionSkewPayload
		if json.Unmarshal(rec.Payload, &p) != nil || p.CallVolume <= 0 {
			continue
		}
		ratio := p.PutVolume / p.CallVolume
		sum += util.Clamp(100-ratio*50, 0, 100)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// volatilityScorer scores where current volatility sits inside its rolling
// band; elevated volatility reads as fear, so the position is inverted.
type volatilityScorer struct{}

type volatilityPayload struct {
	Value   float64 `json:"value"`
	BandLow float64 `json:"band_low"`
	BandHi  float64 `json:"band_high"`
}

func (volatilityScorer) Name() string   { return config.ComponentVolatility }
func (volatilityScorer) Source() string { return "volatility_index" }

func (volatilityScorer) Score(records []*store.SourceRecord) (float64, bool) {
	sum, n := 0.0, 0
	for _, rec := range records {
		var p volatilityPayload
		if json.Unmarshal(rec.Payload, &p) != nil || p.BandHi <= p.BandLow {
			continue
		}
		position := (p.Value - p.BandLow) / (p.BandHi - p.BandLow)
		sum += util.Clamp(100-position*100, 0, 100)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// safeHavenScorer scores safe-haven demand from the stock-vs-bond return
// spread; money flowing into bonds over stocks reads as fear. A ±10 point
// spread maps to the score extremes.
type safeHavenScorer struct{}

type safeHavenPayload struct {
	StockReturn float64 `json:"stock_return"`
	BondReturn  float64 `json:"bond_return"`
}

func (safeHavenScorer) Name() string   { return config.ComponentSafeHaven }
func (safeHavenScorer) Source() string { return "treasury_flows" }

func (safeHavenScorer) Score(records []*store.SourceRecord) (float64, bool) {
	sum, n := 0.0, 0
	for _, rec := range records {
		var p safeHavenPayload
		if json.Unmarshal(rec.Payload, &p) != nil {
			continue
		}
		spread := p.StockReturn - p.BondReturn
		sum += util.Clamp(50+spread*5, 0, 100)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
