package index

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/internal/util"
	"github.com/sentivane/sentivane/store"
	"github.com/sentivane/sentivane/sym"
)

// RecordReader supplies the source records a computation consumes.
// Satisfied by *store.Store.
type RecordReader interface {
	GetSourceRecords(source string, date string) ([]*store.SourceRecord, error)
}

// HistoryStore persists computed records. Satisfied by *Store.
type HistoryStore interface {
	SaveIndex(idx *CompositeIndex) error
	GetIndex(date string) (*CompositeIndex, error)
	GetLatestIndex() (*CompositeIndex, error)
	GetIndexHistory(n int) ([]*CompositeIndex, error)
}

// Engine computes the composite index for calendar dates.
//
// Unavailable components are substituted with the configured neutral midpoint
// rather than renormalizing the remaining weights. This mirrors the observed
// behavior of the system this replaces and is kept deliberately; see
// DESIGN.md for the trade-off.
type Engine struct {
	records RecordReader
	history HistoryStore
	scorers []Scorer
	log     *zap.SugaredLogger
	timeNow func() time.Time

	mu       sync.Mutex
	weights  map[string]float64
	midpoint float64

	locksMu   sync.Mutex
	dateLocks map[string]*sync.Mutex
}

// NewEngine creates an engine using the fixed default scorer set. The weight
// configuration must already be validated (config.Load does this).
func NewEngine(records RecordReader, history HistoryStore, cfg config.IndexConfig, log *zap.SugaredLogger) *Engine {
	weights := make(map[string]float64, len(cfg.Weights))
	for name, w := range cfg.Weights {
		weights[name] = w
	}

	return &Engine{
		records:   records,
		history:   history,
		scorers:   DefaultScorers(),
		log:       log.Named("index"),
		timeNow:   time.Now,
		weights:   weights,
		midpoint:  cfg.NeutralMidpoint,
		dateLocks: make(map[string]*sync.Mutex),
	}
}

// SetWeights swaps the weight set, validating it first. Used by config hot
// reload; computations already in flight keep the snapshot they started with.
func (e *Engine) SetWeights(weights map[string]float64) error {
	if err := config.ValidateWeights(weights); err != nil {
		return err
	}

	copied := make(map[string]float64, len(weights))
	for name, w := range weights {
		copied[name] = w
	}

	e.mu.Lock()
	e.weights = copied
	e.mu.Unlock()

	e.log.Infow("Weight set updated", "symbol", sym.Gauge, "weights", copied)
	return nil
}

// Calculate computes and upserts the composite index for one date.
//
// Each component scorer runs against the records available for the date;
// components whose records are missing score as the neutral midpoint with
// confidence reduced accordingly. Zero scorable components still produces a
// record (pure midpoint, confidence 0) rather than an error.
//
// Computations for the same date are serialized: two concurrent Calculate
// calls never interleave their read-then-write against the history store.
func (e *Engine) Calculate(ctx context.Context, date string) (*CompositeIndex, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, errors.NewValidationError("invalid date %q, expected YYYY-MM-DD", date)
	}

	lock := e.lockFor(date)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "calculation cancelled")
	}

	weights, midpoint := e.snapshot()

	components := make(map[string]ComponentScore, len(e.scorers))
	available := 0
	weighted := 0.0

	for _, scorer := range e.scorers {
		records, err := e.records.GetSourceRecords(scorer.Source(), date)
		if err != nil {
			return nil, err
		}

		score, ok := scorer.Score(records)
		if !ok {
			score = midpoint
		} else {
			available++
		}

		components[scorer.Name()] = ComponentScore{Score: score, Available: ok}
		weighted += score * weights[scorer.Name()]
	}

	idx := &CompositeIndex{
		Date:       date,
		Value:      util.Clamp(weighted/100, 0, 100),
		Confidence: float64(available) / float64(len(e.scorers)) * 100,
		Components: components,
		Weights:    weights,
		ComputedAt: e.timeNow().UTC(),
	}
	idx.Level = LevelFor(idx.Value)

	if err := e.history.SaveIndex(idx); err != nil {
		return nil, err
	}

	e.log.Infow("Index computed",
		"symbol", sym.Gauge,
		"date", date,
		"value", idx.Value,
		"level", string(idx.Level),
		"confidence", idx.Confidence,
	)

	return idx, nil
}

// RangeOutcome is the result of one date inside a range computation: either
// a record or the failure recorded for that date.
type RangeOutcome struct {
	Date  string
	Index *CompositeIndex
	Err   error
}

// CalculateRange computes every date in [start, end] inclusive. Dates are
// processed independently; one date's failure never blocks another's. The
// returned slice is ordered by date ascending, one outcome per date.
func (e *Engine) CalculateRange(ctx context.Context, start, end string) ([]RangeOutcome, error) {
	startDay, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, errors.NewValidationError("invalid start date %q", start)
	}
	endDay, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, errors.NewValidationError("invalid end date %q", end)
	}
	if endDay.Before(startDay) {
		return nil, errors.NewValidationError("range start %s after end %s", start, end)
	}

	var outcomes []RangeOutcome
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return outcomes, errors.Wrap(err, "range calculation cancelled")
		}

		date := day.Format("2006-01-02")
		idx, err := e.Calculate(ctx, date)
		if err != nil {
			e.log.Warnw("Date failed during range calculation",
				"symbol", sym.Gauge,
				"date", date,
				"error", err,
			)
		}
		outcomes = append(outcomes, RangeOutcome{Date: date, Index: idx, Err: err})
	}

	return outcomes, nil
}

// GetLatestIndex returns the most recent computed record, or nil if none.
func (e *Engine) GetLatestIndex() (*CompositeIndex, error) {
	return e.history.GetLatestIndex()
}

// GetIndexHistory returns up to n computed records, most recent first.
func (e *Engine) GetIndexHistory(n int) ([]*CompositeIndex, error) {
	return e.history.GetIndexHistory(n)
}

// snapshot returns the current weights (copied) and midpoint.
func (e *Engine) snapshot() (map[string]float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	weights := make(map[string]float64, len(e.weights))
	for name, w := range e.weights {
		weights[name] = w
	}
	return weights, e.midpoint
}

// lockFor returns the mutex serializing computations for one date.
func (e *Engine) lockFor(date string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.dateLocks[date]
	if !ok {
		lock = &sync.Mutex{}
		e.dateLocks[date] = lock
	}
	return lock
}
