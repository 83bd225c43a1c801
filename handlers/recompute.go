package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/sym"
)

// Recompute recalculates the composite index for one date from whatever
// source records are already persisted.
type Recompute struct {
	calc Calculator
	log  *zap.SugaredLogger
}

// NewRecompute creates the recompute handler.
func NewRecompute(calc Calculator, log *zap.SugaredLogger) *Recompute {
	return &Recompute{
		calc: calc,
		log:  log.Named("recompute"),
	}
}

// Type implements queue.JobHandler.
func (h *Recompute) Type() queue.JobType {
	return queue.TypeRecompute
}

// Execute implements queue.JobHandler.
func (h *Recompute) Execute(ctx context.Context, job queue.Snapshot, reporter *queue.Reporter) (*queue.Result, error) {
	if err := reporter.Interrupted(); err != nil {
		return nil, err
	}

	idx, err := h.calc.Calculate(ctx, job.Params.Date)
	if err != nil {
		return nil, err
	}

	reporter.Update(1, 1)
	h.log.Infow("Index recomputed",
		"symbol", sym.Gauge,
		"date", idx.Date,
		"value", idx.Value,
		"level", string(idx.Level),
		"confidence", idx.Confidence,
	)

	return &queue.Result{
		Processed: 1,
		Summary:   fmt.Sprintf("index for %s: %.1f (%s, confidence %.0f%%)", idx.Date, idx.Value, idx.Level, idx.Confidence),
	}, nil
}
