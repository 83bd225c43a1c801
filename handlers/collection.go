package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/source"
	"github.com/sentivane/sentivane/sym"
)

// DailyCollection fetches the market-wide datum from each selected source
// for one date. Individual source failures are recorded and counted; the
// attempt only fails when every source failed.
type DailyCollection struct {
	clients map[string]Collector
	log     *zap.SugaredLogger
}

// NewDailyCollection creates the daily collection handler.
func NewDailyCollection(clients map[string]Collector, log *zap.SugaredLogger) *DailyCollection {
	return &DailyCollection{
		clients: clients,
		log:     log.Named("collect"),
	}
}

// Type implements queue.JobHandler.
func (h *DailyCollection) Type() queue.JobType {
	return queue.TypeDailyCollection
}

// Execute implements queue.JobHandler.
func (h *DailyCollection) Execute(ctx context.Context, job queue.Snapshot, reporter *queue.Reporter) (*queue.Result, error) {
	targets, err := selectClients(h.clients, job.Params.Sources)
	if err != nil {
		return nil, err
	}

	requests := make([]fetchUnit, 0, len(targets))
	for _, client := range targets {
		requests = append(requests, fetchUnit{client: client, req: source.Request{Date: job.Params.Date}})
	}

	result, err := collect(ctx, requests, reporter, h.log)
	if err != nil {
		return nil, err
	}
	result.Summary = fmt.Sprintf("daily collection for %s: %d/%d sources", job.Params.Date, result.Processed, len(requests))
	return result, nil
}

// FinancialBatch fetches per-entity data from each selected source for every
// entity in the configured universe.
type FinancialBatch struct {
	clients  map[string]Collector
	universe []string
	log      *zap.SugaredLogger
}

// NewFinancialBatch creates the financial batch handler.
func NewFinancialBatch(clients map[string]Collector, universe []string, log *zap.SugaredLogger) *FinancialBatch {
	return &FinancialBatch{
		clients:  clients,
		universe: universe,
		log:      log.Named("financial"),
	}
}

// Type implements queue.JobHandler.
func (h *FinancialBatch) Type() queue.JobType {
	return queue.TypeFinancialBatch
}

// Execute implements queue.JobHandler.
func (h *FinancialBatch) Execute(ctx context.Context, job queue.Snapshot, reporter *queue.Reporter) (*queue.Result, error) {
	if len(h.universe) == 0 {
		return nil, errors.NewValidationError("financial batch requires a non-empty collection universe")
	}

	targets, err := selectClients(h.clients, job.Params.Sources)
	if err != nil {
		return nil, err
	}

	requests := make([]fetchUnit, 0, len(targets)*len(h.universe))
	for _, entity := range h.universe {
		for _, client := range targets {
			requests = append(requests, fetchUnit{
				client: client,
				req:    source.Request{Date: job.Params.Date, EntityID: entity},
			})
		}
	}

	result, err := collect(ctx, requests, reporter, h.log)
	if err != nil {
		return nil, err
	}
	result.Summary = fmt.Sprintf("financial batch for %s: %d/%d fetches across %d entities",
		job.Params.Date, result.Processed, len(requests), len(h.universe))
	return result, nil
}

// fetchUnit is one item of collection work: a client and the request for it.
type fetchUnit struct {
	client Collector
	req    source.Request
}

// collect runs the fetch units in order, reporting progress after each and
// recording individual failures without failing the attempt. Every unit
// failing fails the attempt with the last error, so a dead upstream day gets
// retried rather than completed empty.
func collect(ctx context.Context, units []fetchUnit, reporter *queue.Reporter, log *zap.SugaredLogger) (*queue.Result, error) {
	total := len(units)
	succeeded := 0
	failed := 0
	var lastErr error

	for i, unit := range units {
		if err := reporter.Interrupted(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "collection interrupted")
		}

		_, err := unit.client.Fetch(ctx, unit.req)
		if err != nil {
			failed++
			lastErr = err
			reporter.RecordError(string(source.KindOf(err)), err)
			log.Warnw("Fetch failed",
				"symbol", sym.Fetch,
				"source", unit.client.Name(),
				"date", unit.req.Date,
				"entity", unit.req.EntityID,
				"error", err,
			)
		} else {
			succeeded++
		}

		reporter.Update(i+1, total)
	}

	if total > 0 && succeeded == 0 {
		return nil, errors.Wrapf(lastErr, "all %d fetches failed", total)
	}

	return &queue.Result{Processed: succeeded, Failed: failed}, nil
}
