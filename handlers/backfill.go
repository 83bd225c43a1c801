package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/source"
	"github.com/sentivane/sentivane/sym"
)

// Backfill collects and recomputes every date in a range, oldest first. Each
// (date, source) fetch is one unit of progress; the index for a date is
// computed as soon as that date's fetches finish, so a cancelled backfill
// leaves complete days behind it.
type Backfill struct {
	clients map[string]Collector
	calc    Calculator
	log     *zap.SugaredLogger
}

// NewBackfill creates the backfill handler.
func NewBackfill(clients map[string]Collector, calc Calculator, log *zap.SugaredLogger) *Backfill {
	return &Backfill{
		clients: clients,
		calc:    calc,
		log:     log.Named("backfill"),
	}
}

// Type implements queue.JobHandler.
func (h *Backfill) Type() queue.JobType {
	return queue.TypeBackfill
}

// Execute implements queue.JobHandler.
func (h *Backfill) Execute(ctx context.Context, job queue.Snapshot, reporter *queue.Reporter) (*queue.Result, error) {
	targets, err := selectClients(h.clients, job.Params.Sources)
	if err != nil {
		return nil, err
	}

	dates, err := datesBetween(job.Params.StartDate, job.Params.EndDate)
	if err != nil {
		return nil, err
	}

	total := len(dates) * len(targets)
	done := 0
	succeeded := 0
	failed := 0
	computed := 0
	allFailed := true
	var lastErr error

	for _, date := range dates {
		fetchedAny := false
		for _, client := range targets {
			if err := reporter.Interrupted(); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "backfill interrupted")
			}

			_, err := client.Fetch(ctx, source.Request{Date: date})
			if err != nil {
				failed++
				lastErr = err
				reporter.RecordError(string(source.KindOf(err)), err)
				h.log.Warnw("Backfill fetch failed",
					"symbol", sym.Fetch,
					"source", client.Name(),
					"date", date,
					"error", err,
				)
			} else {
				succeeded++
				fetchedAny = true
				allFailed = false
			}

			done++
			reporter.Update(done, total)
		}

		if !fetchedAny {
			// Nothing new for this date; leave any existing index alone
			continue
		}

		idx, err := h.calc.Calculate(ctx, date)
		if err != nil {
			reporter.RecordError(string(source.KindTransient), err)
			h.log.Warnw("Backfill recompute failed", "symbol", sym.Gauge, "date", date, "error", err)
			continue
		}
		computed++
		h.log.Debugw("Backfill date computed",
			"symbol", sym.Gauge,
			"date", date,
			"value", idx.Value,
			"level", string(idx.Level),
		)
	}

	if total > 0 && allFailed {
		return nil, errors.Wrapf(lastErr, "all %d backfill fetches failed", total)
	}

	return &queue.Result{
		Processed: succeeded,
		Failed:    failed,
		Summary:   fmt.Sprintf("backfill %s..%s: %d/%d fetches, %d dates computed", job.Params.StartDate, job.Params.EndDate, succeeded, total, computed),
	}, nil
}

// datesBetween expands an inclusive date range, ascending.
func datesBetween(start, end string) ([]string, error) {
	startDay, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, errors.NewValidationError("invalid start date %q", start)
	}
	endDay, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, errors.NewValidationError("invalid end date %q", end)
	}
	if endDay.Before(startDay) {
		return nil, errors.NewValidationError("backfill range start %s after end %s", start, end)
	}

	var dates []string
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format("2006-01-02"))
	}
	return dates, nil
}
