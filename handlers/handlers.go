// Package handlers implements the job handlers executed by the queue worker
// pool: daily collection, financial batch collection, index recomputation and
// backfill. Handlers drive the source clients and the aggregation engine;
// they own no rate-limit or persistence state of their own.
package handlers

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/index"
	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/source"
	"github.com/sentivane/sentivane/store"
)

// Collector is the handler-facing slice of source.Client.
type Collector interface {
	Name() string
	Fetch(ctx context.Context, req source.Request) (*store.SourceRecord, error)
}

// Calculator is the handler-facing slice of index.Engine.
type Calculator interface {
	Calculate(ctx context.Context, date string) (*index.CompositeIndex, error)
}

// Register wires all four handlers into the registry.
func Register(registry *queue.HandlerRegistry, clients map[string]Collector, calc Calculator, cfg config.CollectionConfig, log *zap.SugaredLogger) {
	registry.Register(NewDailyCollection(clients, log))
	registry.Register(NewFinancialBatch(clients, cfg.Universe, log))
	registry.Register(NewRecompute(calc, log))
	registry.Register(NewBackfill(clients, calc, log))
}

// selectClients resolves a job's source filter against the configured
// clients. An empty filter selects every client. Unknown source names are a
// validation error so a typo fails loudly instead of silently collecting
// nothing. Results are ordered by name for deterministic progress.
func selectClients(clients map[string]Collector, filter []string) ([]Collector, error) {
	var selected []Collector
	if len(filter) == 0 {
		for _, c := range clients {
			selected = append(selected, c)
		}
	} else {
		for _, name := range filter {
			c, ok := clients[name]
			if !ok {
				return nil, errors.NewValidationError("unknown source %q", name)
			}
			selected = append(selected, c)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Name() < selected[j].Name()
	})
	return selected, nil
}
