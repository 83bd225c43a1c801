package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/index"
	sentivanetest "github.com/sentivane/sentivane/internal/testing"
	"github.com/sentivane/sentivane/logger"
	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/source"
	"github.com/sentivane/sentivane/store"
)

// fakeCollector records every request and fails the dates listed in failOn.
type fakeCollector struct {
	name   string
	failOn map[string]error

	mu    sync.Mutex
	calls []source.Request
}

func (c *fakeCollector) Name() string { return c.name }

func (c *fakeCollector) Fetch(ctx context.Context, req source.Request) (*store.SourceRecord, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()

	if err, ok := c.failOn[req.Date]; ok {
		return nil, err
	}
	return &store.SourceRecord{
		Source:    c.name,
		Date:      req.Date,
		EntityID:  req.EntityID,
		Payload:   json.RawMessage(`{"value": 1}`),
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *fakeCollector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeCalculator records the dates it computed.
type fakeCalculator struct {
	mu    sync.Mutex
	dates []string
	err   error
}

func (c *fakeCalculator) Calculate(ctx context.Context, date string) (*index.CompositeIndex, error) {
	c.mu.Lock()
	c.dates = append(c.dates, date)
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	return &index.CompositeIndex{Date: date, Value: 64, Level: index.LevelGreed, Confidence: 60}, nil
}

func (c *fakeCalculator) computed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dates...)
}

// runJob drives one job through a real queue and worker pool and returns the
// terminal record.
func runJob(t *testing.T, clients map[string]Collector, calc Calculator, universe []string,
	jobType queue.JobType, params queue.Params, maxAttempts int) *queue.Job {
	t.Helper()

	q := queue.NewQueue(sentivanetest.CreateTestDB(t))
	registry := queue.NewHandlerRegistry()
	Register(registry, clients, calc, config.CollectionConfig{Universe: universe}, logger.NewTestLogger())

	pool := queue.NewWorkerPool(context.Background(), q, registry, config.QueueConfig{
		Workers:             1,
		PollIntervalSeconds: 1,
		GlobalConcurrency:   2,
		PerSourceCap:        2,
		MaxAttempts:         maxAttempts,
		BackoffBaseSeconds:  0.01,
		BackoffCapSeconds:   0.05,
	}, logger.NewTestLogger())

	id, err := q.Enqueue(jobType, params, queue.PriorityNormal, maxAttempts)
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	deadline := time.After(15 * time.Second)
	for {
		job, err := q.GetStatus(id)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}

		select {
		case <-deadline:
			t.Fatalf("Job stuck in %s", job.Status)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestDailyCollection_PartialFailure(t *testing.T) {
	date := "2024-01-15"
	broken := &fakeCollector{name: "options_flow", failOn: map[string]error{
		date: source.Transient(errors.New("connection reset")),
	}}
	clients := map[string]Collector{
		"market_prices":    &fakeCollector{name: "market_prices"},
		"options_flow":     broken,
		"sentiment_survey": &fakeCollector{name: "sentiment_survey"},
	}

	job := runJob(t, clients, &fakeCalculator{}, nil, queue.TypeDailyCollection, queue.Params{Date: date}, 1)

	// One source down is a partial failure, not a job failure
	require.Equal(t, queue.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 2, job.Result.Processed)
	assert.Equal(t, 1, job.Result.Failed)

	require.Len(t, job.ErrorLog, 1)
	assert.Equal(t, string(source.KindTransient), job.ErrorLog[0].Kind)

	assert.Equal(t, 3, job.Progress.Total)
	assert.Equal(t, 3, job.Progress.Processed)
}

func TestDailyCollection_AllFailedFailsAttempt(t *testing.T) {
	date := "2024-01-15"
	down := source.Transient(errors.New("upstream maintenance"))
	clients := map[string]Collector{
		"market_prices": &fakeCollector{name: "market_prices", failOn: map[string]error{date: down}},
		"options_flow":  &fakeCollector{name: "options_flow", failOn: map[string]error{date: down}},
	}

	job := runJob(t, clients, &fakeCalculator{}, nil, queue.TypeDailyCollection, queue.Params{Date: date}, 1)

	assert.Equal(t, queue.StatusDead, job.Status)
	assert.Nil(t, job.Result)
}

func TestDailyCollection_SourceFilter(t *testing.T) {
	prices := &fakeCollector{name: "market_prices"}
	options := &fakeCollector{name: "options_flow"}
	clients := map[string]Collector{"market_prices": prices, "options_flow": options}

	job := runJob(t, clients, &fakeCalculator{}, nil, queue.TypeDailyCollection,
		queue.Params{Date: "2024-01-15", Sources: []string{"market_prices"}}, 1)

	require.Equal(t, queue.StatusCompleted, job.Status)
	assert.Equal(t, 1, prices.callCount())
	assert.Equal(t, 0, options.callCount())
}

func TestDailyCollection_UnknownSourceFailsLoudly(t *testing.T) {
	clients := map[string]Collector{"market_prices": &fakeCollector{name: "market_prices"}}

	job := runJob(t, clients, &fakeCalculator{}, nil, queue.TypeDailyCollection,
		queue.Params{Date: "2024-01-15", Sources: []string{"market_pricez"}}, 1)

	assert.Equal(t, queue.StatusDead, job.Status)
	require.NotEmpty(t, job.ErrorLog)
	assert.Contains(t, job.ErrorLog[len(job.ErrorLog)-1].Message, "market_pricez")
}

func TestFinancialBatch_UniverseExpansion(t *testing.T) {
	prices := &fakeCollector{name: "market_prices"}
	options := &fakeCollector{name: "options_flow"}
	clients := map[string]Collector{"market_prices": prices, "options_flow": options}
	universe := []string{"SPX", "NDX", "VIX"}

	job := runJob(t, clients, &fakeCalculator{}, universe, queue.TypeFinancialBatch, queue.Params{Date: "2024-01-15"}, 1)

	require.Equal(t, queue.StatusCompleted, job.Status)
	assert.Equal(t, 6, job.Result.Processed)
	assert.Equal(t, 6, job.Progress.Total)

	for _, c := range []*fakeCollector{prices, options} {
		entities := map[string]bool{}
		for _, req := range c.calls {
			assert.Equal(t, "2024-01-15", req.Date)
			entities[req.EntityID] = true
		}
		for _, want := range universe {
			assert.True(t, entities[want], "%s missing entity %s", c.name, want)
		}
	}
}

func TestFinancialBatch_EmptyUniverseRejected(t *testing.T) {
	clients := map[string]Collector{"market_prices": &fakeCollector{name: "market_prices"}}

	job := runJob(t, clients, &fakeCalculator{}, nil, queue.TypeFinancialBatch, queue.Params{Date: "2024-01-15"}, 1)

	assert.Equal(t, queue.StatusDead, job.Status)
}

func TestRecompute(t *testing.T) {
	calc := &fakeCalculator{}

	job := runJob(t, map[string]Collector{}, calc, nil, queue.TypeRecompute, queue.Params{Date: "2024-01-15"}, 1)

	require.Equal(t, queue.StatusCompleted, job.Status)
	assert.Equal(t, []string{"2024-01-15"}, calc.computed())
	assert.Equal(t, 1, job.Result.Processed)
	assert.Contains(t, job.Result.Summary, "64.0")
	assert.Contains(t, job.Result.Summary, "greed")
}

func TestBackfill_ComputesEachDate(t *testing.T) {
	prices := &fakeCollector{name: "market_prices"}
	options := &fakeCollector{name: "options_flow"}
	clients := map[string]Collector{"market_prices": prices, "options_flow": options}
	calc := &fakeCalculator{}

	job := runJob(t, clients, calc, nil, queue.TypeBackfill,
		queue.Params{StartDate: "2024-01-01", EndDate: "2024-01-03"}, 1)

	require.Equal(t, queue.StatusCompleted, job.Status)
	assert.Equal(t, 6, job.Result.Processed) // 3 dates x 2 sources
	assert.Equal(t, 0, job.Result.Failed)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, calc.computed())
	assert.Equal(t, 6, job.Progress.Total)
}

// A date whose fetches all failed is skipped by the recompute step so stale
// data never overwrites an existing index.
func TestBackfill_SkipsFullyFailedDates(t *testing.T) {
	down := source.Transient(errors.New("gap in upstream history"))
	clients := map[string]Collector{
		"market_prices": &fakeCollector{name: "market_prices", failOn: map[string]error{"2024-01-02": down}},
		"options_flow":  &fakeCollector{name: "options_flow", failOn: map[string]error{"2024-01-02": down}},
	}
	calc := &fakeCalculator{}

	job := runJob(t, clients, calc, nil, queue.TypeBackfill,
		queue.Params{StartDate: "2024-01-01", EndDate: "2024-01-03"}, 1)

	require.Equal(t, queue.StatusCompleted, job.Status)
	assert.Equal(t, 4, job.Result.Processed)
	assert.Equal(t, 2, job.Result.Failed)
	assert.Equal(t, []string{"2024-01-01", "2024-01-03"}, calc.computed())
}

func TestSelectClients(t *testing.T) {
	clients := map[string]Collector{
		"volatility_index": &fakeCollector{name: "volatility_index"},
		"market_prices":    &fakeCollector{name: "market_prices"},
		"options_flow":     &fakeCollector{name: "options_flow"},
	}

	all, err := selectClients(clients, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Deterministic name order regardless of map iteration
	assert.Equal(t, "market_prices", all[0].Name())
	assert.Equal(t, "options_flow", all[1].Name())
	assert.Equal(t, "volatility_index", all[2].Name())

	some, err := selectClients(clients, []string{"options_flow"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "options_flow", some[0].Name())

	_, err = selectClients(clients, []string{"bogus"})
	assert.True(t, errors.IsValidationError(err))
}
