// Package source implements the rate-limited client wrapped around each
// external data source.
//
// A Client owns the request-rate state for one source: a token bucket, a
// rolling daily quota and a circuit breaker, plus a typed retry policy for
// transient failures. Source-specific transport and payload parsing live
// behind the Fetcher interface; the client only classifies outcomes and, on
// success, persists the fetched record.
package source

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/store"
	"github.com/sentivane/sentivane/sym"
)

// Request identifies one logical fetch: a calendar date and the entity the
// datum describes.
type Request struct {
	Date     string // YYYY-MM-DD
	EntityID string
}

// Fetcher performs the source-specific call and typed parse-and-validate.
// Implementations return the normalized payload on success, or an error
// tagged with Transient/Auth/Malformed/Fatal. Untagged errors are classified
// by KindOf.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (json.RawMessage, error)
}

// RecordWriter persists fetched records. Satisfied by *store.Store.
type RecordWriter interface {
	SaveSourceRecord(rec *store.SourceRecord) error
}

// Client performs rate-limited, retried fetches against one external source.
type Client struct {
	name    string
	cfg     config.SourceConfig
	fetcher Fetcher
	writer  RecordWriter
	budget  *Budget
	breaker *Breaker
	log     *zap.SugaredLogger
	timeNow func() time.Time
}

// NewClient creates a client for the named source.
func NewClient(name string, cfg config.SourceConfig, fetcher Fetcher, writer RecordWriter, log *zap.SugaredLogger) *Client {
	return &Client{
		name:    name,
		cfg:     cfg,
		fetcher: fetcher,
		writer:  writer,
		budget:  NewBudget(cfg.BucketCapacity, cfg.RefillPerSecond, cfg.DailyQuota),
		breaker: NewBreaker(cfg.BreakerWindow, cfg.BreakerThreshold, cfg.BreakerMinCalls, time.Duration(cfg.BreakerCooldownS)*time.Second),
		log:     log.Named("source." + name),
		timeNow: time.Now,
	}
}

// Name returns the source name this client serves.
func (c *Client) Name() string {
	return c.name
}

// BreakerState exposes the circuit position for status output.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// QuotaStats exposes the daily quota usage for status output.
func (c *Client) QuotaStats() (used int, remaining int) {
	return c.budget.QuotaStats()
}

// Fetch performs one logical fetch, honoring the token bucket, daily quota
// and circuit breaker, retrying transient failures with exponential backoff
// and jitter. On success the record is persisted and returned; on exhausted
// retries an ErrSourceUnavailable wrapping the last failure is returned and
// nothing is written.
func (c *Client) Fetch(ctx context.Context, req Request) (*store.SourceRecord, error) {
	if err := c.budget.Acquire(ctx, c.cfg.Blocking); err != nil {
		return nil, err
	}

	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.log.Debugw("Retrying fetch",
				"symbol", sym.Fetch,
				"date", req.Date,
				"entity", req.EntityID,
				"attempt", attempt,
				"backoff", delay,
			)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "fetch cancelled during backoff")
			case <-time.After(delay):
			}
		}

		payload, err := c.attempt(ctx, req)
		if err == nil {
			c.breaker.RecordSuccess()

			rec := &store.SourceRecord{
				Source:    c.name,
				Date:      req.Date,
				EntityID:  req.EntityID,
				Payload:   payload,
				FetchedAt: c.timeNow().UTC(),
			}
			if err := c.writer.SaveSourceRecord(rec); err != nil {
				return nil, err
			}
			return rec, nil
		}

		lastErr = err
		c.breaker.RecordFailure()

		kind := KindOf(err)
		switch kind {
		case KindTransient:
			// The failure just recorded may have opened the circuit (or
			// re-opened it after a failed half-open probe); stop the retry
			// loop instead of hammering an upstream the breaker is shielding.
			if berr := c.breaker.Allow(); berr != nil {
				return nil, berr
			}
			continue
		default:
			// Auth, malformed and fatal failures are not retried.
			c.log.Warnw("Fetch failed without retry",
				"symbol", sym.Fetch,
				"date", req.Date,
				"entity", req.EntityID,
				"error_kind", string(kind),
				"error", err,
			)
			return nil, err
		}
	}

	err := errors.Wrap(errors.ErrSourceUnavailable, lastErr.Error())
	return nil, errors.Wrapf(err, "%s: retries exhausted after %d attempts", c.name, c.cfg.MaxAttempts)
}

// attempt performs a single upstream call under the configured timeout.
// A timeout expiry surfaces as a transient error via KindOf.
func (c *Client) attempt(ctx context.Context, req Request) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	return c.fetcher.Fetch(callCtx, req)
}

// backoffDelay computes base × 2^(attempt-1) capped at the configured
// ceiling, with full jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := float64(c.cfg.BackoffBaseMS)
	capMS := float64(c.cfg.BackoffCapMS)

	delay := base * math.Pow(2, float64(attempt-1))
	if delay > capMS {
		delay = capMS
	}

	jittered := rand.Float64() * delay
	return time.Duration(jittered * float64(time.Millisecond))
}
