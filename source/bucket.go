package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentivane/sentivane/errors"
)

// Budget owns the request-rate state for one source: a token bucket refilled
// continuously at a configured rate, plus a rolling daily quota enforced
// independently of the bucket. Mutated only by the owning client.
type Budget struct {
	limiter    *rate.Limiter
	dailyQuota int           // 0 = unlimited
	window     time.Duration // quota window, 24h

	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time // Injectable for testing
}

// NewBudget creates a budget with a bucket of the given capacity refilling at
// refillPerSecond, and an optional rolling daily quota (0 disables it).
func NewBudget(capacity int, refillPerSecond float64, dailyQuota int) *Budget {
	return NewBudgetWithClock(capacity, refillPerSecond, dailyQuota, time.Now)
}

// NewBudgetWithClock creates a budget with an injectable clock (for testing).
// The clock governs only the daily quota window; the token bucket keeps real
// time.
func NewBudgetWithClock(capacity int, refillPerSecond float64, dailyQuota int, timeNow func() time.Time) *Budget {
	return &Budget{
		limiter:    rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
		dailyQuota: dailyQuota,
		window:     24 * time.Hour,
		callTimes:  make([]time.Time, 0, 64),
		timeNow:    timeNow,
	}
}

// Acquire consumes one token. In blocking mode it waits for refill (bounded
// by ctx); otherwise a drained bucket rejects with ErrRateLimited. The daily
// quota is checked first and never waits — a quota breach is hours from
// clearing.
func (b *Budget) Acquire(ctx context.Context, blocking bool) error {
	if err := b.consumeQuota(); err != nil {
		return err
	}

	if blocking {
		if err := b.limiter.Wait(ctx); err != nil {
			b.refundQuota()
			return errors.Wrap(err, "interrupted waiting for rate limit token")
		}
		return nil
	}

	if !b.limiter.Allow() {
		b.refundQuota()
		err := errors.Wrap(errors.ErrRateLimited, "token bucket drained")
		err = errors.WithDetail(err, fmt.Sprintf("Bucket capacity: %d", b.limiter.Burst()))
		err = errors.WithDetail(err, fmt.Sprintf("Refill rate: %.2f/s", float64(b.limiter.Limit())))
		return err
	}

	return nil
}

// consumeQuota records one call against the rolling daily quota, rejecting
// with ErrRateLimited when the window is full.
func (b *Budget) consumeQuota() error {
	if b.dailyQuota <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.timeNow()
	b.removeExpiredCalls(now)

	if len(b.callTimes) >= b.dailyQuota {
		err := errors.Wrap(errors.ErrRateLimited, "daily quota exhausted")
		err = errors.WithDetail(err, fmt.Sprintf("Calls in window: %d", len(b.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Daily quota: %d", b.dailyQuota))
		return err
	}

	b.callTimes = append(b.callTimes, now)
	return nil
}

// refundQuota returns the most recently consumed quota slot after a token
// acquisition failed, so a call that never reached the upstream is not
// charged against the daily window.
func (b *Budget) refundQuota() {
	if b.dailyQuota <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.callTimes); n > 0 {
		b.callTimes = b.callTimes[:n-1]
	}
}

// removeExpiredCalls drops call timestamps outside the sliding window.
// Must be called with lock held.
func (b *Budget) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-b.window)

	expired := 0
	for _, callTime := range b.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	b.callTimes = b.callTimes[expired:]
}

// QuotaStats returns the calls consumed in the current window and the
// remaining daily quota. Remaining is -1 when the quota is unlimited.
func (b *Budget) QuotaStats() (used int, remaining int) {
	if b.dailyQuota <= 0 {
		return 0, -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeExpiredCalls(b.timeNow())
	used = len(b.callTimes)
	remaining = b.dailyQuota - used
	if remaining < 0 {
		remaining = 0
	}
	return used, remaining
}
