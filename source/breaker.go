package source

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentivane/sentivane/errors"
)

// breakerState is the circuit position.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker fails fast once the failure ratio over a rolling window of call
// outcomes exceeds a threshold. After a cool-down it lets one probe call
// through (half-open); a successful probe closes the circuit, a failed probe
// re-opens it.
type Breaker struct {
	window    int
	threshold float64
	minCalls  int
	cooldown  time.Duration

	mu       sync.Mutex
	state    breakerState
	outcomes []bool // rolling window, true = failure
	openedAt time.Time
	probing  bool
	timeNow  func() time.Time // Injectable for testing
}

// NewBreaker creates a closed breaker. The ratio only applies once minCalls
// outcomes have accumulated, so a single early failure cannot open the
// circuit.
func NewBreaker(window int, threshold float64, minCalls int, cooldown time.Duration) *Breaker {
	return NewBreakerWithClock(window, threshold, minCalls, cooldown, time.Now)
}

// NewBreakerWithClock creates a breaker with an injectable clock (for testing).
func NewBreakerWithClock(window int, threshold float64, minCalls int, cooldown time.Duration, timeNow func() time.Time) *Breaker {
	return &Breaker{
		window:    window,
		threshold: threshold,
		minCalls:  minCalls,
		cooldown:  cooldown,
		state:     breakerClosed,
		outcomes:  make([]bool, 0, window),
		timeNow:   timeNow,
	}
}

// Allow reports whether a call may proceed. Open circuits reject with
// ErrCircuitOpen until the cool-down elapses, then admit exactly one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if b.timeNow().Sub(b.openedAt) < b.cooldown {
			err := errors.Wrap(errors.ErrCircuitOpen, "failing fast")
			err = errors.WithDetail(err, fmt.Sprintf("Cooldown remaining: %s", b.cooldown-b.timeNow().Sub(b.openedAt)))
			return err
		}
		// Cool-down elapsed: transition to half-open and admit the probe.
		b.state = breakerHalfOpen
		b.probing = true
		return nil
	case breakerHalfOpen:
		if b.probing {
			return errors.Wrap(errors.ErrCircuitOpen, "probe in flight")
		}
		b.probing = true
		return nil
	}

	return nil
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		// Probe succeeded: close and start a fresh window.
		b.state = breakerClosed
		b.probing = false
		b.outcomes = b.outcomes[:0]
		return
	}

	b.push(false)
}

// RecordFailure records a failed call outcome, opening the circuit when the
// rolling failure ratio crosses the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		// Probe failed: re-open and restart the cool-down.
		b.state = breakerOpen
		b.probing = false
		b.openedAt = b.timeNow()
		return
	}

	b.push(true)

	if len(b.outcomes) < b.minCalls {
		return
	}

	failures := 0
	for _, failed := range b.outcomes {
		if failed {
			failures++
		}
	}

	if float64(failures)/float64(len(b.outcomes)) >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.timeNow()
		b.outcomes = b.outcomes[:0]
	}
}

// State returns the current circuit position as a string for logs and status.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// push appends an outcome to the rolling window. Must be called with lock held.
func (b *Breaker) push(failed bool) {
	if len(b.outcomes) >= b.window {
		b.outcomes = b.outcomes[1:]
	}
	b.outcomes = append(b.outcomes, failed)
}
