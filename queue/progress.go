package queue

import (
	"time"
)

// Reporter is the handler's channel back to the queue: progress snapshots,
// item-level errors and the cooperative pause/cancel flags. One reporter is
// created per job execution and must not outlive it.
type Reporter struct {
	queue     *Queue
	jobID     string
	flags     *controlFlags
	timeNow   func() time.Time
	startedAt time.Time
}

func newReporter(q *Queue, jobID string, flags *controlFlags, timeNow func() time.Time) *Reporter {
	return &Reporter{
		queue:     q,
		jobID:     jobID,
		flags:     flags,
		timeNow:   timeNow,
		startedAt: timeNow(),
	}
}

// Update persists a progress snapshot. The processing rate is derived from
// elapsed time since the attempt started; callers report raw counts only.
// Persistence failures are swallowed: a progress write must never fail the
// work that produced it.
func (r *Reporter) Update(processed, total int) {
	rate := 0.0
	if elapsed := r.timeNow().Sub(r.startedAt).Seconds(); elapsed > 0 {
		rate = float64(processed) / elapsed
	}

	_ = r.queue.updateProgress(r.jobID, Progress{
		Processed: processed,
		Total:     total,
		Rate:      rate,
	})
}

// RecordError records a non-fatal item failure on the job's error list. The
// failure counts in the result summary, not against the job's attempts.
func (r *Reporter) RecordError(kind string, err error) {
	_ = r.queue.appendError(r.jobID, kind, err.Error())
}

// Cancelled reports whether an operator cancelled the job.
func (r *Reporter) Cancelled() bool {
	return r.flags.cancel.Load()
}

// Paused reports whether an operator paused the job.
func (r *Reporter) Paused() bool {
	return r.flags.pause.Load()
}

// Interrupted returns ErrJobCancelled or ErrJobPaused when the matching flag
// is set, nil otherwise. Handlers call this between work units and return
// the error unchanged so the worker preserves the control state.
func (r *Reporter) Interrupted() error {
	if r.flags.cancel.Load() {
		return ErrJobCancelled
	}
	if r.flags.pause.Load() {
		return ErrJobPaused
	}
	return nil
}
