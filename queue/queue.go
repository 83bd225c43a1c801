package queue

import (
	"database/sql"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentivane/sentivane/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// controlFlags carries the cooperative cancel/pause signals for one running
// job. Handlers poll these between item-level units of work.
type controlFlags struct {
	cancel atomic.Bool
	pause  atomic.Bool
}

// Queue owns the lifecycle of jobs. All job mutation goes through the queue;
// handlers report progress and results through a narrow callback, never by
// writing job fields.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
	running     map[string]*controlFlags // cooperative flags for running jobs
	sources     []string                 // configured source names, sorted
}

// NewQueue creates a job queue backed by the given database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
		running:     make(map[string]*controlFlags),
	}
}

// SetConfiguredSources records the full source set so that collection jobs
// enqueued without a filter are charged against every source when the worker
// pool accounts concurrency caps.
func (q *Queue) SetConfiguredSources(names []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.sources = sorted
}

// Enqueue validates the parameters for the job type and adds a pending job.
// Returns the job ID.
func (q *Queue) Enqueue(jobType JobType, params Params, priority Priority, maxAttempts int) (string, error) {
	job, err := NewJob(jobType, params, priority, maxAttempts)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// An empty filter means "all configured sources"; resolve it here so the
	// per-source caps see the sources the job will actually touch.
	if len(job.Sources) == 0 && jobType.CollectsSources() {
		job.Sources = append([]string(nil), q.sources...)
	}

	if err := q.store.CreateJob(job); err != nil {
		return "", errors.Wrap(err, "failed to enqueue job")
	}

	q.notifySubscribers(job)
	return job.ID, nil
}

// GetStatus retrieves a job by ID, reflecting the latest persisted progress
// snapshot.
func (q *Queue) GetStatus(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// ListJobs returns jobs matching the filter, newest first.
func (q *Queue) ListJobs(filter Filter) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(filter)
}

// GetJobLog returns a job's persisted log entries in order.
func (q *Queue) GetJobLog(id string) ([]JobError, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJobLog(id)
}

// Pause pauses a pending or running job. Pausing a running job is
// cooperative: the status changes immediately and the handler observes the
// flag between work units.
func (q *Queue) Pause(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}

	switch job.Status {
	case StatusPending, StatusRunning:
	case StatusPaused:
		return nil // already paused
	default:
		return errors.NewStateConflictError(id, string(job.Status), "pause")
	}

	if flags, ok := q.running[id]; ok {
		flags.pause.Store(true)
	}

	job.Pause()
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to pause job %s", id)
	}

	q.notifySubscribers(job)
	return nil
}

// Resume returns a paused job to the pending pool, preserving its progress.
func (q *Queue) Resume(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}

	if job.Status != StatusPaused {
		return errors.NewStateConflictError(id, string(job.Status), "resume")
	}

	// If the paused handler is still between work units, clear the flag and
	// return the job to running; re-queuing it as pending here would let a
	// second worker claim it while the first handler is still executing.
	if flags, ok := q.running[id]; ok {
		flags.pause.Store(false)
		job.Status = StatusRunning
		job.NextRetryAt = nil
		job.UpdatedAt = time.Now().UTC()
	} else {
		job.Resume()
	}
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to resume job %s", id)
	}

	q.notifySubscribers(job)
	return nil
}

// Cancel cancels a pending, running or paused job. For running jobs the
// cancellation is advisory: the handler observes the flag between work units
// and partial results already produced remain persisted.
func (q *Queue) Cancel(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}

	switch job.Status {
	case StatusPending, StatusRunning, StatusPaused:
	default:
		return errors.NewStateConflictError(id, string(job.Status), "cancel")
	}

	if flags, ok := q.running[id]; ok {
		flags.cancel.Store(true)
	}

	job.Cancel(reason)
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}

	q.notifySubscribers(job)
	return nil
}

// claim transitions a dequeue candidate to running and registers its
// cooperative control flags. Returns (nil, nil, nil) when the job is no
// longer pending, which means another worker or a control call got there
// first. Called only by the worker pool.
func (q *Queue) claim(id string) (*Job, *controlFlags, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusPending {
		return nil, nil, nil
	}

	job.Start()
	if err := q.store.UpdateJob(job); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to mark job %s running", id)
	}

	flags := &controlFlags{}
	q.running[id] = flags

	q.notifySubscribers(job)
	return job, flags, nil
}

// finish applies a final mutation to a job under the queue lock and
// unregisters its control flags. The mutation runs against the freshly
// loaded record so that a cancel or pause raced in by an operator is not
// overwritten. Called only by the worker pool.
func (q *Queue) finish(id string, mutate func(*Job)) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, id)

	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, err
	}

	// Terminal states set by control calls win over the handler outcome.
	if !job.Status.Terminal() {
		mutate(job)
		if err := q.store.UpdateJob(job); err != nil {
			return nil, errors.Wrapf(err, "failed to finalize job %s", id)
		}
	}

	q.notifySubscribers(job)
	return job, nil
}

// updateProgress persists a progress snapshot without touching job state.
// Called from the handler's progress reporter.
func (q *Queue) updateProgress(id string, progress Progress) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil // late snapshot from a cancelled job; keep terminal record
	}

	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to persist progress for job %s", id)
	}

	q.notifySubscribers(job)
	return nil
}

// appendError records a non-fatal item failure on the job's error list and
// in the job log.
func (q *Queue) appendError(id string, kind string, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := JobError{At: time.Now().UTC(), Kind: kind, Message: message}
	if err := q.store.AppendJobLog(id, entry); err != nil {
		return err
	}

	job, err := q.store.GetJob(id)
	if err != nil {
		return err
	}
	job.ErrorLog = append(job.ErrorLog, entry)
	job.UpdatedAt = entry.At
	return q.store.UpdateJob(job)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue. The channel is
// not closed; callers manage its lifecycle.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers.
// REQUIRES: q.mu must be held by caller (either Lock or RLock).
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// Channel full, skip
		}
	}
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Dead      int `json:"dead"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics.
func (q *Queue) GetStats() (*Stats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := &Stats{}
	for _, status := range []Status{StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusCancelled, StatusDead} {
		jobs, err := q.store.ListJobs(Filter{Status: status, Limit: 10000})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count %s jobs", status)
		}

		count := len(jobs)
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusPaused:
			stats.Paused = count
		case StatusCompleted:
			stats.Completed = count
		case StatusCancelled:
			stats.Cancelled = count
		case StatusDead:
			stats.Dead = count
		}
		stats.Total += count
	}

	return stats, nil
}
