package queue

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/source"
	"github.com/sentivane/sentivane/sym"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs are re-queued
	// on startup to avoid flooding the queue after a crash
	MaxOrphanedJobsToRecover = 1000

	// dequeueCandidateWindow is how many eligible pending jobs the worker
	// inspects per poll when looking for one that fits under the
	// concurrency caps
	dequeueCandidateWindow = 50

	// stopTimeout bounds how long Stop waits for handlers to observe
	// cancellation and exit
	stopTimeout = 30 * time.Second
)

// queueLogger wraps zap.SugaredLogger with lifecycle-event methods.
// DEBUG level carries the opening glyph, WARN the closing glyph, so the
// daemon's startup and shutdown read distinctly in mixed output.
type queueLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event.
func (l queueLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.Open+" "+msg, keysAndValues...)
}

// Closing logs a closing event.
func (l queueLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.Close+" "+msg, keysAndValues...)
}

// WorkerPool polls the queue and executes pending jobs through registered
// handlers, subject to the global and per-source concurrency caps.
type WorkerPool struct {
	queue     *Queue
	registry  *HandlerRegistry
	cfg       config.QueueConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    queueLogger
	timeNow   func() time.Time
	randFloat func() float64

	mu            sync.Mutex
	globalActive  int
	sourceActive  map[string]int
	jobsProcessed int
}

// NewWorkerPool creates a worker pool over the queue. Handlers must be
// registered before Start. The parent context drives shutdown: cancelling
// it cancels the workers.
func NewWorkerPool(ctx context.Context, q *Queue, registry *HandlerRegistry, cfg config.QueueConfig, log *zap.SugaredLogger) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:        q,
		registry:     registry,
		cfg:          cfg,
		parentCtx:    ctx,
		ctx:          workerCtx,
		cancel:       cancel,
		logger:       queueLogger{log.Named("queue")},
		timeNow:      time.Now,
		randFloat:    rand.Float64,
		sourceActive: make(map[string]int),
	}
}

// Registry returns the handler registry for registering job handlers
// before Start.
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// Start recovers orphaned jobs and begins polling with the configured
// number of workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Recreate the context if Stop ran before; must happen before workers spawn
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.cfg.Workers)
	}

	workers := wp.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	wp.logger.Starting("Worker pool starting", "workers", workers, "poll_interval", wp.pollInterval())
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers and waits for running handlers to observe the
// cancellation, bounded by a timeout so shutdown never hangs on a stuck job.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow(sym.Close + " Worker pool stopped, all workers exited cleanly")
	case <-time.After(stopTimeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be finishing", "timeout", stopTimeout)
	}
}

// recoverOrphanedJobs re-queues jobs left in running state by an ungraceful
// shutdown. Progress and error history are preserved; the interrupted
// attempt stays counted.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	orphaned, err := wp.queue.store.RunningJobs()
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}
	if len(orphaned) == 0 {
		return nil
	}
	if len(orphaned) > MaxOrphanedJobsToRecover {
		orphaned = orphaned[:MaxOrphanedJobsToRecover]
	}

	wp.logger.Starting("Found orphaned jobs from previous shutdown", "count", len(orphaned))

	for _, job := range orphaned {
		job.Status = StatusPending
		job.NextRetryAt = nil
		job.UpdatedAt = wp.timeNow().UTC()
		if err := wp.queue.store.UpdateJob(job); err != nil {
			wp.logger.Warnw("Failed to re-queue orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		entry := JobError{At: wp.timeNow().UTC(), Kind: "orphaned", Message: "re-queued after unclean shutdown"}
		if err := wp.queue.store.AppendJobLog(job.ID, entry); err != nil {
			wp.logger.Warnw("Failed to log orphan recovery", "job_id", job.ID, "error", err)
		}
		wp.logger.Starting("Recovered orphaned job", "job_id", job.ID, "type", string(job.Type))
	}

	return nil
}

// worker polls for jobs until the pool context is cancelled.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.pollInterval())
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off after consecutive errors",
						"worker_id", id,
						"backoff", backoff)
					time.Sleep(backoff)
					if backoff *= 2; backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
			} else {
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

func (wp *WorkerPool) pollInterval() time.Duration {
	if wp.cfg.PollIntervalSeconds > 0 {
		return time.Duration(wp.cfg.PollIntervalSeconds) * time.Second
	}
	return 5 * time.Second
}

// processNextJob dequeues and executes at most one job: the highest-priority,
// oldest eligible pending job that fits under the concurrency caps.
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	candidates, err := wp.queue.store.DequeueCandidates(wp.timeNow().UTC(), dequeueCandidateWindow)
	if err != nil {
		return errors.Wrap(err, "failed to list dequeue candidates")
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, candidate := range candidates {
		if !wp.reserveSlots(candidate.Sources) {
			// Caps full for this job's sources; later candidates may
			// touch different sources
			continue
		}

		job, flags, err := wp.queue.claim(candidate.ID)
		if err != nil {
			wp.releaseSlots(candidate.Sources)
			return err
		}
		if job == nil {
			// Claimed by another worker or paused/cancelled between
			// candidate listing and claim
			wp.releaseSlots(candidate.Sources)
			continue
		}

		defer wp.releaseSlots(job.Sources)
		return wp.runJob(job, flags)
	}

	return nil
}

// reserveSlots takes one global slot and one slot per source, or none at all.
func (wp *WorkerPool) reserveSlots(sources []string) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.cfg.GlobalConcurrency > 0 && wp.globalActive >= wp.cfg.GlobalConcurrency {
		return false
	}
	if wp.cfg.PerSourceCap > 0 {
		for _, src := range sources {
			if wp.sourceActive[src] >= wp.cfg.PerSourceCap {
				return false
			}
		}
	}

	wp.globalActive++
	for _, src := range sources {
		wp.sourceActive[src]++
	}
	return true
}

func (wp *WorkerPool) releaseSlots(sources []string) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	wp.globalActive--
	for _, src := range sources {
		if wp.sourceActive[src] > 0 {
			wp.sourceActive[src]--
		}
	}
}

// runJob executes a claimed job through its handler and settles the outcome.
func (wp *WorkerPool) runJob(job *Job, flags *controlFlags) error {
	wp.mu.Lock()
	wp.jobsProcessed++
	wp.mu.Unlock()

	wp.logger.Infow(sym.Pulse+" Job started",
		"job_id", job.ID,
		"type", string(job.Type),
		"priority", job.Priority.String(),
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts)

	reporter := newReporter(wp.queue, job.ID, flags, wp.timeNow)
	result, err := wp.registry.Execute(wp.ctx, job.Snapshot(), reporter)

	switch {
	case err == nil:
		final, finErr := wp.queue.finish(job.ID, func(j *Job) { j.Complete(result) })
		if finErr != nil {
			return finErr
		}
		wp.logger.Infow(sym.Pulse+" Job completed",
			"job_id", job.ID,
			"type", string(job.Type),
			"processed", resultProcessed(final.Result),
			"failed", resultFailed(final.Result))
		return nil

	case errors.Is(err, ErrJobCancelled):
		// Cancel control call already persisted the terminal record with
		// the partial progress; finish only unregisters the flags.
		_, finErr := wp.queue.finish(job.ID, func(j *Job) {})
		wp.logger.Infow(sym.Pulse+" Job stopped on cancellation", "job_id", job.ID)
		return finErr

	case errors.Is(err, ErrJobPaused):
		_, finErr := wp.queue.finish(job.ID, func(j *Job) { j.Pause() })
		wp.logger.Infow(sym.Pulse+" Job paused mid-run", "job_id", job.ID, "processed", job.Progress.Processed)
		return finErr

	case wp.ctx.Err() != nil:
		// Shutdown interrupted the handler: re-queue with progress intact
		_, finErr := wp.queue.finish(job.ID, func(j *Job) {
			j.Status = StatusPending
			j.NextRetryAt = nil
			j.UpdatedAt = wp.timeNow().UTC()
		})
		if finErr != nil {
			wp.logger.Errorw("Failed to re-queue job interrupted by shutdown", "job_id", job.ID, "error", finErr)
		} else {
			wp.logger.Closing("Job re-queued after shutdown interruption", "job_id", job.ID)
		}
		return nil

	default:
		kind := string(source.KindOf(err))
		retryAt := wp.timeNow().UTC().Add(wp.retryDelay(job.Attempts))
		final, finErr := wp.queue.finish(job.ID, func(j *Job) { j.RecordFailure(kind, err, retryAt) })
		if finErr != nil {
			return finErr
		}
		if final.Status == StatusDead {
			wp.logger.Errorw("Job dead after exhausting attempts",
				"job_id", job.ID,
				"type", string(job.Type),
				"attempts", final.Attempts,
				"kind", kind,
				"error", err)
		} else {
			wp.logger.Warnw("Job attempt failed, retry scheduled",
				"job_id", job.ID,
				"attempt", final.Attempts,
				"max_attempts", final.MaxAttempts,
				"kind", kind,
				"retry_at", retryAt,
				"error", err)
		}
		return nil
	}
}

// retryDelay computes the backoff before the next attempt: exponential in
// the attempt number, capped, with equal jitter so simultaneous failures
// don't retry in lockstep.
func (wp *WorkerPool) retryDelay(attempt int) time.Duration {
	base := time.Duration(wp.cfg.BackoffBaseSeconds * float64(time.Second))
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := time.Duration(wp.cfg.BackoffCapSeconds * float64(time.Second))
	if ceiling <= 0 {
		ceiling = 15 * time.Minute
	}

	delay := base
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}

	half := delay / 2
	return half + time.Duration(wp.randFloat()*float64(half))
}

func resultProcessed(r *Result) int {
	if r == nil {
		return 0
	}
	return r.Processed
}

func resultFailed(r *Result) int {
	if r == nil {
		return 0
	}
	return r.Failed
}
