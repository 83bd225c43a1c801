package queue

import (
	"context"
	"sync"

	"github.com/sentivane/sentivane/errors"
)

// ErrJobPaused is returned by a handler that observed the pause flag and
// stopped between work units. The worker preserves the paused status and the
// progress reported so far.
var ErrJobPaused = errors.New("job paused")

// ErrJobCancelled is returned by a handler that observed the cancel flag and
// stopped between work units. The worker preserves the cancelled status;
// results already persisted stay persisted.
var ErrJobCancelled = errors.New("job cancelled")

// JobHandler executes one job type. Domain packages implement this so the
// queue infrastructure stays decoupled from collection and index logic.
//
// Handlers receive an immutable snapshot and report progress through the
// reporter, never by mutating the job. Between work units they must call
// reporter.Interrupted() and return its error unchanged when non-nil.
type JobHandler interface {
	// Type returns the job type this handler executes.
	Type() JobType

	// Execute runs the job. Partial item failures are recorded through
	// reporter.RecordError and counted in the result, not returned as the
	// job error; a returned error fails the whole attempt.
	Execute(ctx context.Context, job Snapshot, reporter *Reporter) (*Result, error)
}

// HandlerRegistry maps job types to handlers. Safe for concurrent use.
type HandlerRegistry struct {
	handlers map[JobType]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[JobType]JobHandler),
	}
}

// Register adds a handler for its job type.
// Panics if a handler is already registered for that type.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobType := handler.Type()
	if _, exists := r.handlers[jobType]; exists {
		panic("handler already registered for job type: " + string(jobType))
	}
	r.handlers[jobType] = handler
}

// Get retrieves the handler for a job type, or nil if none is registered.
func (r *HandlerRegistry) Get(jobType JobType) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Has checks if a handler is registered for a job type.
func (r *HandlerRegistry) Has(jobType JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[jobType]
	return exists
}

// Types returns all registered job types.
func (r *HandlerRegistry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.handlers))
	for jobType := range r.handlers {
		types = append(types, jobType)
	}
	return types
}

// Execute dispatches a job to its registered handler.
func (r *HandlerRegistry) Execute(ctx context.Context, job Snapshot, reporter *Reporter) (*Result, error) {
	handler := r.Get(job.Type)
	if handler == nil {
		return nil, errors.Newf("no handler registered for job type %q", job.Type)
	}
	return handler.Execute(ctx, job, reporter)
}
