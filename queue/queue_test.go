package queue

import (
	"testing"
	"time"

	"github.com/sentivane/sentivane/errors"
	sentivanetest "github.com/sentivane/sentivane/internal/testing"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(sentivanetest.CreateTestDB(t))
}

func mustEnqueue(t *testing.T, q *Queue, jobType JobType, params Params, priority Priority) string {
	t.Helper()
	id, err := q.Enqueue(jobType, params, priority, 3)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return id
}

func TestQueue_EnqueueAndGetStatus(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeDailyCollection, Params{Date: "2024-01-15", Sources: []string{"market_prices"}}, PriorityNormal)

	job, err := q.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if job.Type != TypeDailyCollection || job.Status != StatusPending {
		t.Errorf("Unexpected job: type=%s status=%s", job.Type, job.Status)
	}
	if job.Params.Date != "2024-01-15" {
		t.Errorf("Params lost in round trip: %+v", job.Params)
	}
	if len(job.Sources) != 1 || job.Sources[0] != "market_prices" {
		t.Errorf("Sources lost in round trip: %v", job.Sources)
	}
}

func TestQueue_EnqueueRejectsInvalidParams(t *testing.T) {
	q := testQueue(t)

	_, err := q.Enqueue(TypeBackfill, Params{StartDate: "2024-02-01", EndDate: "2024-01-01"}, PriorityNormal, 3)
	if !errors.IsValidationError(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestQueue_GetStatusNotFound(t *testing.T) {
	q := testQueue(t)

	_, err := q.GetStatus("no-such-job")
	if !errors.IsJobNotFoundError(err) {
		t.Errorf("Expected job-not-found, got %v", err)
	}
}

func TestQueue_ListJobsFilters(t *testing.T) {
	q := testQueue(t)

	mustEnqueue(t, q, TypeDailyCollection, Params{Date: "2024-01-15"}, PriorityNormal)
	mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	cancelled := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-16"}, PriorityNormal)
	if err := q.Cancel(cancelled, "test"); err != nil {
		t.Fatal(err)
	}

	jobs, err := q.ListJobs(Filter{Type: TypeRecompute})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 recompute jobs, got %d", len(jobs))
	}

	jobs, err = q.ListJobs(Filter{Status: StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 pending jobs, got %d", len(jobs))
	}

	jobs, err = q.ListJobs(Filter{Status: StatusPending, Type: TypeRecompute})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("Expected 1 pending recompute job, got %d", len(jobs))
	}
}

// Priority beats age: a high-priority job enqueued later dequeues before an
// older normal-priority one.
func TestQueue_DequeueOrder(t *testing.T) {
	q := testQueue(t)

	first := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	time.Sleep(2 * time.Millisecond)
	second := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-16"}, PriorityHigh)
	time.Sleep(2 * time.Millisecond)
	third := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-17"}, PriorityNormal)

	candidates, err := q.store.DequeueCandidates(time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 3 {
		t.Fatalf("Expected 3 candidates, got %d", len(candidates))
	}

	want := []string{second, first, third}
	for i, id := range want {
		if candidates[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, candidates[i].ID)
		}
	}
}

// Jobs whose retry backoff has not elapsed are invisible to dequeue.
func TestQueue_DequeueSkipsBackoff(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)

	job, _, err := q.claim(id)
	if err != nil || job == nil {
		t.Fatalf("claim failed: %v", err)
	}

	retryAt := time.Now().Add(time.Minute).UTC()
	if _, err := q.finish(id, func(j *Job) {
		j.RecordFailure("transient", errors.New("flaky"), retryAt)
	}); err != nil {
		t.Fatal(err)
	}

	candidates, err := q.store.DequeueCandidates(time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Errorf("Expected no candidates during backoff, got %d", len(candidates))
	}

	candidates, err = q.store.DequeueCandidates(time.Now().Add(2*time.Minute).UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Errorf("Expected job eligible after backoff, got %d candidates", len(candidates))
	}
}

func TestQueue_ClaimIsExclusive(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)

	job, flags, err := q.claim(id)
	if err != nil || job == nil || flags == nil {
		t.Fatalf("First claim failed: job=%v err=%v", job, err)
	}
	if job.Status != StatusRunning || job.Attempts != 1 {
		t.Errorf("After claim: status=%s attempts=%d", job.Status, job.Attempts)
	}

	// Second claim observes the job is no longer pending
	dup, _, err := q.claim(id)
	if err != nil {
		t.Fatal(err)
	}
	if dup != nil {
		t.Error("Expected second claim to yield nothing")
	}
}

func TestQueue_PauseResumeLifecycle(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)

	if err := q.Pause(id); err != nil {
		t.Fatalf("Pause pending failed: %v", err)
	}
	// Pausing a paused job is a no-op, not a conflict
	if err := q.Pause(id); err != nil {
		t.Errorf("Pause paused should be nil, got %v", err)
	}

	job, _ := q.GetStatus(id)
	if job.Status != StatusPaused {
		t.Fatalf("Expected paused, got %s", job.Status)
	}

	if err := q.Resume(id); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	job, _ = q.GetStatus(id)
	if job.Status != StatusPending {
		t.Errorf("Expected pending after resume, got %s", job.Status)
	}

	// Resuming a non-paused job conflicts
	if err := q.Resume(id); !errors.IsStateConflictError(err) {
		t.Errorf("Expected state conflict, got %v", err)
	}
}

// An empty source filter means "all configured sources"; the job must be
// charged against every one of them for concurrency accounting, not none.
func TestQueue_EnqueueResolvesEmptySourceFilter(t *testing.T) {
	q := testQueue(t)
	q.SetConfiguredSources([]string{"sentiment_survey", "market_prices"})

	id := mustEnqueue(t, q, TypeDailyCollection, Params{Date: "2024-01-15"}, PriorityNormal)
	job, err := q.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(job.Sources) != 2 || job.Sources[0] != "market_prices" || job.Sources[1] != "sentiment_survey" {
		t.Errorf("Expected full sorted source set, got %v", job.Sources)
	}

	// An explicit filter is kept as-is
	id = mustEnqueue(t, q, TypeDailyCollection, Params{Date: "2024-01-16", Sources: []string{"market_prices"}}, PriorityNormal)
	job, _ = q.GetStatus(id)
	if len(job.Sources) != 1 || job.Sources[0] != "market_prices" {
		t.Errorf("Explicit filter overwritten: %v", job.Sources)
	}

	// Recompute touches no sources
	id = mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	job, _ = q.GetStatus(id)
	if len(job.Sources) != 0 {
		t.Errorf("Recompute must not be charged against sources, got %v", job.Sources)
	}
}

// Resuming a job whose handler has not yet observed the pause flag returns
// it to running, so no second worker can claim it mid-execution.
func TestQueue_ResumeInFlightKeepsJobRunning(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	_, flags, err := q.claim(id)
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Pause(id); err != nil {
		t.Fatal(err)
	}
	if !flags.pause.Load() {
		t.Fatal("Expected cooperative pause flag set")
	}

	if err := q.Resume(id); err != nil {
		t.Fatal(err)
	}
	if flags.pause.Load() {
		t.Error("Resume must clear the pause flag")
	}

	job, _ := q.GetStatus(id)
	if job.Status != StatusRunning {
		t.Fatalf("Expected running while the handler is in flight, got %s", job.Status)
	}

	// Not claimable by another worker
	dup, _, err := q.claim(id)
	if err != nil {
		t.Fatal(err)
	}
	if dup != nil {
		t.Error("Resumed in-flight job must not be claimable")
	}
}

func TestQueue_PausedJobNotDequeued(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	if err := q.Pause(id); err != nil {
		t.Fatal(err)
	}

	candidates, err := q.store.DequeueCandidates(time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Errorf("Paused job must not be a candidate, got %d", len(candidates))
	}
}

func TestQueue_ControlOnTerminalConflicts(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	if err := q.Cancel(id, "operator request"); err != nil {
		t.Fatal(err)
	}

	if err := q.Pause(id); !errors.IsStateConflictError(err) {
		t.Errorf("Pause on cancelled: expected conflict, got %v", err)
	}
	if err := q.Resume(id); !errors.IsStateConflictError(err) {
		t.Errorf("Resume on cancelled: expected conflict, got %v", err)
	}
	if err := q.Cancel(id, "again"); !errors.IsStateConflictError(err) {
		t.Errorf("Cancel on cancelled: expected conflict, got %v", err)
	}
}

func TestQueue_CancelSetsRunningFlag(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	_, flags, err := q.claim(id)
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Cancel(id, "operator request"); err != nil {
		t.Fatal(err)
	}
	if !flags.cancel.Load() {
		t.Error("Expected cooperative cancel flag set for running job")
	}

	job, _ := q.GetStatus(id)
	if job.Status != StatusCancelled {
		t.Errorf("Status changes immediately on cancel, got %s", job.Status)
	}
}

// A cancel that lands while the handler is finishing wins over the handler's
// outcome.
func TestQueue_FinishRespectsTerminalState(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	if _, _, err := q.claim(id); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(id, "raced in"); err != nil {
		t.Fatal(err)
	}

	job, err := q.finish(id, func(j *Job) {
		j.Complete(&Result{Processed: 1})
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusCancelled {
		t.Errorf("Cancel must win over completion, got %s", job.Status)
	}
}

func TestQueue_AppendErrorSurvivesInLog(t *testing.T) {
	q := testQueue(t)

	id := mustEnqueue(t, q, TypeDailyCollection, Params{Date: "2024-01-15"}, PriorityNormal)
	if err := q.appendError(id, "transient", "options_flow: connection reset"); err != nil {
		t.Fatal(err)
	}
	if err := q.appendError(id, "auth", "sentiment_survey: bad key"); err != nil {
		t.Fatal(err)
	}

	entries, err := q.GetJobLog(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Kind != "transient" || entries[1].Kind != "auth" {
		t.Errorf("Log order wrong: %v", entries)
	}

	job, _ := q.GetStatus(id)
	if len(job.ErrorLog) != 2 {
		t.Errorf("Expected error list on the job, got %d", len(job.ErrorLog))
	}
}

func TestQueue_Subscribe(t *testing.T) {
	q := testQueue(t)

	ch := q.Subscribe()
	defer q.Unsubscribe(ch)

	id := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)

	select {
	case job := <-ch:
		if job.ID != id {
			t.Errorf("Expected notification for %s, got %s", id, job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected enqueue notification")
	}
}

func TestQueue_GetStats(t *testing.T) {
	q := testQueue(t)

	mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-15"}, PriorityNormal)
	cancelled := mustEnqueue(t, q, TypeRecompute, Params{Date: "2024-01-16"}, PriorityNormal)
	if err := q.Cancel(cancelled, "test"); err != nil {
		t.Fatal(err)
	}

	stats, err := q.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 || stats.Cancelled != 1 || stats.Total != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
