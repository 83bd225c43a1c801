// Package queue implements the batch job queue: priority scheduling,
// retry/backoff, cooperative pause/cancel and rate-limited execution of
// background collection and recomputation jobs.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sentivane/sentivane/errors"
)

// Status represents the current state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDead      Status = "dead"
)

// Terminal reports whether the status is immutable once reached.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDead:
		return true
	default:
		return false
	}
}

// JobType identifies which handler executes the job.
type JobType string

const (
	TypeDailyCollection JobType = "daily_collection"
	TypeFinancialBatch  JobType = "financial_batch"
	TypeRecompute       JobType = "recompute"
	TypeBackfill        JobType = "backfill"
)

// CollectsSources reports whether jobs of this type call external sources.
// Recompute reads only records already persisted.
func (t JobType) CollectsSources() bool {
	switch t {
	case TypeDailyCollection, TypeFinancialBatch, TypeBackfill:
		return true
	default:
		return false
	}
}

// IsValidType returns true if the string is a known job type.
func IsValidType(s string) bool {
	switch JobType(s) {
	case TypeDailyCollection, TypeFinancialBatch, TypeRecompute, TypeBackfill:
		return true
	default:
		return false
	}
}

// Priority orders pending jobs. Higher values dequeue first; creation time
// breaks ties (FIFO within a priority).
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority name to its value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, errors.NewValidationError("unknown priority %q", s)
	}
}

// Params carries the job parameters. Which fields are required depends on
// the job type; Validate enforces that at enqueue time.
type Params struct {
	Date      string   `json:"date,omitempty"`       // single target date, YYYY-MM-DD
	StartDate string   `json:"start_date,omitempty"` // backfill range start
	EndDate   string   `json:"end_date,omitempty"`   // backfill range end
	Sources   []string `json:"sources,omitempty"`    // source filter; empty = all configured
}

// Validate checks the parameters for the given job type.
func (p Params) Validate(jobType JobType) error {
	parseDay := func(field, value string) error {
		if value == "" {
			return errors.NewValidationError("%s requires %s", jobType, field)
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return errors.NewValidationError("%s: invalid %s %q, expected YYYY-MM-DD", jobType, field, value)
		}
		return nil
	}

	switch jobType {
	case TypeDailyCollection, TypeFinancialBatch, TypeRecompute:
		return parseDay("date", p.Date)
	case TypeBackfill:
		if err := parseDay("start_date", p.StartDate); err != nil {
			return err
		}
		if err := parseDay("end_date", p.EndDate); err != nil {
			return err
		}
		if p.EndDate < p.StartDate {
			return errors.NewValidationError("backfill range start %s after end %s", p.StartDate, p.EndDate)
		}
		return nil
	default:
		return errors.NewValidationError("unknown job type %q", jobType)
	}
}

// Progress is the job's last reported progress snapshot.
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate,omitempty"` // items per second
}

// Percentage calculates progress as a percentage (0-100).
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// ETA estimates the remaining duration from the reported rate.
func (p Progress) ETA() time.Duration {
	if p.Rate <= 0 || p.Processed >= p.Total {
		return 0
	}
	remaining := float64(p.Total - p.Processed)
	return time.Duration(remaining / p.Rate * float64(time.Second))
}

// Result is the type-specific summary stored on completion. Partial failures
// are counted here, not raised as job failures.
type Result struct {
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Summary   string `json:"summary,omitempty"`
}

// JobError is one entry in the job's ordered error list. The list survives
// successful retries so operators can audit transient failures that were
// eventually overcome.
type JobError struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Job is one queued unit of background work.
//
// The queue holds the authoritative record by id; handlers receive an
// immutable Snapshot plus a progress-reporting callback, never a mutable
// reference to the Job itself.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Priority    Priority   `json:"priority"`
	Params      Params     `json:"params"`
	Sources     []string   `json:"sources,omitempty"` // sources the job touches, for concurrency caps
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Progress    Progress   `json:"progress"`
	Result      *Result    `json:"result,omitempty"`
	ErrorLog    []JobError `json:"error_log,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob creates a pending job, validating the parameters for the type.
func NewJob(jobType JobType, params Params, priority Priority, maxAttempts int) (*Job, error) {
	if err := params.Validate(jobType); err != nil {
		return nil, err
	}
	if maxAttempts < 1 {
		return nil, errors.NewValidationError("max attempts must be >= 1, got %d", maxAttempts)
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Priority:    priority,
		Params:      params,
		Sources:     params.Sources,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Snapshot is the immutable view of a job handed to its handler.
type Snapshot struct {
	ID      string
	Type    JobType
	Params  Params
	Attempt int
}

// Snapshot returns the handler-facing view of the job.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		ID:      j.ID,
		Type:    j.Type,
		Params:  j.Params,
		Attempt: j.Attempts,
	}
}

// Start marks the job as running. A new attempt is counted only on the first
// run or a post-failure retry; a claim that continues an interrupted run
// (resume after pause, re-queue after shutdown or orphan recovery) stays on
// the attempt already counted, so pausing can never walk Attempts past
// MaxAttempts.
func (j *Job) Start() {
	now := time.Now().UTC()
	if j.StartedAt == nil || j.NextRetryAt != nil {
		j.Attempts++
	}
	j.Status = StatusRunning
	j.StartedAt = &now
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// Complete marks the job as completed with its result summary.
func (j *Job) Complete(result *Result) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Pause marks the job as paused.
func (j *Job) Pause() {
	j.Status = StatusPaused
	j.UpdatedAt = time.Now().UTC()
}

// Resume returns a paused job to the pending pool.
func (j *Job) Resume() {
	j.Status = StatusPending
	j.NextRetryAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// Cancel marks the job as cancelled, recording the reason in the error list.
// Progress and partial results already persisted are preserved.
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.ErrorLog = append(j.ErrorLog, JobError{At: now, Kind: "cancelled", Message: reason})
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// RecordFailure appends the failure to the error list and either schedules a
// retry (pending with a next-eligible time) or marks the job dead when
// attempts are exhausted.
func (j *Job) RecordFailure(kind string, err error, retryAt time.Time) {
	now := time.Now().UTC()
	j.ErrorLog = append(j.ErrorLog, JobError{At: now, Kind: kind, Message: err.Error()})

	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusDead
		j.CompletedAt = &now
	} else {
		j.Status = StatusPending
		j.NextRetryAt = &retryAt
	}
	j.UpdatedAt = now
}

// MarshalParams converts Params to a JSON string for storage.
func MarshalParams(p Params) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal job params")
	}
	return string(data), nil
}

// UnmarshalParams converts a stored JSON string back to Params.
func UnmarshalParams(data string) (Params, error) {
	var p Params
	if data == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, errors.Wrap(err, "failed to unmarshal job params")
	}
	return p, nil
}
