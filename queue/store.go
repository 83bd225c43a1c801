package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sentivane/sentivane/errors"
)

// Store handles persistence of jobs and their log entries.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	params, err := MarshalParams(job.Params)
	if err != nil {
		return err
	}
	sources, err := marshalStrings(job.Sources)
	if err != nil {
		return err
	}
	errorLog, err := marshalErrorLog(job.ErrorLog)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, type, priority, params, sources, status,
			attempts, max_attempts, next_retry_at,
			progress_processed, progress_total, progress_rate,
			result, error_log,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		job.ID, job.Type, job.Priority, params, sources, job.Status,
		job.Attempts, job.MaxAttempts, job.NextRetryAt,
		job.Progress.Processed, job.Progress.Total, job.Progress.Rate,
		marshalResult(job.Result), errorLog,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	var job Job
	err := scanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewJobNotFoundError(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}

	return &job, nil
}

// UpdateJob persists the job's current state.
func (s *Store) UpdateJob(job *Job) error {
	params, err := MarshalParams(job.Params)
	if err != nil {
		return err
	}
	errorLog, err := marshalErrorLog(job.ErrorLog)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET params = ?,
		    status = ?,
		    attempts = ?,
		    next_retry_at = ?,
		    progress_processed = ?,
		    progress_total = ?,
		    progress_rate = ?,
		    result = ?,
		    error_log = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	_, err = s.db.Exec(query,
		params, job.Status, job.Attempts, job.NextRetryAt,
		job.Progress.Processed, job.Progress.Total, job.Progress.Rate,
		marshalResult(job.Result), errorLog,
		job.StartedAt, job.CompletedAt, job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	return nil
}

// Filter narrows ListJobs results. Zero values match everything.
type Filter struct {
	Status Status
	Type   JobType
	Limit  int
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(filter Filter) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs`
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// DequeueCandidates returns eligible pending jobs in dequeue order: highest
// priority first, earliest creation time among ties, skipping jobs whose
// retry backoff has not elapsed. The caller applies concurrency caps and
// picks the first admissible candidate.
func (s *Store) DequeueCandidates(now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, now, limit)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return nil, errors.Wrap(err, "failed to list dequeue candidates")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// RunningJobs returns all jobs currently marked running.
func (s *Store) RunningJobs() ([]*Job, error) {
	return s.ListJobs(Filter{Status: StatusRunning, Limit: 1000})
}

// AppendJobLog records one log entry for a job.
func (s *Store) AppendJobLog(id string, entry JobError) error {
	query := `INSERT INTO job_log (job_id, at, kind, message) VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query, id, entry.At, entry.Kind, entry.Message)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return errors.Wrapf(err, "failed to append log for job %s", id)
	}

	return nil
}

// GetJobLog returns a job's log entries in order.
func (s *Store) GetJobLog(id string) ([]JobError, error) {
	query := `SELECT at, kind, message FROM job_log WHERE job_id = ? ORDER BY at ASC, id ASC`

	rows, err := s.db.Query(query, id)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return nil, errors.Wrapf(err, "failed to read log for job %s", id)
	}
	defer rows.Close()

	var entries []JobError
	for rows.Next() {
		var entry JobError
		if err := rows.Scan(&entry.At, &entry.Kind, &entry.Message); err != nil {
			return nil, errors.Wrap(err, "failed to scan job log entry")
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job log")
	}

	return entries, nil
}

// scanJobs scans multiple jobs from query rows.
func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}

	return jobs, nil
}

func marshalResult(r *Result) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func marshalStrings(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to marshal string list")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func marshalErrorLog(entries []JobError) (sql.NullString, error) {
	if len(entries) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to marshal error log")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
