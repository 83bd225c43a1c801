package queue

import (
	"database/sql"
	"encoding/json"

	"github.com/sentivane/sentivane/errors"
)

// jobScanArgs holds the nullable intermediates for scanning a job row.
type jobScanArgs struct {
	Params      sql.NullString
	Sources     sql.NullString
	Result      sql.NullString
	ErrorLog    sql.NullString
	NextRetryAt sql.NullTime
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// jobSelectColumns is the standard column list for job SELECT queries.
const jobSelectColumns = `id, type, priority, params, sources, status,
	attempts, max_attempts, next_retry_at,
	progress_processed, progress_total, progress_rate,
	result, error_log,
	created_at, started_at, completed_at, updated_at`

// scanTargets returns the scan destinations for the job and intermediates,
// in jobSelectColumns order.
func scanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Type,
		&job.Priority,
		&args.Params,
		&args.Sources,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&args.NextRetryAt,
		&job.Progress.Processed,
		&job.Progress.Total,
		&job.Progress.Rate,
		&args.Result,
		&args.ErrorLog,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// processScanArgs populates the job from the scanned intermediates.
func processScanArgs(job *Job, args *jobScanArgs) error {
	if args.Params.Valid {
		params, err := UnmarshalParams(args.Params.String)
		if err != nil {
			return errors.Wrapf(err, "job %s", job.ID)
		}
		job.Params = params
	}
	if args.Sources.Valid && args.Sources.String != "" {
		if err := json.Unmarshal([]byte(args.Sources.String), &job.Sources); err != nil {
			return errors.Wrapf(err, "failed to unmarshal sources for job %s", job.ID)
		}
	}
	if args.Result.Valid && args.Result.String != "" {
		var result Result
		if err := json.Unmarshal([]byte(args.Result.String), &result); err != nil {
			return errors.Wrapf(err, "failed to unmarshal result for job %s", job.ID)
		}
		job.Result = &result
	}
	if args.ErrorLog.Valid && args.ErrorLog.String != "" {
		if err := json.Unmarshal([]byte(args.ErrorLog.String), &job.ErrorLog); err != nil {
			return errors.Wrapf(err, "failed to unmarshal error log for job %s", job.ID)
		}
	}
	if args.NextRetryAt.Valid {
		job.NextRetryAt = &args.NextRetryAt.Time
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
	return nil
}

// scanJobFromRow scans a single job from a sql.Row.
func scanJobFromRow(row *sql.Row, job *Job) error {
	args := &jobScanArgs{}
	if err := row.Scan(scanTargets(job, args)...); err != nil {
		return err
	}
	return processScanArgs(job, args)
}

// scanJobFromRows scans a single job from sql.Rows (for use in loops).
func scanJobFromRows(rows *sql.Rows, job *Job) error {
	args := &jobScanArgs{}
	if err := rows.Scan(scanTargets(job, args)...); err != nil {
		return err
	}
	return processScanArgs(job, args)
}
