package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relato/internal/services"
)

const jobColumns = `id, project_id, stage, payload, status, attempts, max_attempts,
    timeout_seconds, next_run_at, last_error, created_at, updated_at`

// InsertJob persists a new pending job handle and returns it.
func (s *Store) InsertJob(ctx context.Context, job Job) (*Job, error) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Payload == "" {
		job.Payload = "{}"
	}
	if job.NextRunAt.IsZero() {
		job.NextRunAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, project_id, stage, payload, status, attempts, max_attempts,
            timeout_seconds, next_run_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, job.Stage, job.Payload, JobPending,
		job.MaxAttempts, job.TimeoutSeconds, formatTime(job.NextRunAt),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetJob(ctx, job.ID)
}

// GetJob fetches a job handle by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically takes the oldest runnable pending job, marks it
// running, and bumps its attempt counter. Returns nil when nothing is due.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*Job, error) {
	var claimed *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE status = ? AND next_run_at <= ?
             ORDER BY created_at ASC, id ASC LIMIT 1`,
			JobPending, formatTime(now))
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select runnable job: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobRunning, formatTime(now), job.ID, JobPending)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker won the claim. Treat as nothing due.
			return nil
		}

		job.Status = JobRunning
		job.Attempts++
		job.UpdatedAt = now
		claimed = job
		return nil
	})
	return claimed, err
}

// ResetStuckJobs returns jobs left in running back to pending so the next
// manager picks them up. A crash between claim and completion otherwise
// strands the job forever; the daemon calls this once at startup, before the
// workers start.
func (s *Store) ResetStuckJobs(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_run_at = ?, last_error = ?, updated_at = ?
         WHERE status = ?`,
		JobPending, formatTime(now), "reset from stuck running", formatTime(now),
		JobRunning)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// CompleteJob marks a running job done.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		JobDone, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// RescheduleJob returns a running job to pending with a delayed next run,
// keeping the failure message for inspection.
func (s *Store) RescheduleJob(ctx context.Context, id string, runAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_run_at = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		JobPending, formatTime(runAt), nullableString(lastError),
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

// FailJob marks a job permanently failed.
func (s *Store) FailJob(ctx context.Context, id string, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		JobFailed, nullableString(lastError), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// JobsForProject lists a project's job handles, newest first.
func (s *Store) JobsForProject(ctx context.Context, projectID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? ORDER BY created_at DESC, id DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveJobCount reports pending and running jobs for a project.
func (s *Store) ActiveJobCount(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE project_id = ? AND status IN (?, ?)`,
		projectID, JobPending, JobRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		nextRunAt string
		lastError sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.Stage,
		&job.Payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.TimeoutSeconds,
		&nextRunAt,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.NextRunAt = parseTime(nextRunAt)
	job.LastError = stringOrEmpty(lastError)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}
