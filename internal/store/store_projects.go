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

const projectColumns = `id, user_id, title, status, created_at, updated_at, expires_at,
    job_id, output_file, fallback_file, error_message, stylize_errors`

// NewProjectParams describes a project at session start.
type NewProjectParams struct {
	UserID                string
	Title                 string
	ParticipantName       string
	StylizePhotos         bool
	TTL                   time.Duration
	RecordingLimitSeconds int
}

// CreateProject inserts a project in the recording state with its working
// state row.
func (s *Store) CreateProject(ctx context.Context, params NewProjectParams) (*Project, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, user_id, title, status, created_at, updated_at, expires_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id,
			params.UserID,
			params.Title,
			StatusRecording,
			formatTime(now),
			formatTime(now),
			formatTime(now.Add(params.TTL)),
		)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO project_states (project_id, participant_name, stylize_photos,
                recording_started_at, recording_limit_seconds)
             VALUES (?, ?, ?, ?, ?)`,
			id,
			params.ParticipantName,
			params.StylizePhotos,
			formatTime(now),
			params.RecordingLimitSeconds,
		)
		if err != nil {
			return fmt.Errorf("insert project state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetProject(ctx, id)
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// GetProjectState fetches the working state row for a project.
func (s *Store) GetProjectState(ctx context.Context, projectID string) (*ProjectState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, participant_name, stylize_photos, recording_started_at,
            recording_stopped_at, recording_limit_seconds, ingest_duration_ms,
            ingest_bytes_total, last_seq, segments_total, segments_done,
            photos_total, photos_done, processing_metrics, transcript, quota_reserved
         FROM project_states WHERE project_id = ?`, projectID)
	state, err := scanProjectState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project state %s", services.ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get project state: %w", err)
	}
	return state, nil
}

// ListProjects returns all projects for a user ordered by creation time, or
// every project when userID is empty.
func (s *Store) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`
	args := []any{}
	if userID != "" {
		query = `SELECT ` + projectColumns + ` FROM projects WHERE user_id = ? ORDER BY created_at DESC`
		args = append(args, userID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// ListExpired returns projects whose expires_at has elapsed, excluding those
// in the supplied statuses.
func (s *Store) ListExpired(ctx context.Context, now time.Time, skip ...Status) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE expires_at <= ? AND status != ?`
	args := []any{formatTime(now), StatusExpired}
	for _, status := range skip {
		query += ` AND status != ?`
		args = append(args, status)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Transition moves a project from one status to another, enforcing the legal
// edges. Returns Conflict when the stored status no longer matches from.
func (s *Store) Transition(ctx context.Context, projectID string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s for project %s",
			services.ErrConflict, from, to, projectID)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(time.Now().UTC()), projectID, from)
	if err != nil {
		return fmt.Errorf("transition project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: project %s is not in status %s", services.ErrConflict, projectID, from)
	}
	return nil
}

// SetProjectError moves a project to the error state and records the message.
func (s *Store) SetProjectError(ctx context.Context, projectID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusError, message, formatTime(time.Now().UTC()),
		projectID, StatusQueued, StatusProcessing)
	if err != nil {
		return fmt.Errorf("set project error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set project error rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: project %s is not in a failable status", services.ErrConflict, projectID)
	}
	return nil
}

// ClearProjectError wipes the error message, used when retrying a failed
// project back into the queue.
func (s *Store) ClearProjectError(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET error_message = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), projectID)
	if err != nil {
		return fmt.Errorf("clear project error: %w", err)
	}
	return nil
}

// SetArtifacts records the generated artifact names on the project.
func (s *Store) SetArtifacts(ctx context.Context, projectID, outputFile, fallbackFile string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET output_file = COALESCE(?, output_file),
            fallback_file = COALESCE(?, fallback_file), updated_at = ?
         WHERE id = ?`,
		nullableString(outputFile), nullableString(fallbackFile),
		formatTime(time.Now().UTC()), projectID)
	if err != nil {
		return fmt.Errorf("set artifacts: %w", err)
	}
	return nil
}

// SetJobID records the current pipeline job reference on the project.
func (s *Store) SetJobID(ctx context.Context, projectID, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET job_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(jobID), formatTime(time.Now().UTC()), projectID)
	if err != nil {
		return fmt.Errorf("set job id: %w", err)
	}
	return nil
}

// IncrementStylizeErrors bumps the count of photos that failed stylization.
func (s *Store) IncrementStylizeErrors(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET stylize_errors = stylize_errors + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), projectID)
	if err != nil {
		return fmt.Errorf("increment stylize errors: %w", err)
	}
	return nil
}

// MarkStopped stamps the recording stop time and quota reservation flag.
func (s *Store) MarkStopped(ctx context.Context, projectID string, stoppedAt time.Time, quotaReserved bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE project_states SET recording_stopped_at = ?, quota_reserved = ?
         WHERE project_id = ?`,
		formatTime(stoppedAt), quotaReserved, projectID)
	if err != nil {
		return fmt.Errorf("mark stopped: %w", err)
	}
	return nil
}

// SetQuotaReserved toggles the reservation flag on the working state.
func (s *Store) SetQuotaReserved(ctx context.Context, projectID string, reserved bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE project_states SET quota_reserved = ? WHERE project_id = ?`,
		reserved, projectID)
	if err != nil {
		return fmt.Errorf("set quota reserved: %w", err)
	}
	return nil
}

// SetTranscript records the merged transcript on the working state.
func (s *Store) SetTranscript(ctx context.Context, projectID, transcript string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE project_states SET transcript = ? WHERE project_id = ?`,
		transcript, projectID)
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}
	return nil
}

// SetProcessingMetrics records the JSON metrics blob on the working state.
func (s *Store) SetProcessingMetrics(ctx context.Context, projectID, metricsJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE project_states SET processing_metrics = ? WHERE project_id = ?`,
		metricsJSON, projectID)
	if err != nil {
		return fmt.Errorf("set processing metrics: %w", err)
	}
	return nil
}

// SnapshotCounts fixes segments_total and photos_total at pipeline start.
func (s *Store) SnapshotCounts(ctx context.Context, projectID string) (segments, photos int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM segments WHERE project_id = ?`, projectID).Scan(&segments); err != nil {
			return fmt.Errorf("count segments: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM photos WHERE project_id = ?`, projectID).Scan(&photos); err != nil {
			return fmt.Errorf("count photos: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE project_states SET segments_total = ?, segments_done = 0,
                photos_total = ?, photos_done = 0
             WHERE project_id = ?`,
			segments, photos, projectID)
		if err != nil {
			return fmt.Errorf("snapshot counts: %w", err)
		}
		return nil
	})
	return segments, photos, err
}

// IncrementSegmentsDone bumps the per-project transcription counter and
// returns the updated done/total pair atomically.
func (s *Store) IncrementSegmentsDone(ctx context.Context, projectID string) (done, total int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE project_states SET segments_done = segments_done + 1 WHERE project_id = ?`,
			projectID); err != nil {
			return fmt.Errorf("increment segments done: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT segments_done, segments_total FROM project_states WHERE project_id = ?`,
			projectID).Scan(&done, &total)
	})
	return done, total, err
}

// IncrementPhotosDone bumps the per-project stylize counter and returns the
// updated done/total pair atomically.
func (s *Store) IncrementPhotosDone(ctx context.Context, projectID string) (done, total int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE project_states SET photos_done = photos_done + 1 WHERE project_id = ?`,
			projectID); err != nil {
			return fmt.Errorf("increment photos done: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT photos_done, photos_total FROM project_states WHERE project_id = ?`,
			projectID).Scan(&done, &total)
	})
	return done, total, err
}

// DeleteProject removes a project and all dependent rows. Consumed quota is
// not refunded.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: project %s", services.ErrNotFound, projectID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		project      Project
		createdAt    string
		updatedAt    string
		expiresAt    string
		jobID        sql.NullString
		outputFile   sql.NullString
		fallbackFile sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(
		&project.ID,
		&project.UserID,
		&project.Title,
		&project.Status,
		&createdAt,
		&updatedAt,
		&expiresAt,
		&jobID,
		&outputFile,
		&fallbackFile,
		&errorMessage,
		&project.StylizeErrors,
	)
	if err != nil {
		return nil, err
	}
	project.CreatedAt = parseTime(createdAt)
	project.UpdatedAt = parseTime(updatedAt)
	project.ExpiresAt = parseTime(expiresAt)
	project.JobID = stringOrEmpty(jobID)
	project.OutputFile = stringOrEmpty(outputFile)
	project.FallbackFile = stringOrEmpty(fallbackFile)
	project.ErrorMessage = stringOrEmpty(errorMessage)
	return &project, nil
}

func scanProjectState(row rowScanner) (*ProjectState, error) {
	var (
		state     ProjectState
		startedAt sql.NullString
		stoppedAt sql.NullString
		metrics   sql.NullString
		script    sql.NullString
	)
	err := row.Scan(
		&state.ProjectID,
		&state.ParticipantName,
		&state.StylizePhotos,
		&startedAt,
		&stoppedAt,
		&state.RecordingLimitSeconds,
		&state.IngestDurationMS,
		&state.IngestBytesTotal,
		&state.LastSeq,
		&state.SegmentsTotal,
		&state.SegmentsDone,
		&state.PhotosTotal,
		&state.PhotosDone,
		&metrics,
		&script,
		&state.QuotaReserved,
	)
	if err != nil {
		return nil, err
	}
	state.RecordingStartedAt = timeOrZero(startedAt)
	state.RecordingStoppedAt = timeOrZero(stoppedAt)
	state.ProcessingMetrics = stringOrEmpty(metrics)
	state.Transcript = stringOrEmpty(script)
	return &state, nil
}
