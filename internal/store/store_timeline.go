package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relato/internal/services"
)

// checkRecording verifies inside the transaction that the project still
// accepts ingest appends.
func checkRecording(ctx context.Context, tx *sql.Tx, projectID string) error {
	var (
		status    Status
		expiresAt string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT status, expires_at FROM projects WHERE id = ?`, projectID).
		Scan(&status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: project %s", services.ErrNotFound, projectID)
	}
	if err != nil {
		return fmt.Errorf("check project status: %w", err)
	}
	if expiry := parseTime(expiresAt); !expiry.IsZero() && !time.Now().UTC().Before(expiry) {
		return fmt.Errorf("%w: project %s", services.ErrExpired, projectID)
	}
	if status != StatusRecording {
		return fmt.Errorf("%w: project %s is %s", services.ErrReadOnly, projectID, status)
	}
	return nil
}

// AppendSegment records one audio window awaiting transcription. Duplicate
// segment ids fail with Conflict.
func (s *Store) AppendSegment(ctx context.Context, seg Segment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRecording(ctx, tx, seg.ProjectID); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM segments WHERE project_id = ? AND segment_id = ?`,
			seg.ProjectID, seg.SegmentID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check segment: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: segment %s already recorded for project %s",
				services.ErrConflict, seg.SegmentID, seg.ProjectID)
		}

		status := seg.Status
		if status == "" {
			status = SegmentPending
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO segments (project_id, segment_id, start_ms, end_ms, storage_path, status, text)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seg.ProjectID, seg.SegmentID, seg.StartMS, seg.EndMS, seg.StoragePath, status, seg.Text)
		if err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
		return nil
	})
}

// AppendPhoto records one timestamped capture. Duplicate photo ids fail with
// Conflict.
func (s *Store) AppendPhoto(ctx context.Context, photo Photo) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRecording(ctx, tx, photo.ProjectID); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM photos WHERE project_id = ? AND photo_id = ?`,
			photo.ProjectID, photo.PhotoID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check photo: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: photo %s already recorded for project %s",
				services.ErrConflict, photo.PhotoID, photo.ProjectID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO photos (project_id, photo_id, t_ms, original_path, created_at)
             VALUES (?, ?, ?, ?, ?)`,
			photo.ProjectID, photo.PhotoID, photo.TMS, photo.OriginalPath,
			formatTime(time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("insert photo: %w", err)
		}
		return nil
	})
}

// AppendIngestChunk records one sequence-numbered upload. Resubmitting the
// latest accepted seq is an idempotent no-op (a network retry of the chunk
// just acknowledged); any older seq fails with OutOfOrder. Accepted chunks
// advance last_seq and the running duration and byte totals.
func (s *Store) AppendIngestChunk(ctx context.Context, chunk IngestChunk) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRecording(ctx, tx, chunk.ProjectID); err != nil {
			return err
		}

		var lastSeq int64
		err := tx.QueryRowContext(ctx,
			`SELECT last_seq FROM project_states WHERE project_id = ?`,
			chunk.ProjectID).Scan(&lastSeq)
		if err != nil {
			return fmt.Errorf("read last seq: %w", err)
		}
		if chunk.Seq == lastSeq {
			// Network retry of the chunk just accepted. Success, nothing
			// recorded.
			return nil
		}
		if chunk.Seq < lastSeq {
			return fmt.Errorf("%w: seq %d is not above last accepted seq %d",
				services.ErrOutOfOrder, chunk.Seq, lastSeq)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ingest_chunks (project_id, seq, start_ms, duration_ms, size_bytes, backend, storage_path, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chunk.ProjectID, chunk.Seq, chunk.StartMS, chunk.DurationMS,
			chunk.SizeBytes, chunk.Backend, chunk.StoragePath,
			formatTime(time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE project_states SET last_seq = ?,
                ingest_duration_ms = ingest_duration_ms + ?,
                ingest_bytes_total = ingest_bytes_total + ?
             WHERE project_id = ?`,
			chunk.Seq, chunk.DurationMS, chunk.SizeBytes, chunk.ProjectID)
		if err != nil {
			return fmt.Errorf("advance ingest counters: %w", err)
		}
		return nil
	})
}

// SegmentsOrdered returns a project's segments ordered by start_ms ascending.
func (s *Store) SegmentsOrdered(ctx context.Context, projectID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, segment_id, start_ms, end_ms, storage_path, status, text, transcription_ms
         FROM segments WHERE project_id = ? ORDER BY start_ms ASC, segment_id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ProjectID, &seg.SegmentID, &seg.StartMS, &seg.EndMS,
			&seg.StoragePath, &seg.Status, &seg.Text, &seg.TranscriptionMS); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// PhotosOrdered returns a project's photos ordered by capture time ascending.
func (s *Store) PhotosOrdered(ctx context.Context, projectID string) ([]Photo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, photo_id, t_ms, original_path, stylized_path, created_at
         FROM photos WHERE project_id = ? ORDER BY t_ms ASC, photo_id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var (
			photo     Photo
			stylized  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&photo.ProjectID, &photo.PhotoID, &photo.TMS,
			&photo.OriginalPath, &stylized, &createdAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photo.StylizedPath = stringOrEmpty(stylized)
		photo.CreatedAt = parseTime(createdAt)
		photos = append(photos, photo)
	}
	return photos, rows.Err()
}

// GetPhoto fetches one photo by id.
func (s *Store) GetPhoto(ctx context.Context, projectID, photoID string) (*Photo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, photo_id, t_ms, original_path, stylized_path, created_at
         FROM photos WHERE project_id = ? AND photo_id = ?`, projectID, photoID)
	var (
		photo     Photo
		stylized  sql.NullString
		createdAt string
	)
	err := row.Scan(&photo.ProjectID, &photo.PhotoID, &photo.TMS,
		&photo.OriginalPath, &stylized, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: photo %s in project %s", services.ErrNotFound, photoID, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	photo.StylizedPath = stringOrEmpty(stylized)
	photo.CreatedAt = parseTime(createdAt)
	return &photo, nil
}

// GetSegment fetches one segment by id.
func (s *Store) GetSegment(ctx context.Context, projectID, segmentID string) (*Segment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, segment_id, start_ms, end_ms, storage_path, status, text, transcription_ms
         FROM segments WHERE project_id = ? AND segment_id = ?`, projectID, segmentID)
	var seg Segment
	err := row.Scan(&seg.ProjectID, &seg.SegmentID, &seg.StartMS, &seg.EndMS,
		&seg.StoragePath, &seg.Status, &seg.Text, &seg.TranscriptionMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: segment %s in project %s", services.ErrNotFound, segmentID, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &seg, nil
}

// SetSegmentResult records the transcription outcome for one segment.
func (s *Store) SetSegmentResult(ctx context.Context, projectID, segmentID string, status SegmentStatus, text string, took time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE segments SET status = ?, text = ?, transcription_ms = ?
         WHERE project_id = ? AND segment_id = ?`,
		status, text, took.Milliseconds(), projectID, segmentID)
	if err != nil {
		return fmt.Errorf("set segment result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set segment result rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: segment %s in project %s", services.ErrNotFound, segmentID, projectID)
	}
	return nil
}

// SetPhotoStylized records the stylized asset path for one photo. The path
// is written at most once.
func (s *Store) SetPhotoStylized(ctx context.Context, projectID, photoID, stylizedPath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE photos SET stylized_path = ?
         WHERE project_id = ? AND photo_id = ? AND stylized_path IS NULL`,
		stylizedPath, projectID, photoID)
	if err != nil {
		return fmt.Errorf("set photo stylized: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set photo stylized rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: photo %s in project %s already stylized or missing",
			services.ErrConflict, photoID, projectID)
	}
	return nil
}

// ChunkCount returns the number of accepted ingest chunks for a project.
func (s *Store) ChunkCount(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ingest_chunks WHERE project_id = ?`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
