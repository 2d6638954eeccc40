package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"relato/internal/config"
	"relato/internal/logging"
	"relato/internal/services"
	"relato/internal/store"
)

// Queue writes persisted job handles and drives the stage gating that fans
// work out and back in. It is shared by the manager and the stage handlers.
type Queue struct {
	store  *store.Store
	cfg    config.Pipeline
	logger *slog.Logger
}

// NewQueue builds the job queue over the store.
func NewQueue(st *store.Store, cfg config.Pipeline, logger *slog.Logger) *Queue {
	return &Queue{
		store:  st,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Enqueue persists a pending job for a stage with the stage's timeout and
// the configured retry budget.
func (q *Queue) Enqueue(ctx context.Context, stage Stage, projectID string, payload any) (*store.Job, error) {
	if _, err := ParseStage(string(stage)); err != nil {
		return nil, err
	}

	encoded := "{}"
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode job payload: %w", err)
		}
		encoded = string(data)
	}

	job, err := q.store.InsertJob(ctx, store.Job{
		ProjectID:      projectID,
		Stage:          string(stage),
		Payload:        encoded,
		MaxAttempts:    q.maxAttempts(),
		TimeoutSeconds: q.timeoutSeconds(stage),
	})
	if err != nil {
		return nil, err
	}

	q.logger.InfoContext(ctx, "job enqueued",
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldStage, string(stage)),
		logging.String(logging.FieldJobID, job.ID))
	return job, nil
}

// EnqueuePrepare starts a project's pipeline run and records the job handle
// on the project.
func (q *Queue) EnqueuePrepare(ctx context.Context, projectID string) (*store.Job, error) {
	job, err := q.Enqueue(ctx, StagePrepare, projectID, nil)
	if err != nil {
		return nil, err
	}
	if err := q.store.SetJobID(ctx, projectID, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// Retry moves a failed project back into the queue and starts a fresh
// pipeline run. Only projects in the error state qualify. The aborted run
// returned its script reservation, so a retry charges the quota again like a
// fresh stop would; a reservation still held is reused.
func (q *Queue) Retry(ctx context.Context, projectID string) (*store.Job, error) {
	project, err := q.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	state, err := q.store.GetProjectState(ctx, projectID)
	if err != nil {
		return nil, err
	}

	reserved := false
	if !state.QuotaReserved {
		if err := q.store.Reserve(ctx, project.UserID, store.QuotaScript); err != nil {
			return nil, err
		}
		reserved = true
	}

	if err := q.store.Transition(ctx, projectID, store.StatusError, store.StatusQueued); err != nil {
		if reserved {
			if relErr := q.store.Release(ctx, project.UserID, store.QuotaScript); relErr != nil {
				q.logger.ErrorContext(ctx, "release script quota after failed retry",
					logging.String(logging.FieldProjectID, projectID),
					logging.Error(relErr))
			}
		}
		return nil, err
	}
	if reserved {
		if err := q.store.SetQuotaReserved(ctx, projectID, true); err != nil {
			return nil, err
		}
	}
	if err := q.store.ClearProjectError(ctx, projectID); err != nil {
		return nil, err
	}
	return q.EnqueuePrepare(ctx, projectID)
}

func (q *Queue) maxAttempts() int {
	if q.cfg.MaxAttempts > 0 {
		return q.cfg.MaxAttempts
	}
	return 3
}

func (q *Queue) timeoutSeconds(stage Stage) int {
	var seconds int
	switch stage {
	case StagePrepare:
		seconds = q.cfg.PrepareTimeoutSeconds
	case StageTranscribe:
		seconds = q.cfg.TranscribeTimeoutSeconds
	case StageStylize:
		seconds = q.cfg.StylizeTimeoutSeconds
	case StageFinalize:
		seconds = q.cfg.FinalizeTimeoutSeconds
	}
	if seconds <= 0 {
		seconds = 300
	}
	return seconds
}

// retryDelay returns the backoff before the next attempt. Delays grow across
// retries; the last configured delay repeats if attempts exceed the list.
func (q *Queue) retryDelay(attempt int) time.Duration {
	delays := q.cfg.RetryDelaySeconds
	if len(delays) == 0 {
		delays = []int{10, 60, 180}
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		index = len(delays) - 1
	}
	return time.Duration(delays[index]) * time.Second
}

// advanceAfterTranscribe records one finished segment and fans the pipeline
// forward once every segment has been accounted for.
func (q *Queue) advanceAfterTranscribe(ctx context.Context, projectID string) error {
	done, total, err := q.store.IncrementSegmentsDone(ctx, projectID)
	if err != nil {
		return err
	}
	if done < total {
		return nil
	}
	return q.fanOutStylizeOrFinalize(ctx, projectID)
}

// advanceAfterStylize records one finished photo and enqueues finalize when
// the last one lands. The atomic increment makes the total reachable exactly
// once, so exactly one finalize job is created per run.
func (q *Queue) advanceAfterStylize(ctx context.Context, projectID string) error {
	done, total, err := q.store.IncrementPhotosDone(ctx, projectID)
	if err != nil {
		return err
	}
	if done < total {
		return nil
	}
	_, err = q.Enqueue(ctx, StageFinalize, projectID, nil)
	return err
}

// fanOutStylizeOrFinalize decides the path after transcription: one stylize
// job per photo when stylization applies, otherwise straight to finalize.
func (q *Queue) fanOutStylizeOrFinalize(ctx context.Context, projectID string) error {
	project, err := q.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	state, err := q.store.GetProjectState(ctx, projectID)
	if err != nil {
		return err
	}

	stylize := state.StylizePhotos && state.PhotosTotal > 0
	if stylize {
		user, err := q.store.GetUser(ctx, project.UserID)
		if err != nil {
			return err
		}
		stylize = user.CanStylize
	}

	if !stylize {
		_, err := q.Enqueue(ctx, StageFinalize, projectID, nil)
		return err
	}

	photos, err := q.store.PhotosOrdered(ctx, projectID)
	if err != nil {
		return err
	}
	for _, photo := range photos {
		if _, err := q.Enqueue(ctx, StageStylize, projectID, stylizePayload{PhotoID: photo.PhotoID}); err != nil {
			return err
		}
	}
	return nil
}

// failProject aborts the run: the project moves to error with the failure
// message recorded, and a still-held script reservation is returned so a
// manual re-run can reserve again.
func (q *Queue) failProject(ctx context.Context, projectID string, cause error) {
	message := services.Message(cause)
	if err := q.store.SetProjectError(ctx, projectID, message); err != nil {
		q.logger.ErrorContext(ctx, "record project error",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err))
	}

	project, err := q.store.GetProject(ctx, projectID)
	if err != nil {
		q.logger.ErrorContext(ctx, "load project after failure",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err))
		return
	}
	state, err := q.store.GetProjectState(ctx, projectID)
	if err != nil {
		q.logger.ErrorContext(ctx, "load project state after failure",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err))
		return
	}
	if state.QuotaReserved {
		if err := q.store.Release(ctx, project.UserID, store.QuotaScript); err != nil {
			q.logger.ErrorContext(ctx, "release script quota",
				logging.String(logging.FieldProjectID, projectID),
				logging.Error(err))
			return
		}
		if err := q.store.SetQuotaReserved(ctx, projectID, false); err != nil {
			q.logger.ErrorContext(ctx, "clear quota reservation",
				logging.String(logging.FieldProjectID, projectID),
				logging.Error(err))
		}
	}
}
