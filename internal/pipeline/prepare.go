package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"relato/internal/logging"
	"relato/internal/services"
	"relato/internal/store"
)

// prepareHandler validates a queued project, snapshots its workload, and
// fans out the transcription jobs.
type prepareHandler struct {
	store  *store.Store
	queue  *Queue
	logger *slog.Logger
}

func newPrepareHandler(st *store.Store, queue *Queue, logger *slog.Logger) *prepareHandler {
	return &prepareHandler{
		store:  st,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, "prepare"),
	}
}

func (h *prepareHandler) Stage() Stage { return StagePrepare }

func (h *prepareHandler) Execute(ctx context.Context, job *store.Job) error {
	project, err := h.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project.Status != store.StatusQueued {
		return fmt.Errorf("%w: project %s is %s, expected %s",
			services.ErrConflict, project.ID, project.Status, store.StatusQueued)
	}

	segments, photos, err := h.store.SnapshotCounts(ctx, project.ID)
	if err != nil {
		return err
	}

	if err := h.store.Transition(ctx, project.ID, store.StatusQueued, store.StatusProcessing); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "pipeline started",
		logging.String(logging.FieldProjectID, project.ID),
		logging.Int("segments", segments),
		logging.Int("photos", photos))

	if segments == 0 {
		return h.queue.fanOutStylizeOrFinalize(ctx, project.ID)
	}

	ordered, err := h.store.SegmentsOrdered(ctx, project.ID)
	if err != nil {
		return err
	}
	for _, segment := range ordered {
		_, err := h.queue.Enqueue(ctx, StageTranscribe, project.ID,
			transcribePayload{SegmentID: segment.SegmentID})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *prepareHandler) OnExhausted(ctx context.Context, job *store.Job, cause error) {
	h.logger.ErrorContext(ctx, "prepare failed",
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.Error(cause))
	h.queue.failProject(ctx, job.ProjectID, cause)
}
