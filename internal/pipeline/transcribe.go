package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"relato/internal/blobstore"
	"relato/internal/logging"
	"relato/internal/store"
)

// transcribeHandler converts one segment's audio to text. A segment that
// exhausts its retries is marked failed with empty text and the pipeline
// proceeds; a partial transcript beats an aborted project.
type transcribeHandler struct {
	store  *store.Store
	blobs  blobstore.Store
	client Transcriber
	queue  *Queue
	logger *slog.Logger
}

func newTranscribeHandler(st *store.Store, blobs blobstore.Store, client Transcriber, queue *Queue, logger *slog.Logger) *transcribeHandler {
	return &transcribeHandler{
		store:  st,
		blobs:  blobs,
		client: client,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, "transcribe"),
	}
}

func (h *transcribeHandler) Stage() Stage { return StageTranscribe }

func (h *transcribeHandler) Execute(ctx context.Context, job *store.Job) error {
	var payload transcribePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("decode transcribe payload: %w", err)
	}

	segment, err := h.store.GetSegment(ctx, job.ProjectID, payload.SegmentID)
	if err != nil {
		return err
	}
	if segment.Status == store.SegmentDone {
		// Re-delivered job after a partial run. The result is already in.
		return h.queue.advanceAfterTranscribe(ctx, job.ProjectID)
	}

	audio, err := h.blobs.Get(ctx, job.ProjectID, segment.StoragePath)
	if err != nil {
		return fmt.Errorf("load segment audio: %w", err)
	}

	started := time.Now()
	text, err := h.client.Transcribe(ctx, segment.StoragePath, audio)
	if err != nil {
		return err
	}
	took := time.Since(started)

	if err := h.store.SetSegmentResult(ctx, job.ProjectID, segment.SegmentID,
		store.SegmentDone, text, took); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "segment transcribed",
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("segment_id", segment.SegmentID),
		logging.Duration("took", took))

	return h.queue.advanceAfterTranscribe(ctx, job.ProjectID)
}

func (h *transcribeHandler) OnExhausted(ctx context.Context, job *store.Job, cause error) {
	var payload transcribePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		h.logger.ErrorContext(ctx, "decode exhausted transcribe payload",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}

	h.logger.WarnContext(ctx, "segment transcription failed, continuing with empty text",
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("segment_id", payload.SegmentID),
		logging.Error(cause))

	if err := h.store.SetSegmentResult(ctx, job.ProjectID, payload.SegmentID,
		store.SegmentFailed, "", 0); err != nil {
		h.logger.ErrorContext(ctx, "mark segment failed",
			logging.String("segment_id", payload.SegmentID), logging.Error(err))
	}
	if err := h.queue.advanceAfterTranscribe(ctx, job.ProjectID); err != nil {
		h.logger.ErrorContext(ctx, "advance after failed segment",
			logging.String(logging.FieldProjectID, job.ProjectID), logging.Error(err))
	}
}
