package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"relato/internal/blobstore"
	"relato/internal/logging"
	"relato/internal/store"
)

// stylizeHandler reworks one photo through the image model. Failures never
// abort the project: the photo keeps its original image and the project's
// stylize error count grows by one.
type stylizeHandler struct {
	store  *store.Store
	blobs  blobstore.Store
	client Stylizer
	queue  *Queue
	logger *slog.Logger
}

func newStylizeHandler(st *store.Store, blobs blobstore.Store, client Stylizer, queue *Queue, logger *slog.Logger) *stylizeHandler {
	return &stylizeHandler{
		store:  st,
		blobs:  blobs,
		client: client,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, "stylize"),
	}
}

func (h *stylizeHandler) Stage() Stage { return StageStylize }

func stylizedName(photoID string) string {
	return path.Join("photos", photoID+"_stylized.png")
}

func (h *stylizeHandler) Execute(ctx context.Context, job *store.Job) error {
	var payload stylizePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("decode stylize payload: %w", err)
	}

	if !h.client.Enabled() {
		// No stylizer configured; the photo keeps its original image.
		return h.queue.advanceAfterStylize(ctx, job.ProjectID)
	}

	photo, err := h.store.GetPhoto(ctx, job.ProjectID, payload.PhotoID)
	if err != nil {
		return err
	}
	if photo.StylizedPath != "" {
		return h.queue.advanceAfterStylize(ctx, job.ProjectID)
	}

	project, err := h.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	if err := h.store.Reserve(ctx, project.UserID, store.QuotaStylize); err != nil {
		return err
	}

	original, err := h.blobs.Get(ctx, job.ProjectID, photo.OriginalPath)
	if err != nil {
		releaseQuietly(ctx, h.store, h.logger, project.UserID)
		return fmt.Errorf("load original photo: %w", err)
	}

	stylized, err := h.client.Stylize(ctx, photo.OriginalPath, original)
	if err != nil {
		releaseQuietly(ctx, h.store, h.logger, project.UserID)
		return err
	}

	name := stylizedName(photo.PhotoID)
	if err := h.blobs.Put(ctx, job.ProjectID, name, stylized); err != nil {
		releaseQuietly(ctx, h.store, h.logger, project.UserID)
		return fmt.Errorf("store stylized photo: %w", err)
	}
	if err := h.store.SetPhotoStylized(ctx, job.ProjectID, photo.PhotoID, name); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "photo stylized",
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("photo_id", photo.PhotoID))

	return h.queue.advanceAfterStylize(ctx, job.ProjectID)
}

func (h *stylizeHandler) OnExhausted(ctx context.Context, job *store.Job, cause error) {
	var payload stylizePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		h.logger.ErrorContext(ctx, "decode exhausted stylize payload",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}

	h.logger.WarnContext(ctx, "photo stylization failed, keeping original image",
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("photo_id", payload.PhotoID),
		logging.Error(cause))

	if err := h.store.IncrementStylizeErrors(ctx, job.ProjectID); err != nil {
		h.logger.ErrorContext(ctx, "count stylize error",
			logging.String(logging.FieldProjectID, job.ProjectID), logging.Error(err))
	}
	if err := h.queue.advanceAfterStylize(ctx, job.ProjectID); err != nil {
		h.logger.ErrorContext(ctx, "advance after failed stylize",
			logging.String(logging.FieldProjectID, job.ProjectID), logging.Error(err))
	}
}

// releaseQuietly compensates a stylize reservation whose attempt failed; a
// retry will reserve again.
func releaseQuietly(ctx context.Context, st *store.Store, logger *slog.Logger, userID string) {
	if err := st.Release(ctx, userID, store.QuotaStylize); err != nil {
		logger.ErrorContext(ctx, "release stylize quota",
			logging.String(logging.FieldUserID, userID), logging.Error(err))
	}
}
