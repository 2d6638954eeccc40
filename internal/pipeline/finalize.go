package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relato/internal/blobstore"
	"relato/internal/logging"
	"relato/internal/markers"
	"relato/internal/services"
	"relato/internal/store"
)

const (
	scriptFileName     = "script.md"
	transcriptFileName = "transcript_raw.txt"
)

// finalizeHandler merges the timeline through the marker protocol, runs the
// script generator, and writes the artifacts. Its failures abort the project
// into the error state; there is no automatic retry at this stage, a re-run
// takes operator or user intervention.
type finalizeHandler struct {
	store   *store.Store
	blobs   blobstore.Store
	scripts ScriptGenerator
	queue   *Queue
	logger  *slog.Logger
}

func newFinalizeHandler(st *store.Store, blobs blobstore.Store, scripts ScriptGenerator, queue *Queue, logger *slog.Logger) *finalizeHandler {
	return &finalizeHandler{
		store:   st,
		blobs:   blobs,
		scripts: scripts,
		queue:   queue,
		logger:  logging.NewComponentLogger(logger, "finalize"),
	}
}

func (h *finalizeHandler) Stage() Stage { return StageFinalize }

type processingMetrics struct {
	ChunksTotal     int             `json:"chunks_total"`
	ChunksProcessed int             `json:"chunks_processed"`
	PhotosTotal     int             `json:"photos_total"`
	PhotosProcessed int             `json:"photos_processed"`
	LLMTimeMS       int64           `json:"llm_time_ms"`
	TotalTimeMS     int64           `json:"total_time_ms"`
	Transcription   []segmentMetric `json:"transcription_metrics"`
}

type segmentMetric struct {
	SegmentID       string `json:"segment_id"`
	Status          string `json:"status"`
	TranscriptionMS int64  `json:"transcription_ms"`
}

func (h *finalizeHandler) Execute(ctx context.Context, job *store.Job) error {
	started := time.Now()

	project, err := h.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project.Status != store.StatusProcessing {
		return fmt.Errorf("%w: project %s is %s, expected %s",
			services.ErrConflict, project.ID, project.Status, store.StatusProcessing)
	}
	state, err := h.store.GetProjectState(ctx, project.ID)
	if err != nil {
		return err
	}

	segments, err := h.store.SegmentsOrdered(ctx, project.ID)
	if err != nil {
		return err
	}
	photos, err := h.store.PhotosOrdered(ctx, project.ID)
	if err != nil {
		return err
	}

	var plainParts []string
	mergeSegments := make([]markers.Segment, 0, len(segments))
	for _, segment := range segments {
		mergeSegments = append(mergeSegments, markers.Segment{
			Text:  segment.Text,
			EndMS: segment.EndMS,
		})
		if text := strings.TrimSpace(segment.Text); text != "" {
			plainParts = append(plainParts, text)
		}
	}
	transcript := strings.Join(plainParts, " ")
	if transcript == "" {
		return services.Wrap(services.ErrValidation, "finalize", "merge",
			"no transcribed text to generate from", nil)
	}

	mergePhotos := make([]markers.Photo, 0, len(photos))
	for _, photo := range photos {
		mergePhotos = append(mergePhotos, markers.Photo{
			ID:           photo.PhotoID,
			TMS:          photo.TMS,
			OriginalPath: photo.OriginalPath,
			StylizedPath: photo.StylizedPath,
		})
	}

	marked := markers.Place(mergeSegments, mergePhotos)

	// Fallback artifact goes out before generation so a failed run still
	// leaves the raw transcript downloadable.
	if err := h.blobs.Put(ctx, project.ID, transcriptFileName, []byte(marked)); err != nil {
		return fmt.Errorf("write fallback transcript: %w", err)
	}
	if err := h.store.SetArtifacts(ctx, project.ID, "", transcriptFileName); err != nil {
		return err
	}

	tokenMap := markers.NewTokenMap(mergePhotos)
	tokenized := tokenMap.Tokenize(marked)

	llmStart := time.Now()
	script, err := h.scripts.GenerateScript(ctx, tokenized, state.ParticipantName)
	if err != nil {
		return err
	}
	llmTime := time.Since(llmStart)

	if err := tokenMap.Validate(script); err != nil {
		return err
	}
	rehydrated := tokenMap.Rehydrate(script)
	final := markers.ReplaceWithImages(rehydrated, mergePhotos)

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s\n\n", project.Title)
	fmt.Fprintf(&doc, "**Participante:** %s\n\n", participantOrDefault(state.ParticipantName))
	doc.WriteString("---\n\n")
	doc.WriteString(final)
	doc.WriteString("\n")

	if err := h.blobs.Put(ctx, project.ID, scriptFileName, []byte(doc.String())); err != nil {
		return fmt.Errorf("write script artifact: %w", err)
	}
	if err := h.store.SetArtifacts(ctx, project.ID, scriptFileName, transcriptFileName); err != nil {
		return err
	}
	if err := h.store.SetTranscript(ctx, project.ID, transcript); err != nil {
		return err
	}

	metrics := buildMetrics(segments, photos, llmTime, time.Since(started))
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode processing metrics: %w", err)
	}
	if err := h.store.SetProcessingMetrics(ctx, project.ID, string(encoded)); err != nil {
		return err
	}

	if err := h.store.Transition(ctx, project.ID, store.StatusProcessing, store.StatusDone); err != nil {
		return err
	}

	// The script reservation is consumed; metered recording usage lands now.
	if err := h.store.SetQuotaReserved(ctx, project.ID, false); err != nil {
		return err
	}
	if seconds := state.IngestDurationMS / 1000; seconds > 0 {
		if err := h.store.ConsumeRecordingSeconds(ctx, project.UserID, seconds); err != nil {
			h.logger.ErrorContext(ctx, "consume recording seconds",
				logging.String(logging.FieldProjectID, project.ID),
				logging.Error(err))
		}
	}

	h.logger.InfoContext(ctx, "project finalized",
		logging.String(logging.FieldProjectID, project.ID),
		logging.Int("photos", len(photos)),
		logging.Duration("llm_time", llmTime))
	return nil
}

func (h *finalizeHandler) OnExhausted(ctx context.Context, job *store.Job, cause error) {
	h.logger.ErrorContext(ctx, "finalize failed",
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.Error(cause))
	h.queue.failProject(ctx, job.ProjectID, cause)
}

func participantOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return "ACTOR"
	}
	return name
}

func buildMetrics(segments []store.Segment, photos []store.Photo, llmTime, total time.Duration) processingMetrics {
	metrics := processingMetrics{
		ChunksTotal: len(segments),
		PhotosTotal: len(photos),
		LLMTimeMS:   llmTime.Milliseconds(),
		TotalTimeMS: total.Milliseconds(),
	}
	for _, segment := range segments {
		if segment.Status == store.SegmentDone {
			metrics.ChunksProcessed++
		}
		metrics.Transcription = append(metrics.Transcription, segmentMetric{
			SegmentID:       segment.SegmentID,
			Status:          string(segment.Status),
			TranscriptionMS: segment.TranscriptionMS,
		})
	}
	for _, photo := range photos {
		if photo.StylizedPath != "" {
			metrics.PhotosProcessed++
		}
	}
	return metrics
}
