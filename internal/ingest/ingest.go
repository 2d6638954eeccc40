package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relato/internal/blobstore"
	"relato/internal/config"
	"relato/internal/logging"
	"relato/internal/services"
	"relato/internal/store"
)

// Enqueuer starts a project's pipeline run. Satisfied by pipeline.Queue.
type Enqueuer interface {
	EnqueuePrepare(ctx context.Context, projectID string) (*store.Job, error)
}

// Service is the ingest entry point for one daemon instance.
type Service struct {
	store  *store.Store
	blobs  blobstore.Store
	queue  Enqueuer
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds the ingest service.
func New(st *store.Store, blobs blobstore.Store, queue Enqueuer, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		blobs:  blobs,
		queue:  queue,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "ingest"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// projectLock returns the mutex serializing one project's mutations.
func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

func (s *Service) dropLock(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, projectID)
}

// StartParams describes a new recording session.
type StartParams struct {
	UserID          string
	Title           string
	ParticipantName string
	StylizePhotos   bool
}

// StartProject opens a recording session for an existing user.
func (s *Service) StartProject(ctx context.Context, params StartParams) (*store.Project, error) {
	if _, err := s.store.GetUser(ctx, params.UserID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = "Guion"
	}

	project, err := s.store.CreateProject(ctx, store.NewProjectParams{
		UserID:                params.UserID,
		Title:                 title,
		ParticipantName:       strings.TrimSpace(params.ParticipantName),
		StylizePhotos:         params.StylizePhotos,
		TTL:                   time.Duration(s.cfg.Retention.ProjectTTLHours) * time.Hour,
		RecordingLimitSeconds: s.cfg.Quotas.RecordingLimitSeconds,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, params.UserID, "project.start", project.ID, map[string]any{"title": title})
	s.logger.InfoContext(ctx, "recording started",
		logging.String(logging.FieldProjectID, project.ID),
		logging.String(logging.FieldUserID, params.UserID))
	return project, nil
}

// ChunkParams describes one uploaded audio chunk.
type ChunkParams struct {
	ProjectID  string
	Seq        int64
	StartMS    int64
	DurationMS int64
	Audio      []byte
}

// AppendChunk stores one audio chunk and its pending segment. Resubmitting
// an accepted seq is a no-op; stale sequence numbers fail with OutOfOrder.
// Exceeding the recording limit fails with QuotaExceeded.
func (s *Service) AppendChunk(ctx context.Context, params ChunkParams) error {
	lock := s.projectLock(params.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.store.GetProjectState(ctx, params.ProjectID)
	if err != nil {
		return err
	}
	if limit := int64(state.RecordingLimitSeconds); limit > 0 {
		if (state.IngestDurationMS+params.DurationMS)/1000 > limit {
			return fmt.Errorf("%w: recording limit of %d seconds reached for project %s",
				services.ErrQuotaExceeded, limit, params.ProjectID)
		}
	}

	name := chunkName(params.Seq)
	if err := s.blobs.Put(ctx, params.ProjectID, name, params.Audio); err != nil {
		return fmt.Errorf("store chunk audio: %w", err)
	}

	if err := s.store.AppendIngestChunk(ctx, store.IngestChunk{
		ProjectID:   params.ProjectID,
		Seq:         params.Seq,
		StartMS:     params.StartMS,
		DurationMS:  params.DurationMS,
		SizeBytes:   int64(len(params.Audio)),
		Backend:     s.blobs.Backend(),
		StoragePath: name,
	}); err != nil {
		return err
	}

	err = s.store.AppendSegment(ctx, store.Segment{
		ProjectID:   params.ProjectID,
		SegmentID:   segmentName(params.Seq),
		StartMS:     params.StartMS,
		EndMS:       params.StartMS + params.DurationMS,
		StoragePath: name,
	})
	if err != nil && !errors.Is(err, services.ErrConflict) {
		// Conflict here means a duplicate chunk resubmission whose segment
		// already exists; anything else is real.
		return err
	}
	return nil
}

// PhotoParams describes one uploaded photo.
type PhotoParams struct {
	ProjectID string
	PhotoID   string
	TMS       int64
	Image     []byte
	Extension string
}

// AppendPhoto stores one capture. An empty PhotoID gets a generated one;
// duplicates fail with Conflict.
func (s *Service) AppendPhoto(ctx context.Context, params PhotoParams) (string, error) {
	lock := s.projectLock(params.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	photoID := params.PhotoID
	if photoID == "" {
		photoID = uuid.NewString()
	}
	ext := params.Extension
	if ext == "" {
		ext = ".jpg"
	}
	name := path.Join("photos", photoID+ext)

	if err := s.blobs.Put(ctx, params.ProjectID, name, params.Image); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}

	if err := s.store.AppendPhoto(ctx, store.Photo{
		ProjectID:    params.ProjectID,
		PhotoID:      photoID,
		TMS:          params.TMS,
		OriginalPath: name,
	}); err != nil {
		return "", err
	}
	return photoID, nil
}

// StopProject closes the recording and hands the project to the pipeline.
// The script quota reservation happens here: a rejected reservation leaves
// the project recording so the caller can retry or delete.
func (s *Service) StopProject(ctx context.Context, projectID string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if status := project.EffectiveStatus(now); status != store.StatusRecording {
		return fmt.Errorf("%w: project %s is %s, already stopped",
			services.ErrReadOnly, projectID, status)
	}

	state, err := s.store.GetProjectState(ctx, projectID)
	if err != nil {
		return err
	}
	if !state.QuotaReserved {
		if err := s.store.Reserve(ctx, project.UserID, store.QuotaScript); err != nil {
			return err
		}
	}

	if err := s.store.MarkStopped(ctx, projectID, now, true); err != nil {
		return err
	}
	if err := s.store.Transition(ctx, projectID, store.StatusRecording, store.StatusQueued); err != nil {
		return err
	}
	if _, err := s.queue.EnqueuePrepare(ctx, projectID); err != nil {
		return err
	}

	s.audit(ctx, project.UserID, "project.stop", projectID, map[string]any{
		"ingest_duration_ms": state.IngestDurationMS,
		"chunks":             state.LastSeq + 1,
	})
	s.logger.InfoContext(ctx, "recording stopped",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64("ingest_duration_ms", state.IngestDurationMS))
	return nil
}

// DeleteProject removes a project, its rows, and its blobs. Permitted from
// any state; consumed quota is not refunded.
func (s *Service) DeleteProject(ctx context.Context, projectID, actor string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	if err := s.blobs.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.dropLock(projectID)

	s.audit(ctx, actor, "project.delete", projectID, map[string]any{
		"status": string(project.Status),
	})
	s.logger.InfoContext(ctx, "project deleted",
		logging.String(logging.FieldProjectID, projectID))
	return nil
}

func (s *Service) audit(ctx context.Context, actor, action, target string, details map[string]any) {
	encoded := "{}"
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			encoded = string(data)
		}
	}
	if err := s.store.RecordAudit(ctx, store.AuditEvent{
		Actor:   actor,
		Action:  action,
		Target:  target,
		Details: encoded,
	}); err != nil {
		s.logger.ErrorContext(ctx, "record audit event",
			logging.String("action", action), logging.Error(err))
	}
}

func chunkName(seq int64) string {
	return fmt.Sprintf("chunks/%06d.wav", seq)
}

func segmentName(seq int64) string {
	return fmt.Sprintf("seg-%06d", seq)
}
