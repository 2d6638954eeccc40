package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"relato/internal/blobstore"
	"relato/internal/config"
	"relato/internal/ingest"
	"relato/internal/logging"
	"relato/internal/pipeline"
	"relato/internal/services"
	"relato/internal/store"
	"relato/internal/testsupport"
)

type fakeScripts struct {
	fn func(ctx context.Context, transcript, participantName string) (string, error)
}

func (f *fakeScripts) GenerateScript(ctx context.Context, transcript, participantName string) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, transcript, participantName)
	}
	// Echoing the input preserves every positional token.
	return transcript, nil
}

type fakeTranscriber struct {
	fn func(filename string) (string, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if f.fn != nil {
		return f.fn(filename)
	}
	return "texto de " + filename, nil
}

type fakeStylizer struct {
	disabled bool
	fn       func(filename string) ([]byte, error)
}

func (f *fakeStylizer) Enabled() bool { return !f.disabled }

func (f *fakeStylizer) Stylize(ctx context.Context, filename string, image []byte) ([]byte, error) {
	if f.fn != nil {
		return f.fn(filename)
	}
	return []byte("stylized:" + filename), nil
}

type harness struct {
	cfg     *config.Config
	store   *store.Store
	blobs   blobstore.Store
	manager *pipeline.Manager
	ingest  *ingest.Service
}

func newHarness(t *testing.T, clients pipeline.Clients) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blobs, err := blobstore.New(cfg)
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}

	logger := logging.NewNop()
	manager := pipeline.NewManager(st, blobs, clients, cfg.Pipeline, logger)
	svc := ingest.New(st, blobs, manager.Queue(), cfg, logger)

	return &harness{cfg: cfg, store: st, blobs: blobs, manager: manager, ingest: svc}
}

// recordSession drives a full recording: chunks chunks, photos photos placed
// one second apart, then stop. Returns the project.
func (h *harness) recordSession(t *testing.T, userID string, chunks, photos int) *store.Project {
	t.Helper()
	ctx := context.Background()

	project, err := h.ingest.StartProject(ctx, ingest.StartParams{
		UserID:          userID,
		Title:           "Recuerdos",
		ParticipantName: "Abuela",
		StylizePhotos:   true,
	})
	if err != nil {
		t.Fatalf("StartProject: %v", err)
	}

	for seq := 0; seq < chunks; seq++ {
		err := h.ingest.AppendChunk(ctx, ingest.ChunkParams{
			ProjectID:  project.ID,
			Seq:        int64(seq),
			StartMS:    int64(seq) * 1000,
			DurationMS: 1000,
			Audio:      []byte("wav-bytes"),
		})
		if err != nil {
			t.Fatalf("AppendChunk %d: %v", seq, err)
		}
	}
	for i := 0; i < photos; i++ {
		_, err := h.ingest.AppendPhoto(ctx, ingest.PhotoParams{
			ProjectID: project.ID,
			PhotoID:   fmt.Sprintf("foto-%d", i),
			TMS:       int64(i)*1000 + 500,
			Image:     []byte("jpeg-bytes"),
		})
		if err != nil {
			t.Fatalf("AppendPhoto %d: %v", i, err)
		}
	}

	if err := h.ingest.StopProject(ctx, project.ID); err != nil {
		t.Fatalf("StopProject: %v", err)
	}
	return project
}

func TestPipelineHappyPath(t *testing.T) {
	h := newHarness(t, pipeline.Clients{
		Scripts:     &fakeScripts{},
		Transcriber: &fakeTranscriber{},
		Stylizer:    &fakeStylizer{},
	})
	ctx := context.Background()

	testsupport.NewUser(t, h.store, "user-1", false)
	project := h.recordSession(t, "user-1", 2, 1)

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusDone {
		t.Fatalf("Status = %s, want done (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.OutputFile != "script.md" || got.FallbackFile != "transcript_raw.txt" {
		t.Fatalf("artifacts = (%q, %q)", got.OutputFile, got.FallbackFile)
	}

	script, err := h.blobs.Get(ctx, project.ID, "script.md")
	if err != nil {
		t.Fatalf("read script artifact: %v", err)
	}
	text := string(script)
	if !strings.HasPrefix(text, "# Recuerdos\n\n**Participante:** Abuela\n\n---\n\n") {
		t.Fatalf("unexpected script header:\n%s", text)
	}
	if !strings.Contains(text, "![Foto](foto-0_stylized.png)") {
		t.Fatalf("expected stylized image reference:\n%s", text)
	}
	if strings.Contains(text, "[[FOTO:") || strings.Contains(text, "[[PH_") {
		t.Fatalf("marker syntax leaked into the artifact:\n%s", text)
	}

	state, err := h.store.GetProjectState(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProjectState: %v", err)
	}
	if state.QuotaReserved {
		t.Fatal("script reservation not consumed")
	}
	if state.Transcript == "" {
		t.Fatal("plain transcript not recorded")
	}
}

func TestPipelineStylizeFailureDegrades(t *testing.T) {
	h := newHarness(t, pipeline.Clients{
		Scripts:     &fakeScripts{},
		Transcriber: &fakeTranscriber{},
		Stylizer: &fakeStylizer{fn: func(filename string) ([]byte, error) {
			if strings.Contains(filename, "foto-1") {
				return nil, errors.New("model rejected the image")
			}
			return []byte("png"), nil
		}},
	})
	ctx := context.Background()

	testsupport.NewUser(t, h.store, "user-1", false)
	project := h.recordSession(t, "user-1", 1, 3)

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusDone {
		t.Fatalf("Status = %s, want done (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.StylizeErrors != 1 {
		t.Fatalf("StylizeErrors = %d, want 1", got.StylizeErrors)
	}

	script, err := h.blobs.Get(ctx, project.ID, "script.md")
	if err != nil {
		t.Fatalf("read script artifact: %v", err)
	}
	text := string(script)
	if !strings.Contains(text, "![Foto](foto-1.jpg)") {
		t.Fatalf("failed photo should fall back to its original image:\n%s", text)
	}
	if !strings.Contains(text, "![Foto](foto-0_stylized.png)") {
		t.Fatalf("successful photos should use the stylized asset:\n%s", text)
	}

	// The failed attempt's reservation was returned; only the two successes
	// count against the stylize quota.
	quota, err := h.store.QuotaStateFor(ctx, "user-1", store.QuotaStylize)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if quota.UsedInWindow != 2 {
		t.Fatalf("stylize UsedInWindow = %d, want 2", quota.UsedInWindow)
	}
}

func TestPipelineTranscribeExhaustionKeepsGoing(t *testing.T) {
	h := newHarness(t, pipeline.Clients{
		Scripts:     &fakeScripts{},
		Transcriber: &fakeTranscriber{fn: func(filename string) (string, error) {
			if strings.Contains(filename, "000001") {
				return "", fmt.Errorf("%w: upstream 503", services.ErrExternalCall)
			}
			return "texto", nil
		}},
		Stylizer: &fakeStylizer{},
	})
	ctx := context.Background()

	testsupport.NewUser(t, h.store, "user-1", false)
	project := h.recordSession(t, "user-1", 2, 0)

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusDone {
		t.Fatalf("Status = %s, want done (error: %q)", got.Status, got.ErrorMessage)
	}

	segments, err := h.store.SegmentsOrdered(ctx, project.ID)
	if err != nil {
		t.Fatalf("SegmentsOrdered: %v", err)
	}
	if segments[0].Status != store.SegmentDone {
		t.Fatalf("segment 0 status = %s", segments[0].Status)
	}
	if segments[1].Status != store.SegmentFailed || segments[1].Text != "" {
		t.Fatalf("segment 1 = (%s, %q), want failed with empty text",
			segments[1].Status, segments[1].Text)
	}

	// The retry budget was spent before giving up.
	jobs, err := h.store.JobsForProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("JobsForProject: %v", err)
	}
	var exhausted *store.Job
	for _, job := range jobs {
		if job.Status == store.JobFailed {
			exhausted = job
		}
	}
	if exhausted == nil {
		t.Fatal("expected one permanently failed transcribe job")
	}
	if exhausted.Attempts != exhausted.MaxAttempts {
		t.Fatalf("Attempts = %d, want %d", exhausted.Attempts, exhausted.MaxAttempts)
	}
}

func TestPipelineInvalidMarkersAbortsAndReleasesQuota(t *testing.T) {
	h := newHarness(t, pipeline.Clients{
		Scripts: &fakeScripts{fn: func(ctx context.Context, transcript, participantName string) (string, error) {
			// The model dropped every token.
			return "Una historia sin fotos.", nil
		}},
		Transcriber: &fakeTranscriber{},
		Stylizer:    &fakeStylizer{},
	})
	ctx := context.Background()

	testsupport.NewUser(t, h.store, "user-1", false)
	project := h.recordSession(t, "user-1", 1, 1)

	quotaBefore, err := h.store.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if quotaBefore.UsedInWindow != 1 {
		t.Fatalf("script UsedInWindow = %d after stop, want 1", quotaBefore.UsedInWindow)
	}

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusError {
		t.Fatalf("Status = %s, want error", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected a recorded failure message")
	}

	// The fallback transcript was written before generation ran.
	if _, err := h.blobs.Get(ctx, project.ID, "transcript_raw.txt"); err != nil {
		t.Fatalf("fallback transcript missing: %v", err)
	}
	if got.OutputFile != "" {
		t.Fatalf("OutputFile = %q, want empty", got.OutputFile)
	}

	quotaAfter, err := h.store.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if quotaAfter.UsedInWindow != 0 {
		t.Fatalf("script UsedInWindow = %d after abort, want 0", quotaAfter.UsedInWindow)
	}
}

func TestPipelineSkipsStylizeWhenUserCannot(t *testing.T) {
	h := newHarness(t, pipeline.Clients{
		Scripts:     &fakeScripts{},
		Transcriber: &fakeTranscriber{},
		Stylizer: &fakeStylizer{fn: func(string) ([]byte, error) {
			t.Fatal("stylizer must not be called")
			return nil, nil
		}},
	})
	ctx := context.Background()

	user := store.User{ID: "user-2", Username: "user-2", CanStylize: false}
	if err := h.store.EnsureUser(ctx, user); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	project := h.recordSession(t, "user-2", 1, 2)

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusDone {
		t.Fatalf("Status = %s, want done (error: %q)", got.Status, got.ErrorMessage)
	}

	script, err := h.blobs.Get(ctx, project.ID, "script.md")
	if err != nil {
		t.Fatalf("read script artifact: %v", err)
	}
	if !strings.Contains(string(script), "![Foto](foto-0.jpg)") {
		t.Fatalf("expected original image reference:\n%s", script)
	}
}

func TestQueueRejectsUnknownStage(t *testing.T) {
	h := newHarness(t, pipeline.Clients{
		Scripts:     &fakeScripts{},
		Transcriber: &fakeTranscriber{},
		Stylizer:    &fakeStylizer{},
	})

	_, err := h.manager.Queue().Enqueue(context.Background(), pipeline.Stage("publish"), "p-1", nil)
	if !errors.Is(err, pipeline.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestRetryRequeuesFailedProject(t *testing.T) {
	calls := 0
	h := newHarness(t, pipeline.Clients{
		Scripts: &fakeScripts{fn: func(ctx context.Context, transcript, participantName string) (string, error) {
			calls++
			if calls == 1 {
				return "sin tokens", nil
			}
			return transcript, nil
		}},
		Transcriber: &fakeTranscriber{},
		Stylizer:    &fakeStylizer{},
	})
	ctx := context.Background()

	testsupport.NewUser(t, h.store, "user-1", false)
	project := h.recordSession(t, "user-1", 1, 1)

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusError {
		t.Fatalf("Status = %s, want error before retry", got.Status)
	}
	released, err := h.store.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if released.UsedInWindow != 0 {
		t.Fatalf("script UsedInWindow = %d after abort, want 0", released.UsedInWindow)
	}

	if _, err := h.manager.Queue().Retry(ctx, project.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// The retried run charges the script quota again, like a fresh stop.
	reserved, err := h.store.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if reserved.UsedInWindow != 1 {
		t.Fatalf("script UsedInWindow = %d after retry, want 1", reserved.UsedInWindow)
	}

	if err := h.manager.RunPending(ctx); err != nil {
		t.Fatalf("RunPending after retry: %v", err)
	}

	got, err = h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != store.StatusDone {
		t.Fatalf("Status = %s after retry, want done (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", got.ErrorMessage)
	}
}
