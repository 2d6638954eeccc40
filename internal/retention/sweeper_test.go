package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"relato/internal/blobstore"
	"relato/internal/logging"
	"relato/internal/retention"
	"relato/internal/services"
	"relato/internal/store"
	"relato/internal/testsupport"
)

func newSweeper(t *testing.T) (*retention.Sweeper, *store.Store, blobstore.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blobs, err := blobstore.New(cfg)
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	sweeper := retention.New(st, blobs, cfg.Retention, logging.NewNop())
	return sweeper, st, blobs
}

func expiredProject(t *testing.T, st *store.Store, userID, title string) *store.Project {
	t.Helper()

	project, err := st.CreateProject(context.Background(), store.NewProjectParams{
		UserID:                userID,
		Title:                 title,
		ParticipantName:       "Abuela",
		TTL:                   -time.Minute,
		RecordingLimitSeconds: 60,
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return project
}

func TestRunOnceDeletesExpiredProjects(t *testing.T) {
	sweeper, st, blobs := newSweeper(t)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	expired := expiredProject(t, st, "user-1", "Viejo")
	fresh := testsupport.NewRecordingProject(t, st, "user-1", "Nuevo")

	if err := blobs.Put(ctx, expired.ID, "chunks/000000.wav", []byte("wav")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	deleted, _ := sweeper.RunOnce(ctx)
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := st.GetProject(ctx, expired.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected expired project removed, got %v", err)
	}
	if _, err := st.GetProject(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh project must survive: %v", err)
	}
	if exists, err := blobs.Exists(ctx, expired.ID, "chunks/000000.wav"); err != nil || exists {
		t.Fatalf("blob survived deletion: exists=%v err=%v", exists, err)
	}

	events, err := st.AuditEventsForTarget(ctx, expired.ID)
	if err != nil {
		t.Fatalf("AuditEventsForTarget: %v", err)
	}
	expireEvents := 0
	for _, ev := range events {
		if ev.Action == "project.expire" {
			expireEvents++
			if ev.Actor != "retention" {
				t.Fatalf("Actor = %q", ev.Actor)
			}
		}
	}
	if expireEvents != 1 {
		t.Fatalf("expire events = %d, want exactly 1", expireEvents)
	}
}

func TestRunOnceSkipsInFlightProjects(t *testing.T) {
	sweeper, st, _ := newSweeper(t)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := expiredProject(t, st, "user-1", "Ocupado")

	if err := st.Transition(ctx, project.ID, store.StatusRecording, store.StatusQueued); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := st.Transition(ctx, project.ID, store.StatusQueued, store.StatusProcessing); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	deleted, _ := sweeper.RunOnce(ctx)
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0 while processing", deleted)
	}
	if _, err := st.GetProject(ctx, project.ID); err != nil {
		t.Fatalf("in-flight project must survive: %v", err)
	}

	// Once terminal, the next pass collects it.
	if err := st.Transition(ctx, project.ID, store.StatusProcessing, store.StatusDone); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	deleted, _ = sweeper.RunOnce(ctx)
	if deleted != 1 {
		t.Fatalf("deleted = %d after terminal, want 1", deleted)
	}
}

func TestRunOncePurgesOldAuditEvents(t *testing.T) {
	sweeper, st, _ := newSweeper(t)
	ctx := context.Background()

	// Already past the 90-day horizon when recorded.
	if err := st.RecordAudit(ctx, store.AuditEvent{
		Actor: "operator", Action: "project.delete", Target: "p-old",
		CreatedAt: time.Now().UTC().AddDate(0, 0, -120),
	}); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}
	if err := st.RecordAudit(ctx, store.AuditEvent{
		Actor: "operator", Action: "project.delete", Target: "p-new",
	}); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	_, purged := sweeper.RunOnce(ctx)
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	recent, err := st.AuditEventsForTarget(ctx, "p-new")
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent events = %d, %v; want 1", len(recent), err)
	}
}
