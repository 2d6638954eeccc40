package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"relato/internal/services"
	"relato/internal/store"
	"relato/internal/testsupport"
)

func TestSegmentsOrderedByStartTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := testsupport.NewRecordingProject(t, st, "user-1", "Orden")

	// Arrival order deliberately scrambled.
	for _, seg := range []store.Segment{
		{ProjectID: project.ID, SegmentID: "seg-000003", StartMS: 4000, EndMS: 6000},
		{ProjectID: project.ID, SegmentID: "seg-000001", StartMS: 0, EndMS: 2000},
		{ProjectID: project.ID, SegmentID: "seg-000002", StartMS: 2000, EndMS: 4000},
	} {
		if err := st.AppendSegment(ctx, seg); err != nil {
			t.Fatalf("AppendSegment %s: %v", seg.SegmentID, err)
		}
	}

	segments, err := st.SegmentsOrdered(ctx, project.ID)
	if err != nil {
		t.Fatalf("SegmentsOrdered: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	for i, want := range []string{"seg-000001", "seg-000002", "seg-000003"} {
		if segments[i].SegmentID != want {
			t.Fatalf("position %d = %s, want %s", i, segments[i].SegmentID, want)
		}
	}
}

func TestPhotosOrderedTieBreakByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := testsupport.NewRecordingProject(t, st, "user-1", "Fotos")

	for _, photo := range []store.Photo{
		{ProjectID: project.ID, PhotoID: "zz", TMS: 1000, OriginalPath: "photos/zz.jpg"},
		{ProjectID: project.ID, PhotoID: "aa", TMS: 1000, OriginalPath: "photos/aa.jpg"},
		{ProjectID: project.ID, PhotoID: "mm", TMS: 500, OriginalPath: "photos/mm.jpg"},
	} {
		if err := st.AppendPhoto(ctx, photo); err != nil {
			t.Fatalf("AppendPhoto %s: %v", photo.PhotoID, err)
		}
	}

	photos, err := st.PhotosOrdered(ctx, project.ID)
	if err != nil {
		t.Fatalf("PhotosOrdered: %v", err)
	}
	for i, want := range []string{"mm", "aa", "zz"} {
		if photos[i].PhotoID != want {
			t.Fatalf("position %d = %s, want %s", i, photos[i].PhotoID, want)
		}
	}
}

func TestAppendSegmentDuplicateConflicts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := testsupport.NewRecordingProject(t, st, "user-1", "Duplicado")

	seg := store.Segment{ProjectID: project.ID, SegmentID: "seg-000001", StartMS: 0, EndMS: 1000}
	if err := st.AppendSegment(ctx, seg); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := st.AppendSegment(ctx, seg); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAppendIngestChunkSequencing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := testsupport.NewRecordingProject(t, st, "user-1", "Secuencia")

	chunk := func(seq int64) store.IngestChunk {
		return store.IngestChunk{
			ProjectID:   project.ID,
			Seq:         seq,
			StartMS:     seq * 1000,
			DurationMS:  1000,
			SizeBytes:   2048,
			Backend:     "local",
			StoragePath: fmt.Sprintf("chunks/%06d.wav", seq),
		}
	}

	for seq := int64(0); seq < 3; seq++ {
		if err := st.AppendIngestChunk(ctx, chunk(seq)); err != nil {
			t.Fatalf("AppendIngestChunk %d: %v", seq, err)
		}
	}

	// Replaying the latest chunk is an idempotent no-op.
	if err := st.AppendIngestChunk(ctx, chunk(2)); err != nil {
		t.Fatalf("duplicate latest chunk: %v", err)
	}
	if count, err := st.ChunkCount(ctx, project.ID); err != nil || count != 3 {
		t.Fatalf("ChunkCount = %d, %v; want 3", count, err)
	}

	// A stale sequence number is a hard ordering violation.
	if err := st.AppendIngestChunk(ctx, chunk(1)); !errors.Is(err, services.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	state, err := st.GetProjectState(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProjectState: %v", err)
	}
	if state.LastSeq != 2 {
		t.Fatalf("LastSeq = %d, want 2", state.LastSeq)
	}
	if state.IngestDurationMS != 3000 {
		t.Fatalf("IngestDurationMS = %d, want 3000", state.IngestDurationMS)
	}
}

func TestTimelineReadOnlyAfterStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := testsupport.NewRecordingProject(t, st, "user-1", "Cerrado")

	if err := st.Transition(ctx, project.ID, store.StatusRecording, store.StatusQueued); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	seg := store.Segment{ProjectID: project.ID, SegmentID: "seg-000001", StartMS: 0, EndMS: 1000}
	if err := st.AppendSegment(ctx, seg); !errors.Is(err, services.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	photo := store.Photo{ProjectID: project.ID, PhotoID: "p1", TMS: 0, OriginalPath: "photos/p1.jpg"}
	if err := st.AppendPhoto(ctx, photo); !errors.Is(err, services.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestSetPhotoStylizedOnlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	project := testsupport.NewRecordingProject(t, st, "user-1", "Estilo")

	photo := store.Photo{ProjectID: project.ID, PhotoID: "p1", TMS: 0, OriginalPath: "photos/p1.jpg"}
	if err := st.AppendPhoto(ctx, photo); err != nil {
		t.Fatalf("AppendPhoto: %v", err)
	}

	if err := st.SetPhotoStylized(ctx, project.ID, "p1", "photos/p1_stylized.png"); err != nil {
		t.Fatalf("SetPhotoStylized: %v", err)
	}
	err := st.SetPhotoStylized(ctx, project.ID, "p1", "photos/p1_other.png")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict on second stylize, got %v", err)
	}

	got, err := st.GetPhoto(ctx, project.ID, "p1")
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.StylizedPath != "photos/p1_stylized.png" {
		t.Fatalf("StylizedPath = %q", got.StylizedPath)
	}
}
