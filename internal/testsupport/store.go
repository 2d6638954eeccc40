package testsupport

import (
	"context"
	"testing"
	"time"

	"relato/internal/config"
	"relato/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewUser seeds a user row and its quota states.
func NewUser(t testing.TB, st *store.Store, id string, admin bool) *store.User {
	t.Helper()

	user := store.User{
		ID:         id,
		Username:   id,
		IsAdmin:    admin,
		CanStylize: true,
	}
	if err := st.EnsureUser(context.Background(), user); err != nil {
		t.Fatalf("store.EnsureUser: %v", err)
	}
	got, err := st.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("store.GetUser: %v", err)
	}
	return got
}

// NewRecordingProject creates a recording project owned by the given user.
func NewRecordingProject(t testing.TB, st *store.Store, userID, title string) *store.Project {
	t.Helper()

	project, err := st.CreateProject(context.Background(), store.NewProjectParams{
		UserID:                userID,
		Title:                 title,
		ParticipantName:       "Abuela",
		StylizePhotos:         true,
		TTL:                   time.Hour,
		RecordingLimitSeconds: 60,
	})
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return project
}
