package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"relato/internal/services"
	"relato/internal/store"
	"relato/internal/testsupport"
)

func TestReserveAdmitsExactlyLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)

	// Default script quota in the test config is 2.
	for i := 0; i < 2; i++ {
		if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
			t.Fatalf("Reserve %d: %v", i+1, err)
		}
	}
	err := st.Reserve(ctx, "user-1", store.QuotaScript)
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestReleaseRestoresCapacity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)

	for i := 0; i < 2; i++ {
		if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}
	if err := st.Release(ctx, "user-1", store.QuotaScript); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)

	if err := st.Release(ctx, "user-1", store.QuotaScript); err != nil {
		t.Fatalf("Release on empty counter: %v", err)
	}
	state, err := st.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if state.UsedInWindow != 0 {
		t.Fatalf("UsedInWindow = %d, want 0", state.UsedInWindow)
	}
}

func TestAdminBypassesQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "admin-1", true)

	for i := 0; i < 10; i++ {
		if err := st.Reserve(ctx, "admin-1", store.QuotaScript); err != nil {
			t.Fatalf("admin Reserve %d: %v", i+1, err)
		}
	}
	state, err := st.QuotaStateFor(ctx, "admin-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if state.UsedInWindow != 0 {
		t.Fatalf("admin usage recorded: %d", state.UsedInWindow)
	}
}

func TestNilLimitIsUnlimited(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	if err := st.SetQuotaLimit(ctx, "user-1", store.QuotaScript, nil); err != nil {
		t.Fatalf("SetQuotaLimit: %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
			t.Fatalf("unlimited Reserve %d: %v", i+1, err)
		}
	}
	state, err := st.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if state.UsedInWindow != 0 {
		t.Fatalf("unlimited reservations tracked usage: %d", state.UsedInWindow)
	}
}

func TestZeroLimitAlwaysRejects(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)
	zero := int64(0)
	if err := st.SetQuotaLimit(ctx, "user-1", store.QuotaStylize, &zero); err != nil {
		t.Fatalf("SetQuotaLimit: %v", err)
	}

	err := st.Reserve(ctx, "user-1", store.QuotaStylize)
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestWindowResetRestoresQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)

	for i := 0; i < 2; i++ {
		if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}
	if err := st.Reserve(ctx, "user-1", store.QuotaScript); !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	// Backdate the window start past the configured one-hour window.
	backdated := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	if _, err := st.DB().ExecContext(ctx,
		`UPDATE quota_states SET window_started_at = ? WHERE user_id = ? AND kind = ?`,
		backdated, "user-1", store.QuotaScript); err != nil {
		t.Fatalf("backdate window: %v", err)
	}

	if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
		t.Fatalf("Reserve after window reset: %v", err)
	}
	state, err := st.QuotaStateFor(ctx, "user-1", store.QuotaScript)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if state.UsedInWindow != 1 {
		t.Fatalf("UsedInWindow = %d after reset, want 1", state.UsedInWindow)
	}
}

func TestConsumeRecordingSecondsHasNoCap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)

	// Well past the default recording-seconds limit; metering never blocks.
	if err := st.ConsumeRecordingSeconds(ctx, "user-1", 100000); err != nil {
		t.Fatalf("ConsumeRecordingSeconds: %v", err)
	}
	state, err := st.QuotaStateFor(ctx, "user-1", store.QuotaRecordingSeconds)
	if err != nil {
		t.Fatalf("QuotaStateFor: %v", err)
	}
	if state.UsedInWindow != 100000 {
		t.Fatalf("UsedInWindow = %d, want 100000", state.UsedInWindow)
	}
}

func TestIndependentQuotaKinds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewUser(t, st, "user-1", false)

	for i := 0; i < 2; i++ {
		if err := st.Reserve(ctx, "user-1", store.QuotaScript); err != nil {
			t.Fatalf("script Reserve: %v", err)
		}
	}
	// Script exhaustion must not affect stylize capacity.
	if err := st.Reserve(ctx, "user-1", store.QuotaStylize); err != nil {
		t.Fatalf("stylize Reserve: %v", err)
	}
}
