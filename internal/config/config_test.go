package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relato/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatalf("exists = true for %s", resolved)
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("Backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	base := t.TempDir()
	path := writeConfig(t, `
[paths]
data_dir = "`+filepath.Join(base, "data")+`"
log_dir = "`+filepath.Join(base, "logs")+`"

[storage]
backend = "LOCAL"

[pipeline]
max_attempts = 5
retry_delay_seconds = [1, 2]

[logging]
format = "JSON"
`)

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("exists = false")
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("Backend = %q, want normalized local", cfg.Storage.Backend)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", cfg.Pipeline.MaxAttempts)
	}
	if len(cfg.Pipeline.RetryDelaySeconds) != 2 || cfg.Pipeline.RetryDelaySeconds[1] != 2 {
		t.Fatalf("RetryDelaySeconds = %v", cfg.Pipeline.RetryDelaySeconds)
	}
	// Unset sections keep their defaults.
	if cfg.Quotas.WindowHours != 24 {
		t.Fatalf("WindowHours = %d, want 24", cfg.Quotas.WindowHours)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "backend") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestValidateMinioRequiresEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "minio"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "minio_endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}
	cfg.Storage.MinioEndpoint = "localhost:9000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsNegativeRetryDelay(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.RetryDelaySeconds = []int{10, -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected retry delay error")
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	expanded, err := config.ExpandPath("~/relato")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if expanded != filepath.Join(home, "relato") {
		t.Fatalf("ExpandPath = %q", expanded)
	}
}

func TestCreateSampleWritesParsableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config did not load: exists=%v err=%v", exists, err)
	}
}
