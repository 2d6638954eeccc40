package testsupport

import (
	"path/filepath"
	"testing"

	"relato/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Quota limits are kept small so exhaustion paths stay cheap to exercise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.Backend = "local"
	cfg.Quotas.WindowHours = 1
	cfg.Quotas.RecordingLimitSeconds = 60
	cfg.Quotas.DefaultScriptQuota = 2
	cfg.Quotas.DefaultStylizeQuota = 3
	cfg.Quotas.DefaultRecordingSeconds = 600
	cfg.Pipeline.Workers = 1
	cfg.Pipeline.RetryDelaySeconds = []int{0}
	cfg.Retention.ProjectTTLHours = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithStylizerDisabled turns off photo stylization on the test config.
func WithStylizerDisabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Stylizer.Enabled = false
	}
}

// WithQuotaWindowHours overrides the quota window cadence.
func WithQuotaWindowHours(hours int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Quotas.WindowHours = hours
	}
}
