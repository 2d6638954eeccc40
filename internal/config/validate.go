package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if len(c.Pipeline.RetryDelaySeconds) == 0 {
		c.Pipeline.RetryDelaySeconds = []int{10, 60, 180}
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultPipelineWorkers
	}
	if c.Pipeline.PollIntervalSeconds <= 0 {
		c.Pipeline.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Pipeline.ErrorRetrySeconds <= 0 {
		c.Pipeline.ErrorRetrySeconds = defaultErrorRetrySeconds
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = defaultMaxAttempts
	}
	if c.Quotas.WindowHours <= 0 {
		c.Quotas.WindowHours = defaultQuotaWindowHours
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		c.Retention.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	return nil
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
	case "minio":
		if strings.TrimSpace(c.Storage.MinioEndpoint) == "" {
			return fmt.Errorf("storage: minio backend requires minio_endpoint")
		}
		if strings.TrimSpace(c.Storage.MinioBucket) == "" {
			return fmt.Errorf("storage: minio backend requires minio_bucket")
		}
	default:
		return fmt.Errorf("storage: unsupported backend %q", c.Storage.Backend)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging: unsupported format %q", c.Logging.Format)
	}

	if c.Retention.ProjectTTLHours <= 0 {
		return fmt.Errorf("retention: project_ttl_hours must be positive")
	}
	if c.Retention.AuditRetentionDays <= 0 {
		return fmt.Errorf("retention: audit_retention_days must be positive")
	}
	for _, delay := range c.Pipeline.RetryDelaySeconds {
		if delay < 0 {
			return fmt.Errorf("pipeline: retry_delay_seconds must not be negative")
		}
	}
	return nil
}
