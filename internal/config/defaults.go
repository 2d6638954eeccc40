package config

const (
	defaultDataDir              = "~/.local/share/relato/projects"
	defaultLogDir               = "~/.local/share/relato/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultStorageBackend       = "local"
	defaultMinioBucket          = "relato"
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "google/gemini-3-flash-preview"
	defaultLLMTitle             = "Relato Script Generator"
	defaultLLMTimeoutSeconds    = 120
	defaultTranscriberBaseURL   = "https://api.openai.com/v1/audio/transcriptions"
	defaultTranscriberModel     = "whisper-1"
	defaultTranscriberLanguage  = "es"
	defaultTranscriberTimeout   = 120
	defaultStylizerTimeout      = 120
	defaultStylizerPrompt       = "Redraw this photo as a warm storybook illustration."
	defaultQuotaWindowHours     = 24
	defaultRecordingLimitSecs   = 3600
	defaultScriptQuota          = 5
	defaultStylizeQuota         = 40
	defaultRecordingSecondsCap  = 7200
	defaultPollIntervalSeconds  = 5
	defaultErrorRetrySeconds    = 10
	defaultMaxAttempts          = 3
	defaultPrepareTimeout       = 60
	defaultTranscribeTimeout    = 300
	defaultStylizeTimeout       = 300
	defaultFinalizeTimeout      = 600
	defaultPipelineWorkers      = 2
	defaultProjectTTLHours      = 72
	defaultAuditRetentionDays   = 90
	defaultSweepIntervalSeconds = 3600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Storage: Storage{
			Backend:     defaultStorageBackend,
			MinioBucket: defaultMinioBucket,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Transcriber: Transcriber{
			BaseURL:        defaultTranscriberBaseURL,
			Model:          defaultTranscriberModel,
			Language:       defaultTranscriberLanguage,
			TimeoutSeconds: defaultTranscriberTimeout,
		},
		Stylizer: Stylizer{
			Enabled:        true,
			Prompt:         defaultStylizerPrompt,
			TimeoutSeconds: defaultStylizerTimeout,
		},
		Quotas: Quotas{
			WindowHours:             defaultQuotaWindowHours,
			RecordingLimitSeconds:   defaultRecordingLimitSecs,
			DefaultScriptQuota:      defaultScriptQuota,
			DefaultStylizeQuota:     defaultStylizeQuota,
			DefaultRecordingSeconds: defaultRecordingSecondsCap,
		},
		Pipeline: Pipeline{
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			ErrorRetrySeconds:        defaultErrorRetrySeconds,
			MaxAttempts:              defaultMaxAttempts,
			RetryDelaySeconds:        []int{10, 60, 180},
			PrepareTimeoutSeconds:    defaultPrepareTimeout,
			TranscribeTimeoutSeconds: defaultTranscribeTimeout,
			StylizeTimeoutSeconds:    defaultStylizeTimeout,
			FinalizeTimeoutSeconds:   defaultFinalizeTimeout,
			Workers:                  defaultPipelineWorkers,
		},
		Retention: Retention{
			ProjectTTLHours:      defaultProjectTTLHours,
			AuditRetentionDays:   defaultAuditRetentionDays,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
