package pipeline

import (
	"context"

	"relato/internal/store"
)

// Handler executes one stage of work from a claimed job.
type Handler interface {
	Stage() Stage
	Execute(ctx context.Context, job *store.Job) error
	// OnExhausted applies the stage's permanent-failure semantics once
	// retries are spent or the error is not retryable. Stylize and
	// transcribe degrade and keep the pipeline moving; prepare and finalize
	// abort the project.
	OnExhausted(ctx context.Context, job *store.Job, cause error)
}

// ScriptGenerator produces prose from a tokenized transcript.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, transcript, participantName string) (string, error)
}

// Transcriber converts one audio segment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Stylizer reworks one photo; best-effort.
type Stylizer interface {
	Enabled() bool
	Stylize(ctx context.Context, filename string, image []byte) ([]byte, error)
}
