package pipeline

import (
	"errors"
	"fmt"
)

// Stage is the closed enumeration of pipeline work. Dispatch resolves only
// through this set; an unrecognized alias can never reach a handler.
type Stage string

const (
	StagePrepare    Stage = "prepare"
	StageTranscribe Stage = "transcribe"
	StageStylize    Stage = "stylize"
	StageFinalize   Stage = "finalize"
)

// ErrUnknownJob rejects job aliases outside the stage allow-list.
var ErrUnknownJob = errors.New("unknown job")

// ParseStage resolves a job alias through the allow-list.
func ParseStage(alias string) (Stage, error) {
	switch Stage(alias) {
	case StagePrepare, StageTranscribe, StageStylize, StageFinalize:
		return Stage(alias), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, alias)
	}
}

// transcribePayload carries the segment a transcribe job works on.
type transcribePayload struct {
	SegmentID string `json:"segment_id"`
}

// stylizePayload carries the photo a stylize job works on.
type stylizePayload struct {
	PhotoID string `json:"photo_id"`
}
