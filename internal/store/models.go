package store

import (
	"time"
)

// Status captures the project lifecycle state.
type Status string

const (
	StatusRecording  Status = "recording"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusExpired    Status = "expired"
)

// allowedTransitions enumerates every legal status edge. Error recovery
// (error back to queued) is the only backward edge and requires an operator.
var allowedTransitions = map[Status][]Status{
	StatusRecording:  {StatusQueued, StatusExpired},
	StatusQueued:     {StatusProcessing, StatusError, StatusExpired},
	StatusProcessing: {StatusDone, StatusError, StatusExpired},
	StatusError:      {StatusQueued, StatusExpired},
	StatusDone:       {StatusExpired},
	StatusExpired:    {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further pipeline work.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusExpired
}

// Project is one recording session and its derived artifacts.
type Project struct {
	ID            string
	UserID        string
	Title         string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
	JobID         string
	OutputFile    string
	FallbackFile  string
	ErrorMessage  string
	StylizeErrors int
}

// EffectiveStatus evaluates expiry lazily: a project past its expires_at
// reads as expired regardless of the stored status.
func (p *Project) EffectiveStatus(now time.Time) Status {
	if p.Status == StatusExpired {
		return StatusExpired
	}
	if !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt) {
		return StatusExpired
	}
	return p.Status
}

// ProjectState is the mutable working state, one row per project.
type ProjectState struct {
	ProjectID             string
	ParticipantName       string
	StylizePhotos         bool
	RecordingStartedAt    time.Time
	RecordingStoppedAt    time.Time
	RecordingLimitSeconds int
	IngestDurationMS      int64
	IngestBytesTotal      int64
	LastSeq               int64
	SegmentsTotal         int
	SegmentsDone          int
	PhotosTotal           int
	PhotosDone            int
	ProcessingMetrics     string
	Transcript            string
	QuotaReserved         bool
}

// SegmentStatus tracks per-segment transcription progress.
type SegmentStatus string

const (
	SegmentPending SegmentStatus = "pending"
	SegmentDone    SegmentStatus = "done"
	SegmentFailed  SegmentStatus = "failed"
)

// Segment is one transcribed audio window, session-relative.
type Segment struct {
	ProjectID       string
	SegmentID       string
	StartMS         int64
	EndMS           int64
	StoragePath     string
	Status          SegmentStatus
	Text            string
	TranscriptionMS int64
}

// IngestChunk is one raw sequence-numbered unit of uploaded audio.
type IngestChunk struct {
	ProjectID   string
	Seq         int64
	StartMS     int64
	DurationMS  int64
	SizeBytes   int64
	Backend     string
	StoragePath string
	CreatedAt   time.Time
}

// Photo is one timestamped capture, optionally stylized later.
type Photo struct {
	ProjectID    string
	PhotoID      string
	TMS          int64
	OriginalPath string
	StylizedPath string
	CreatedAt    time.Time
}

// User owns projects and quota states.
type User struct {
	ID         string
	Username   string
	IsAdmin    bool
	CanStylize bool
	CreatedAt  time.Time
}

// QuotaKind identifies an independent windowed counter.
type QuotaKind string

const (
	QuotaScript           QuotaKind = "script"
	QuotaStylize          QuotaKind = "stylize"
	QuotaRecordingSeconds QuotaKind = "recording_seconds"
)

// QuotaState is one windowed counter for one user and kind. A nil Limit
// means unlimited.
type QuotaState struct {
	UserID          string
	Kind            QuotaKind
	Limit           *int64
	UsedInWindow    int64
	WindowStartedAt time.Time
	WindowLength    time.Duration
}

// AuditEvent is an immutable append-only record of a notable action.
type AuditEvent struct {
	ID        int64
	Actor     string
	Action    string
	Target    string
	Details   string
	Origin    string
	CreatedAt time.Time
}

// JobStatus tracks a persisted pipeline job handle.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the authoritative record of one unit of pipeline work.
type Job struct {
	ID             string
	ProjectID      string
	Stage          string
	Payload        string
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	TimeoutSeconds int
	NextRunAt      time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
