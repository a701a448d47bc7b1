// Package contracts defines the entity types shared across the corpus
// engine. Entities are immutable once written: corrections are new records
// referencing prior ids, never edits.
package contracts

import "time"

// SessionState is the lifecycle state of a clinical session.
// Transitions are forward only.
type SessionState string

const (
	SessionOpen      SessionState = "open"
	SessionFinalized SessionState = "finalized"
	SessionArchived  SessionState = "archived"
)

// JobKind categorizes background jobs.
type JobKind string

const (
	JobTranscribe JobKind = "transcribe"
	JobDiarize    JobKind = "diarize"
	JobEmbed      JobKind = "embed"
	JobExport     JobKind = "export"
)

// JobStatus is the folded status of a job's event stream.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"

	// JobCancelRequested is an advisory event, not a folded status.
	JobCancelRequested JobStatus = "cancel_requested"
)

// AuditResult records the outcome of an audited operation.
type AuditResult string

const (
	ResultSuccess AuditResult = "success"
	ResultFailure AuditResult = "failure"
	ResultDenied  AuditResult = "denied"
)

// Interaction is a single recorded model interaction. A correction appends
// a new interaction with Metadata["correction_of"] = prior id.
type Interaction struct {
	InteractionID string         `json:"interaction_id"`
	SessionID     string         `json:"session_id"`
	Prompt        string         `json:"prompt"`
	Response      string         `json:"response"`
	Model         string         `json:"model"`
	Tokens        int64          `json:"tokens"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Embedding is a fixed-width vector derived from one interaction.
// Vectors from smaller models are zero-padded to the configured width.
type Embedding struct {
	InteractionID string    `json:"interaction_id"`
	Vector        []float32 `json:"vector"`
	Model         string    `json:"model"`
	Timestamp     time.Time `json:"timestamp"`
}

// Session groups interactions and artifacts for one encounter.
type Session struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	State     SessionState   `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionEvent is one append-only state transition for a session.
type SessionEvent struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

// AudioArtifact points at content-addressed audio bytes on disk.
type AudioArtifact struct {
	ArtifactID string    `json:"artifact_id"`
	SessionID  string    `json:"session_id"`
	BytesRef   string    `json:"bytes_ref"`
	SHA256     string    `json:"sha256"`
	MIME       string    `json:"mime"`
	DurationMS int64     `json:"duration_ms"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Job is the folded view of a job's event stream; the latest event wins.
type Job struct {
	JobID       string     `json:"job_id"`
	Kind        JobKind    `json:"kind"`
	InputRef    string     `json:"input_ref"`
	InputDigest string     `json:"input_digest"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	CancelAsked bool       `json:"cancel_requested,omitempty"`
}

// JobEvent is one append-only status transition for a job.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	ResultRef string    `json:"result_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEvent is one entry in the append-only audit log.
type AuditEvent struct {
	EventID       string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     string         `json:"operation"`
	UserID        string         `json:"user_id"`
	Resource      string         `json:"resource"`
	Result        AuditResult    `json:"result"`
	PayloadDigest string         `json:"payload_digest,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ExportArtifact is one file inside an export bundle.
type ExportArtifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Export records a signed, verifiable bundle of corpus records.
// Deletion is soft: DeletedAt is set via audit event, artifacts retained.
type Export struct {
	ExportID  string           `json:"export_id"`
	Targets   []string         `json:"targets"`
	Artifacts []ExportArtifact `json:"artifacts"`
	Manifest  map[string]any   `json:"manifest"`
	Signature string           `json:"signature"`
	CreatedAt time.Time        `json:"created_at"`
	DeletedAt *time.Time       `json:"deleted_at,omitempty"`
}

// TranscriptSegment is one unit of speech-to-text or diarization output.
type TranscriptSegment struct {
	Speaker string  `json:"speaker,omitempty"`
	StartMS int64   `json:"start_ms"`
	EndMS   int64   `json:"end_ms"`
	Text    string  `json:"text,omitempty"`
	Score   float64 `json:"score,omitempty"`
}
