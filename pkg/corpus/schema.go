package corpus

// SchemaVersion is the current on-disk schema generation. Opening a corpus
// written by an unknown generation fails with ErrSchemaMismatch.
const SchemaVersion = 1

// TimeLayout is the fixed-width timestamp format for stored rows. The
// nanosecond field is always nine digits so lexicographic comparison in SQL
// equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Group names one typed append-only dataset inside the corpus file.
type Group string

const (
	GroupInteractions   Group = "interactions"
	GroupEmbeddings     Group = "embeddings"
	GroupSessions       Group = "sessions"
	GroupSessionEvents  Group = "session_events"
	GroupAudioArtifacts Group = "audio_artifacts"
	GroupJobs           Group = "jobs"
	GroupJobEvents      Group = "job_events"
	GroupAuditEvents    Group = "audit_events"
	GroupAuditDigests   Group = "audit_digests"
	GroupTranscripts    Group = "transcripts"
	GroupExports        Group = "exports"
)

// Groups lists every dataset in creation order.
var Groups = []Group{
	GroupInteractions,
	GroupEmbeddings,
	GroupSessions,
	GroupSessionEvents,
	GroupAudioArtifacts,
	GroupJobs,
	GroupJobEvents,
	GroupAuditEvents,
	GroupAuditDigests,
	GroupTranscripts,
	GroupExports,
}

// groupColumns fixes the column order per group so inserts are deterministic.
var groupColumns = map[Group][]string{
	GroupInteractions:   {"interaction_id", "session_id", "prompt", "response", "model", "tokens", "timestamp", "metadata"},
	GroupEmbeddings:     {"interaction_id", "vector", "dim", "model", "timestamp"},
	GroupSessions:       {"session_id", "user_id", "created_at", "metadata"},
	GroupSessionEvents:  {"session_id", "state", "timestamp"},
	GroupAudioArtifacts: {"artifact_id", "session_id", "bytes_ref", "sha256", "mime", "duration_ms", "uploaded_at"},
	GroupJobs:           {"job_id", "kind", "input_ref", "input_digest", "created_at"},
	GroupJobEvents:      {"job_id", "kind", "status", "attempts", "error", "result_ref", "timestamp"},
	GroupAuditEvents:    {"event_id", "timestamp", "operation", "user_id", "resource", "result", "payload_digest", "metadata"},
	GroupAuditDigests:   {"digest_id", "period", "event_count", "aggregate_hash", "signature", "created_at"},
	GroupTranscripts:    {"transcript_id", "job_id", "artifact_id", "session_id", "kind", "segments", "created_at"},
	GroupExports:        {"export_id", "targets", "artifacts", "manifest", "signature", "created_at", "deleted_at"},
}

var groupDDL = []string{
	`CREATE TABLE IF NOT EXISTS corpus_meta (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		model TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL,
		metadata TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id TEXT NOT NULL,
		vector BLOB NOT NULL,
		dim INTEGER NOT NULL,
		model TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		metadata TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		state TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audio_artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		bytes_ref TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		mime TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		uploaded_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		input_ref TEXT NOT NULL,
		input_digest TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		result_ref TEXT,
		timestamp TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		operation TEXT NOT NULL,
		user_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		result TEXT NOT NULL,
		payload_digest TEXT,
		metadata TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS audit_digests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		digest_id TEXT NOT NULL,
		period TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		aggregate_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transcript_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		artifact_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		segments TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		export_id TEXT NOT NULL,
		targets TEXT NOT NULL,
		artifacts TEXT NOT NULL,
		manifest TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS salvage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_group TEXT NOT NULL,
		source_rowid INTEGER NOT NULL,
		row_json TEXT NOT NULL,
		quarantined_at TEXT NOT NULL
	)`,
}

func validGroup(g Group) bool {
	_, ok := groupColumns[g]
	return ok
}

// Columns returns a copy of the fixed column order for a group, or nil if
// the group is unknown. Exporters use it to snapshot groups generically.
func Columns(g Group) []string {
	cols, ok := groupColumns[g]
	if !ok {
		return nil
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}
