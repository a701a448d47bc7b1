// Package audit implements the append-only audit log: a closed catalog of
// UPPER_SNAKE_CASE operation names, a recorder that stamps monotonic
// per-process timestamps, and the retention sweep that compacts aged events
// into signed monthly digests.
package audit

// Operation names form a closed catalog. Event writers must use these
// constants; the recorder rejects anything else.
const (
	OpCorpusInitialized  = "CORPUS_INITIALIZED"
	OpInteractionAppend  = "INTERACTION_APPENDED"
	OpEmbeddingAppend    = "EMBEDDING_APPENDED"
	OpSessionCreated     = "SESSION_CREATED"
	OpSessionFinalized   = "SESSION_FINALIZED"
	OpSessionArchived    = "SESSION_ARCHIVED"
	OpJobEnqueued        = "JOB_ENQUEUED"
	OpJobStarted         = "JOB_STARTED"
	OpJobSucceeded       = "JOB_SUCCEEDED"
	OpJobFailed          = "JOB_FAILED"
	OpJobCancelRequested = "JOB_CANCEL_REQUESTED"
	OpLLMCallRouted      = "LLM_CALL_ROUTED"
	OpLLMCallFailed      = "LLM_CALL_FAILED"
	OpExportCreated      = "EXPORT_CREATED"
	OpExportVerified     = "EXPORT_VERIFIED"
	OpExportDeleted      = "EXPORT_DELETED"
	OpPolicyDenied       = "POLICY_DENIED"
	OpOwnershipVerified  = "OWNERSHIP_VERIFIED"
	OpOwnershipDenied    = "OWNERSHIP_DENIED"
	OpBackpressureReject = "BACKPRESSURE_REJECTED"
	OpIntegrityViolation = "INTEGRITY_VIOLATION"
	OpAuditCompacted     = "AUDIT_COMPACTED"
	OpArtifactStored     = "ARTIFACT_STORED"
)

var catalog = map[string]struct{}{
	OpCorpusInitialized:  {},
	OpInteractionAppend:  {},
	OpEmbeddingAppend:    {},
	OpSessionCreated:     {},
	OpSessionFinalized:   {},
	OpSessionArchived:    {},
	OpJobEnqueued:        {},
	OpJobStarted:         {},
	OpJobSucceeded:       {},
	OpJobFailed:          {},
	OpJobCancelRequested: {},
	OpLLMCallRouted:      {},
	OpLLMCallFailed:      {},
	OpExportCreated:      {},
	OpExportVerified:     {},
	OpExportDeleted:      {},
	OpPolicyDenied:       {},
	OpOwnershipVerified:  {},
	OpOwnershipDenied:    {},
	OpBackpressureReject: {},
	OpIntegrityViolation: {},
	OpAuditCompacted:     {},
	OpArtifactStored:     {},
}

// InCatalog reports whether an operation name belongs to the closed catalog.
func InCatalog(op string) bool {
	_, ok := catalog[op]
	return ok
}
