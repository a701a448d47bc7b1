package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// JobRepository owns job records and their append-only status event stream.
type JobRepository struct {
	store *corpus.Store
}

func NewJobRepository(store *corpus.Store) *JobRepository {
	return &JobRepository{store: store}
}

// Create appends the job record, its initial pending event and the coupled
// audit event in one critical section.
func (r *JobRepository) Create(ctx context.Context, j contracts.Job, audit corpus.Record) error {
	recs := []corpus.GroupRecord{
		{Group: corpus.GroupJobs, Record: corpus.Record{
			"job_id":       j.JobID,
			"kind":         string(j.Kind),
			"input_ref":    j.InputRef,
			"input_digest": j.InputDigest,
			"created_at":   formatTime(j.CreatedAt),
		}},
		{Group: corpus.GroupJobEvents, Record: corpus.Record{
			"job_id":    j.JobID,
			"kind":      string(j.Kind),
			"status":    string(contracts.JobPending),
			"attempts":  0,
			"timestamp": formatTime(j.CreatedAt),
		}},
	}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err := r.store.AppendMany(ctx, recs)
	return err
}

// AppendEvent appends one status transition event.
func (r *JobRepository) AppendEvent(ctx context.Context, ev contracts.JobEvent, audit corpus.Record) error {
	recs := []corpus.GroupRecord{
		{Group: corpus.GroupJobEvents, Record: corpus.Record{
			"job_id":     ev.JobID,
			"kind":       string(ev.Kind),
			"status":     string(ev.Status),
			"attempts":   ev.Attempts,
			"error":      ev.Error,
			"result_ref": ev.ResultRef,
			"timestamp":  formatTime(ev.Timestamp),
		}},
	}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err := r.store.AppendMany(ctx, recs)
	return err
}

// Get folds the event stream into the current view of a job.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*contracts.Job, error) {
	row := r.store.SelectRow(ctx, `
		SELECT job_id, kind, input_ref, input_digest, created_at
		FROM jobs WHERE job_id = ? ORDER BY id DESC LIMIT 1`, jobID)
	var (
		j  contracts.Job
		ts string
	)
	if err := row.Scan(&j.JobID, &j.Kind, &j.InputRef, &j.InputDigest, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: job %s", corpuserr.ErrNotFound, jobID)
		}
		return nil, err
	}
	j.CreatedAt = parseTime(ts)

	rows, err := r.store.Select(ctx, `
		SELECT status, attempts, error, result_ref, timestamp
		FROM job_events WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			status    string
			attempts  int
			jobErr    sql.NullString
			resultRef sql.NullString
			evTS      string
		)
		if err := rows.Scan(&status, &attempts, &jobErr, &resultRef, &evTS); err != nil {
			return nil, err
		}
		t := parseTime(evTS)
		switch contracts.JobStatus(status) {
		case contracts.JobRunning:
			j.Status = contracts.JobRunning
			j.StartedAt = &t
		case contracts.JobSucceeded, contracts.JobFailed:
			j.Status = contracts.JobStatus(status)
			j.FinishedAt = &t
		case contracts.JobPending:
			j.Status = contracts.JobPending
		case contracts.JobCancelRequested:
			j.CancelAsked = true
			continue
		}
		j.Attempts = attempts
		j.Error = jobErr.String
		if resultRef.Valid && resultRef.String != "" {
			j.ResultRef = resultRef.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &j, nil
}

// FindActiveByDigest returns the job id for an input digest whose folded
// status is not failed. This is what makes enqueue idempotent.
func (r *JobRepository) FindActiveByDigest(ctx context.Context, digest string) (string, error) {
	rows, err := r.store.Select(ctx, `
		SELECT job_id FROM jobs WHERE input_digest = ? ORDER BY id ASC`, digest)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if j.Status != contracts.JobFailed {
			return id, nil
		}
	}
	return "", nil
}

// AppendTranscript persists a job's derived transcript or diarization
// segments, coupled with its audit event.
func (r *JobRepository) AppendTranscript(ctx context.Context, transcriptID, jobID, artifactID, sessionID string, kind contracts.JobKind, segments []contracts.TranscriptSegment, createdAt string, audit corpus.Record) error {
	segJSON, err := EncodeAttr(segments)
	if err != nil {
		return err
	}
	recs := []corpus.GroupRecord{
		{Group: corpus.GroupTranscripts, Record: corpus.Record{
			"transcript_id": transcriptID,
			"job_id":        jobID,
			"artifact_id":   artifactID,
			"session_id":    sessionID,
			"kind":          string(kind),
			"segments":      segJSON,
			"created_at":    createdAt,
		}},
	}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err = r.store.AppendMany(ctx, recs)
	return err
}

// GetTranscript returns the stored segments for a job.
func (r *JobRepository) GetTranscript(ctx context.Context, jobID string) ([]contracts.TranscriptSegment, error) {
	row := r.store.SelectRow(ctx, `
		SELECT segments FROM transcripts WHERE job_id = ? ORDER BY id DESC LIMIT 1`, jobID)
	var segJSON string
	if err := row.Scan(&segJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: transcript for job %s", corpuserr.ErrNotFound, jobID)
		}
		return nil, err
	}
	var segs []contracts.TranscriptSegment
	if err := jsonUnmarshal(segJSON, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}
