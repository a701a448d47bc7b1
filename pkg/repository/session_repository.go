package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// SessionRepository owns sessions and their state-event stream. The current
// state is a fold over session_events; the latest event wins.
type SessionRepository struct {
	store *corpus.Store
}

func NewSessionRepository(store *corpus.Store) *SessionRepository {
	return &SessionRepository{store: store}
}

// Create appends the session record plus its initial open event and the
// coupled audit event in one critical section.
func (r *SessionRepository) Create(ctx context.Context, s contracts.Session, audit corpus.Record) error {
	meta, err := EncodeAttr(s.Metadata)
	if err != nil {
		return err
	}
	recs := []corpus.GroupRecord{
		{Group: corpus.GroupSessions, Record: corpus.Record{
			"session_id": s.SessionID,
			"user_id":    s.UserID,
			"created_at": formatTime(s.CreatedAt),
			"metadata":   meta,
		}},
		{Group: corpus.GroupSessionEvents, Record: corpus.Record{
			"session_id": s.SessionID,
			"state":      string(contracts.SessionOpen),
			"timestamp":  formatTime(s.CreatedAt),
		}},
	}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err = r.store.AppendMany(ctx, recs)
	return err
}

// AppendState appends a forward state transition event.
func (r *SessionRepository) AppendState(ctx context.Context, ev contracts.SessionEvent, audit corpus.Record) error {
	recs := []corpus.GroupRecord{
		{Group: corpus.GroupSessionEvents, Record: corpus.Record{
			"session_id": ev.SessionID,
			"state":      string(ev.State),
			"timestamp":  formatTime(ev.Timestamp),
		}},
	}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err := r.store.AppendMany(ctx, recs)
	return err
}

// Get returns a session with its folded current state.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*contracts.Session, error) {
	row := r.store.SelectRow(ctx, `
		SELECT session_id, user_id, created_at, metadata
		FROM sessions WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)

	var (
		s    contracts.Session
		ts   string
		meta sql.NullString
	)
	if err := row.Scan(&s.SessionID, &s.UserID, &ts, &meta); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: session %s", corpuserr.ErrNotFound, sessionID)
		}
		return nil, err
	}
	s.CreatedAt = parseTime(ts)
	if meta.Valid {
		s.Metadata = DecodeAttrMap(meta.String)
	}

	state, err := r.CurrentState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.State = state
	return &s, nil
}

// CurrentState folds the event stream for one session.
func (r *SessionRepository) CurrentState(ctx context.Context, sessionID string) (contracts.SessionState, error) {
	row := r.store.SelectRow(ctx, `
		SELECT state FROM session_events WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	var state string
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: session %s", corpuserr.ErrNotFound, sessionID)
		}
		return "", err
	}
	return contracts.SessionState(state), nil
}

// List returns sessions for a user, newest first.
func (r *SessionRepository) List(ctx context.Context, userID string, limit int) ([]contracts.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.store.Select(ctx, `
		SELECT session_id, user_id, created_at, metadata
		FROM sessions WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Session
	for rows.Next() {
		var (
			s    contracts.Session
			ts   string
			meta sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.UserID, &ts, &meta); err != nil {
			return nil, err
		}
		s.CreatedAt = parseTime(ts)
		if meta.Valid {
			s.Metadata = DecodeAttrMap(meta.String)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		state, err := r.CurrentState(ctx, out[i].SessionID)
		if err != nil {
			return nil, err
		}
		out[i].State = state
	}
	return out, nil
}

// AppendArtifact appends an audio artifact record.
func (r *SessionRepository) AppendArtifact(ctx context.Context, a contracts.AudioArtifact, audit corpus.Record) error {
	recs := []corpus.GroupRecord{
		{Group: corpus.GroupAudioArtifacts, Record: corpus.Record{
			"artifact_id": a.ArtifactID,
			"session_id":  a.SessionID,
			"bytes_ref":   a.BytesRef,
			"sha256":      a.SHA256,
			"mime":        a.MIME,
			"duration_ms": a.DurationMS,
			"uploaded_at": formatTime(a.UploadedAt),
		}},
	}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err := r.store.AppendMany(ctx, recs)
	return err
}

// GetArtifact returns an audio artifact by id.
func (r *SessionRepository) GetArtifact(ctx context.Context, artifactID string) (*contracts.AudioArtifact, error) {
	row := r.store.SelectRow(ctx, `
		SELECT artifact_id, session_id, bytes_ref, sha256, mime, duration_ms, uploaded_at
		FROM audio_artifacts WHERE artifact_id = ? ORDER BY id DESC LIMIT 1`, artifactID)
	var (
		a  contracts.AudioArtifact
		ts string
	)
	if err := row.Scan(&a.ArtifactID, &a.SessionID, &a.BytesRef, &a.SHA256, &a.MIME, &a.DurationMS, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: artifact %s", corpuserr.ErrNotFound, artifactID)
		}
		return nil, err
	}
	a.UploadedAt = parseTime(ts)
	return &a, nil
}
