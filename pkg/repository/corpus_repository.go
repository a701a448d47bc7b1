package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// CorpusRepository owns interactions and their embeddings.
type CorpusRepository struct {
	store *corpus.Store
	dim   int
}

// NewCorpusRepository returns a repository normalizing vectors to dim.
func NewCorpusRepository(store *corpus.Store, dim int) *CorpusRepository {
	return &CorpusRepository{store: store, dim: dim}
}

// interactionRecord builds the store record plus the coupled audit record.
func (r *CorpusRepository) interactionRecord(in contracts.Interaction) (corpus.Record, error) {
	meta, err := EncodeAttr(in.Metadata)
	if err != nil {
		return nil, err
	}
	return corpus.Record{
		"interaction_id": in.InteractionID,
		"session_id":     in.SessionID,
		"prompt":         in.Prompt,
		"response":       in.Response,
		"model":          in.Model,
		"tokens":         in.Tokens,
		"timestamp":      formatTime(in.Timestamp),
		"metadata":       meta,
	}, nil
}

// AppendInteraction appends one interaction together with its audit event in
// a single critical section, preserving append order = audit order.
func (r *CorpusRepository) AppendInteraction(ctx context.Context, in contracts.Interaction, audit corpus.Record) (int64, error) {
	rec, err := r.interactionRecord(in)
	if err != nil {
		return 0, err
	}
	recs := []corpus.GroupRecord{{Group: corpus.GroupInteractions, Record: rec}}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	ids, err := r.store.AppendMany(ctx, recs)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AppendEmbedding appends one normalized embedding, coupled with its audit
// event.
func (r *CorpusRepository) AppendEmbedding(ctx context.Context, e contracts.Embedding, audit corpus.Record) (int64, error) {
	vec, err := corpus.NormalizeVector(e.Vector, r.dim)
	if err != nil {
		return 0, err
	}
	rec := corpus.Record{
		"interaction_id": e.InteractionID,
		"vector":         corpus.VectorToBlob(vec),
		"dim":            r.dim,
		"model":          e.Model,
		"timestamp":      formatTime(e.Timestamp),
	}
	recs := []corpus.GroupRecord{{Group: corpus.GroupEmbeddings, Record: rec}}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	ids, err := r.store.AppendMany(ctx, recs)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// GetInteraction returns the newest record for an interaction id. Because
// corrections append rather than edit, the latest row wins.
func (r *CorpusRepository) GetInteraction(ctx context.Context, interactionID string) (*contracts.Interaction, error) {
	row := r.store.SelectRow(ctx, `
		SELECT interaction_id, session_id, prompt, response, model, tokens, timestamp, metadata
		FROM interactions WHERE interaction_id = ? ORDER BY id DESC LIMIT 1`, interactionID)
	in, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: interaction %s", corpuserr.ErrNotFound, interactionID)
	}
	return in, err
}

// ListInteractions returns all interactions for a session in append order.
func (r *CorpusRepository) ListInteractions(ctx context.Context, sessionID string) ([]contracts.Interaction, error) {
	rows, err := r.store.Select(ctx, `
		SELECT interaction_id, session_id, prompt, response, model, tokens, timestamp, metadata
		FROM interactions WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// ListEmbeddings returns every stored embedding, decoded to full width.
func (r *CorpusRepository) ListEmbeddings(ctx context.Context) ([]contracts.Embedding, error) {
	rows, err := r.store.Select(ctx, `
		SELECT interaction_id, vector, model, timestamp FROM embeddings ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Embedding
	for rows.Next() {
		var (
			interactionID string
			blob          []byte
			model         string
			ts            string
		)
		if err := rows.Scan(&interactionID, &blob, &model, &ts); err != nil {
			return nil, err
		}
		vec, err := corpus.BlobToVector(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, contracts.Embedding{
			InteractionID: interactionID,
			Vector:        vec,
			Model:         model,
			Timestamp:     parseTime(ts),
		})
	}
	return out, rows.Err()
}

// GetEmbedding returns the embedding for an interaction, if any.
func (r *CorpusRepository) GetEmbedding(ctx context.Context, interactionID string) (*contracts.Embedding, error) {
	row := r.store.SelectRow(ctx, `
		SELECT interaction_id, vector, model, timestamp
		FROM embeddings WHERE interaction_id = ? ORDER BY id DESC LIMIT 1`, interactionID)
	var (
		id    string
		blob  []byte
		model string
		ts    string
	)
	if err := row.Scan(&id, &blob, &model, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: embedding for %s", corpuserr.ErrNotFound, interactionID)
		}
		return nil, err
	}
	vec, err := corpus.BlobToVector(blob)
	if err != nil {
		return nil, err
	}
	return &contracts.Embedding{InteractionID: id, Vector: vec, Model: model, Timestamp: parseTime(ts)}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*contracts.Interaction, error) {
	var (
		in     contracts.Interaction
		tokens int64
		ts     string
		meta   sql.NullString
	)
	if err := row.Scan(&in.InteractionID, &in.SessionID, &in.Prompt, &in.Response, &in.Model, &tokens, &ts, &meta); err != nil {
		return nil, err
	}
	in.Tokens = tokens
	in.Timestamp = parseTime(ts)
	if meta.Valid {
		in.Metadata = DecodeAttrMap(meta.String)
	}
	return &in, nil
}
