package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
)

// AuditRepository owns the append-only audit event group.
type AuditRepository struct {
	store *corpus.Store
}

func NewAuditRepository(store *corpus.Store) *AuditRepository {
	return &AuditRepository{store: store}
}

// EventRecord converts an audit event into its store record. Services pass
// this to the entity repositories so the event lands in the same critical
// section as the data append.
func EventRecord(e contracts.AuditEvent) (corpus.Record, error) {
	meta, err := EncodeAttr(e.Metadata)
	if err != nil {
		return nil, err
	}
	return corpus.Record{
		"event_id":       e.EventID,
		"timestamp":      formatTime(e.Timestamp),
		"operation":      e.Operation,
		"user_id":        e.UserID,
		"resource":       e.Resource,
		"result":         string(e.Result),
		"payload_digest": e.PayloadDigest,
		"metadata":       meta,
	}, nil
}

// Append writes one audit event on its own.
func (r *AuditRepository) Append(ctx context.Context, e contracts.AuditEvent) error {
	rec, err := EventRecord(e)
	if err != nil {
		return err
	}
	_, err = r.store.Append(ctx, corpus.GroupAuditEvents, rec)
	return err
}

// QueryFilter selects audit events.
type QueryFilter struct {
	Operation string
	UserID    string
	Resource  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Query returns audit events matching the filter in append order.
func (r *AuditRepository) Query(ctx context.Context, f QueryFilter) ([]contracts.AuditEvent, error) {
	var (
		conds []string
		args  []any
	)
	if f.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Resource != "" {
		conds = append(conds, "resource = ?")
		args = append(args, f.Resource)
	}
	if f.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(*f.Until))
	}
	q := "SELECT event_id, timestamp, operation, user_id, resource, result, payload_digest, metadata FROM audit_events"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.store.Select(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AuditEvent
	for rows.Next() {
		var (
			e      contracts.AuditEvent
			ts     string
			digest sql.NullString
			meta   sql.NullString
			result string
		)
		if err := rows.Scan(&e.EventID, &ts, &e.Operation, &e.UserID, &e.Resource, &result, &digest, &meta); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.Result = contracts.AuditResult(result)
		e.PayloadDigest = digest.String
		if meta.Valid {
			e.Metadata = DecodeAttrMap(meta.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OlderThan returns events with timestamp strictly before cutoff, in append
// order. The retention sweeper folds these into a signed digest.
func (r *AuditRepository) OlderThan(ctx context.Context, cutoff time.Time) ([]contracts.AuditEvent, error) {
	t := cutoff.Add(-time.Nanosecond)
	return r.Query(ctx, QueryFilter{Until: &t})
}
