package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// ExportRepository owns export records. Deletion is soft: a later row for
// the same export id carries deleted_at, and the fold takes the newest row.
type ExportRepository struct {
	store *corpus.Store
}

func NewExportRepository(store *corpus.Store) *ExportRepository {
	return &ExportRepository{store: store}
}

func exportRecord(e contracts.Export) (corpus.Record, error) {
	targets, err := EncodeAttr(e.Targets)
	if err != nil {
		return nil, err
	}
	artifacts, err := EncodeAttr(e.Artifacts)
	if err != nil {
		return nil, err
	}
	manifest, err := EncodeAttr(e.Manifest)
	if err != nil {
		return nil, err
	}
	rec := corpus.Record{
		"export_id":  e.ExportID,
		"targets":    targets,
		"artifacts":  artifacts,
		"manifest":   manifest,
		"signature":  e.Signature,
		"created_at": formatTime(e.CreatedAt),
	}
	if e.DeletedAt != nil {
		rec["deleted_at"] = formatTime(*e.DeletedAt)
	}
	return rec, nil
}

// Create appends a new export record with its audit event.
func (r *ExportRepository) Create(ctx context.Context, e contracts.Export, audit corpus.Record) error {
	rec, err := exportRecord(e)
	if err != nil {
		return err
	}
	recs := []corpus.GroupRecord{{Group: corpus.GroupExports, Record: rec}}
	if audit != nil {
		recs = append(recs, corpus.GroupRecord{Group: corpus.GroupAuditEvents, Record: audit})
	}
	_, err = r.store.AppendMany(ctx, recs)
	return err
}

// MarkDeleted appends a tombstone row for the export; artifacts stay on
// disk and the audit trail is retained.
func (r *ExportRepository) MarkDeleted(ctx context.Context, e contracts.Export, audit corpus.Record) error {
	return r.Create(ctx, e, audit)
}

// Get returns the newest record for an export id.
func (r *ExportRepository) Get(ctx context.Context, exportID string) (*contracts.Export, error) {
	row := r.store.SelectRow(ctx, `
		SELECT export_id, targets, artifacts, manifest, signature, created_at, deleted_at
		FROM exports WHERE export_id = ? ORDER BY id DESC LIMIT 1`, exportID)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: export %s", corpuserr.ErrNotFound, exportID)
	}
	return e, err
}

// List returns the newest record per export id.
func (r *ExportRepository) List(ctx context.Context, limit int) ([]contracts.Export, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.store.Select(ctx, `
		SELECT export_id, targets, artifacts, manifest, signature, created_at, deleted_at
		FROM exports WHERE id IN (SELECT MAX(id) FROM exports GROUP BY export_id)
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExport(row rowScanner) (*contracts.Export, error) {
	var (
		e         contracts.Export
		targets   string
		artifacts string
		manifest  string
		created   string
		deleted   sql.NullString
	)
	if err := row.Scan(&e.ExportID, &targets, &artifacts, &manifest, &e.Signature, &created, &deleted); err != nil {
		return nil, err
	}
	if err := jsonUnmarshal(targets, &e.Targets); err != nil {
		return nil, err
	}
	if err := jsonUnmarshal(artifacts, &e.Artifacts); err != nil {
		return nil, err
	}
	e.Manifest = DecodeAttrMap(manifest)
	e.CreatedAt = parseTime(created)
	if deleted.Valid && deleted.String != "" {
		t := parseTime(deleted.String)
		e.DeletedAt = &t
	}
	return &e, nil
}
