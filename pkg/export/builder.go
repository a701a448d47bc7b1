// Package export builds signed, verifiable bundles of corpus groups. A
// bundle is a directory: artifacts/<group>.json holding canonically
// serialized rows, manifest.json listing every artifact with its SHA-256,
// and manifest.sig carrying the HMAC signature over the canonical manifest
// bytes. Builds are deterministic: the same corpus contents, selectors and
// policy yield byte-identical artifacts.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/corpus/pkg/canonical"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/policy"
)

// Builder snapshots corpus groups into export bundles.
type Builder struct {
	store      *corpus.Store
	exportsDir string
	signingKey []byte
	clock      func() time.Time
}

// NewBuilder returns a builder writing bundles under exportsDir.
func NewBuilder(store *corpus.Store, exportsDir string, signingKey []byte) *Builder {
	return &Builder{store: store, exportsDir: exportsDir, signingKey: signingKey, clock: time.Now}
}

// WithClock overrides the clock for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build snapshots the selected groups, redacts PII per policy and writes
// the signed bundle. Every group is read against a single bound captured up
// front, so concurrent appends cannot leave one artifact ahead of another.
// The export id derives from the content digests, so re-exporting unchanged
// data reproduces the same id.
func (b *Builder) Build(ctx context.Context, targets []string) (*contracts.Export, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: export needs at least one target group", corpuserr.ErrValidation)
	}
	for _, t := range targets {
		if corpus.Columns(corpus.Group(t)) == nil {
			return nil, fmt.Errorf("%w: unknown export target %q", corpuserr.ErrValidation, t)
		}
	}

	pol, err := policy.Get()
	if err != nil {
		return nil, err
	}
	redactor := policy.NewRedactor(pol)
	policyVersion, err := pol.Version()
	if err != nil {
		return nil, err
	}

	createdAt := b.clock().UTC()

	bounds, err := b.snapshotBounds(ctx, targets)
	if err != nil {
		return nil, err
	}

	type snapshot struct {
		group string
		data  []byte
		sha   string
	}
	snapshots := make([]snapshot, 0, len(targets))
	for _, t := range targets {
		rows, err := b.snapshotGroup(ctx, corpus.Group(t), bounds[t], redactor)
		if err != nil {
			return nil, err
		}
		data, err := canonical.Marshal(rows)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		snapshots = append(snapshots, snapshot{group: t, data: data, sha: hex.EncodeToString(sum[:])})
	}

	idHash := sha256.New()
	for _, s := range snapshots {
		idHash.Write([]byte(s.group))
		idHash.Write([]byte(s.sha))
	}
	idHash.Write([]byte(createdAt.Format(time.RFC3339Nano)))
	exportID := "exp-" + hex.EncodeToString(idHash.Sum(nil))[:16]

	dir := filepath.Join(b.exportsDir, exportID)
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o700); err != nil {
		return nil, fmt.Errorf("export: mkdir: %w", err)
	}

	artifacts := make([]contracts.ExportArtifact, 0, len(snapshots))
	for _, s := range snapshots {
		rel := filepath.Join("artifacts", s.group+".json")
		if err := os.WriteFile(filepath.Join(dir, rel), s.data, 0o600); err != nil {
			return nil, fmt.Errorf("export: write artifact: %w", err)
		}
		artifacts = append(artifacts, contracts.ExportArtifact{Path: rel, SHA256: s.sha, Size: int64(len(s.data))})
	}

	corpusID, err := b.store.CorpusID(ctx)
	if err != nil {
		return nil, err
	}

	manifest := map[string]any{
		"export_id":      exportID,
		"corpus_id":      corpusID,
		"created_at":     createdAt.Format(time.RFC3339Nano),
		"selectors":      targets,
		"artifacts":      artifacts,
		"policy_version": policyVersion,
	}
	manifestBytes, err := canonical.Marshal(manifest)
	if err != nil {
		return nil, err
	}
	signature, err := Sign(manifestBytes, b.signingKey)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifestBytes, 0o600); err != nil {
		return nil, fmt.Errorf("export: write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.sig"), []byte(signature), 0o600); err != nil {
		return nil, fmt.Errorf("export: write signature: %w", err)
	}

	return &contracts.Export{
		ExportID:  exportID,
		Targets:   targets,
		Artifacts: artifacts,
		Manifest:  manifest,
		Signature: signature,
		CreatedAt: createdAt,
	}, nil
}

// Dir returns the bundle directory for an export id.
func (b *Builder) Dir(exportID string) string {
	return filepath.Join(b.exportsDir, exportID)
}

// snapshotBounds captures the highest row id of every target group in one
// statement, so all groups are marked at the same instant. Rows at or below
// a bound never change afterwards, which keeps the per-group reads mutually
// consistent while writers keep appending.
func (b *Builder) snapshotBounds(ctx context.Context, targets []string) (map[string]int64, error) {
	q := ""
	for i, t := range targets {
		if i > 0 {
			q += ", "
		}
		q += "(SELECT COALESCE(MAX(id), 0) FROM " + t + ")"
	}
	vals := make([]int64, len(targets))
	ptrs := make([]any, len(targets))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := b.store.SelectRow(ctx, "SELECT "+q).Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("export: snapshot bounds: %w", err)
	}
	bounds := make(map[string]int64, len(targets))
	for i, t := range targets {
		bounds[t] = vals[i]
	}
	return bounds, nil
}

// snapshotGroup reads a group in append order up to its marked bound. Text
// columns pass through the policy redactor; blobs are base64 so the artifact
// stays valid JSON.
func (b *Builder) snapshotGroup(ctx context.Context, group corpus.Group, bound int64, redactor *policy.Redactor) ([]map[string]any, error) {
	cols := corpus.Columns(group)
	query := "SELECT " + joinCols(cols) + " FROM " + string(group) + " WHERE id <= ? ORDER BY id ASC"
	rows, err := b.store.Select(ctx, query, bound)
	if err != nil {
		return nil, fmt.Errorf("export: snapshot %s: %w", group, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case []byte:
				row[c] = base64.StdEncoding.EncodeToString(v)
			case string:
				if redactor.Active() {
					row[c] = redactor.Redact(v)
				} else {
					row[c] = v
				}
			default:
				row[c] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func joinCols(cols []string) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ", "
		}
		s += c
	}
	return s
}

// Sign computes the base64url (unpadded) HMAC-SHA256 signature over data.
func Sign(data, key []byte) (string, error) {
	sig, err := jwt.SigningMethodHS256.Sign(string(data), key)
	if err != nil {
		return "", fmt.Errorf("export: sign: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifySignature checks a Sign-produced signature.
func VerifySignature(data []byte, signature string, key []byte) error {
	raw, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", corpuserr.ErrIntegrity, err)
	}
	if err := jwt.SigningMethodHS256.Verify(string(data), raw, key); err != nil {
		return fmt.Errorf("%w: signature mismatch", corpuserr.ErrIntegrity)
	}
	return nil
}
