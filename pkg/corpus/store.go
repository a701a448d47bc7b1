// Package corpus implements the append-only hierarchical corpus store:
// typed dataset groups on a single SQLite file, an ownership identity
// written at init, a sidecar monotonic length log, and mutation detection
// at open time. Records are never updated or deleted; the only sanctioned
// removals are crash-tail quarantine into the salvage region and the audit
// retention compaction, both of which leave an auditable trace.
package corpus

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// Record is one row keyed by column name. Values must match the group's
// column types; missing columns are stored as NULL.
type Record map[string]any

// GroupRecord pairs a record with its destination group for multi-append.
type GroupRecord struct {
	Group  Group
	Record Record
}

// Report is the result of open-time validation.
type Report struct {
	SchemaVersion int             `json:"schema_version"`
	Counts        map[Group]int64 `json:"counts"`
	Recorded      map[Group]int64 `json:"recorded"`
	Quarantined   int64           `json:"quarantined"`
	Mutations     []string        `json:"mutations,omitempty"`
}

// OK reports whether the corpus passed validation.
func (r *Report) OK() bool { return len(r.Mutations) == 0 }

// Store is the single-writer append-only corpus file.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	path     string
	lengths  *LengthLog
	fileLock *flock.Flock
	readOnly atomic.Bool
	clock    func() time.Time
	appends  metric.Int64Counter

	// recorded caches the sidecar baseline; updated under mu.
	recorded map[Group]int64
}

// Init creates a new corpus file with its groups, schema version and
// ownership identity, and emits CORPUS_INITIALIZED into the audit group.
// It fails with ErrAlreadyInitialized if the file exists and is valid.
func Init(path, ownerCredential, salt string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		if s, openErr := Open(path); openErr == nil {
			_ = s.Close()
			return nil, corpuserr.ErrAlreadyInitialized
		}
		return nil, fmt.Errorf("%w: %s exists but does not validate", corpuserr.ErrIntegrity, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("corpus: mkdir: %w", err)
	}

	s, err := newStore(path)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, ddl := range groupDDL {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("corpus: create schema: %w", err)
		}
	}

	now := s.clock().UTC()
	identity := ownerIdentity(ownerCredential, salt)
	corpusID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ownerCredential+":"+salt)).String()

	meta := map[string]string{
		"schema_version": fmt.Sprintf("%d", SchemaVersion),
		"corpus_id":      corpusID,
		"owner_identity": identity,
		"identity_salt":  salt,
		"created_at":     now.Format(TimeLayout),
	}
	for k, v := range meta {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO corpus_meta (k, v) VALUES (?, ?)`, k, v); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("corpus: write meta: %w", err)
		}
	}

	for _, g := range Groups {
		if err := s.lengths.Record(g, 0, now); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.recorded[g] = 0
	}

	if _, err := s.Append(ctx, GroupAuditEvents, Record{
		"event_id":  uuid.New().String(),
		"timestamp": now.Format(TimeLayout),
		"operation": "CORPUS_INITIALIZED",
		"user_id":   "system",
		"resource":  "corpus/" + corpusID,
		"result":    "success",
	}); err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Info("corpus initialized", "path", path, "corpus_id", corpusID)
	return s, nil
}

// Open opens an existing corpus and validates it. On mutation detection the
// store is returned in read-only mode together with ErrMutationDetected so
// callers can still inspect it; all writes are refused for the remainder of
// the process.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: corpus file %s", corpuserr.ErrNotFound, path)
	}

	s, err := newStore(path)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	ver, err := s.Meta(ctx, "schema_version")
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: missing schema version", corpuserr.ErrSchemaMismatch)
	}
	if ver != fmt.Sprintf("%d", SchemaVersion) {
		_ = s.Close()
		return nil, fmt.Errorf("%w: schema version %s, want %d", corpuserr.ErrSchemaMismatch, ver, SchemaVersion)
	}

	report, err := s.Validate(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if !report.OK() {
		// Record the violation while writes are still possible, then flip
		// to read-only for the remainder of the process.
		now := s.clock().UTC()
		_, _ = s.Append(ctx, GroupAuditEvents, Record{
			"event_id":  uuid.New().String(),
			"timestamp": now.Format(TimeLayout),
			"operation": "INTEGRITY_VIOLATION",
			"user_id":   "system",
			"resource":  "corpus",
			"result":    "failure",
			"metadata":  mustJSON(map[string]any{"mutations": report.Mutations}),
		})
		s.readOnly.Store(true)
		slog.Error("corpus mutation detected; store is read-only", "mutations", report.Mutations)
		return s, fmt.Errorf("%w: %s", corpuserr.ErrMutationDetected, strings.Join(report.Mutations, "; "))
	}

	return s, nil
}

func newStore(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("corpus: open db: %w", err)
	}
	return &Store{
		db:       db,
		path:     path,
		lengths:  NewLengthLog(path + ".lengths.log"),
		fileLock: flock.New(path + ".lock"),
		clock:    time.Now,
		recorded: make(map[Group]int64),
	}, nil
}

func ownerIdentity(credential, salt string) string {
	h := sha256.Sum256([]byte(credential + salt))
	return hex.EncodeToString(h[:])
}

// WithClock overrides the clock for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithAppendCounter wires the append instrument. Set once at startup,
// before any traffic.
func (s *Store) WithAppendCounter(c metric.Int64Counter) *Store {
	s.appends = c
	return s
}

// ReadOnly reports whether the store refuses writes.
func (s *Store) ReadOnly() bool { return s.readOnly.Load() }

// Path returns the corpus file path.
func (s *Store) Path() string { return s.path }

// Meta reads one corpus_meta value.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM corpus_meta WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: meta key %s", corpuserr.ErrNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// CorpusID returns the deterministic corpus identifier.
func (s *Store) CorpusID(ctx context.Context) (string, error) {
	return s.Meta(ctx, "corpus_id")
}

// VerifyOwnership recomputes the identity hash from the supplied credential
// and the stored salt, comparing constant-time.
func (s *Store) VerifyOwnership(ctx context.Context, credential string) (bool, error) {
	stored, err := s.Meta(ctx, "owner_identity")
	if err != nil {
		return false, err
	}
	salt, err := s.Meta(ctx, "identity_salt")
	if err != nil {
		return false, err
	}
	computed := ownerIdentity(credential, salt)
	return subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) == 1, nil
}

// Append atomically extends one group by a single record and returns the
// assigned row id.
func (s *Store) Append(ctx context.Context, group Group, rec Record) (int64, error) {
	ids, err := s.AppendMany(ctx, []GroupRecord{{Group: group, Record: rec}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AppendMany appends several records in one critical section, in order.
// Services use this to couple a data append with its audit event so append
// order equals audit order. Once the writer lock is held the appends run to
// completion; cancellation is checked only before the lock is taken.
func (s *Store) AppendMany(ctx context.Context, recs []GroupRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	for _, gr := range recs {
		if !validGroup(gr.Group) {
			return nil, fmt.Errorf("%w: unknown group %q", corpuserr.ErrSchemaMismatch, gr.Group)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly.Load() {
		return nil, fmt.Errorf("%w: store is read-only", corpuserr.ErrMutationDetected)
	}

	if err := s.fileLock.Lock(); err != nil {
		return nil, fmt.Errorf("corpus: file lock: %w", err)
	}
	defer func() { _ = s.fileLock.Unlock() }()

	// Re-validate monotonicity for the touched groups before writing.
	for _, gr := range recs {
		count, err := s.count(ctx, gr.Group)
		if err != nil {
			return nil, err
		}
		if count < s.recorded[gr.Group] {
			s.readOnly.Store(true)
			return nil, fmt.Errorf("%w: group %s shrank from %d to %d",
				corpuserr.ErrMutationDetected, gr.Group, s.recorded[gr.Group], count)
		}
	}

	ids := make([]int64, 0, len(recs))
	for _, gr := range recs {
		id, err := s.insert(ctx, gr.Group, gr.Record)
		if err != nil {
			return nil, err
		}
		count, err := s.count(ctx, gr.Group)
		if err != nil {
			return nil, err
		}
		if err := s.lengths.Record(gr.Group, count, s.clock()); err != nil {
			return nil, err
		}
		s.recorded[gr.Group] = count
		ids = append(ids, id)
	}
	if s.appends != nil {
		s.appends.Add(ctx, int64(len(ids)))
	}
	return ids, nil
}

func (s *Store) insert(ctx context.Context, group Group, rec Record) (int64, error) {
	cols := groupColumns[group]
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = rec[c]
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		group, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: append to %s: %v", corpuserr.ErrIntegrity, group, err)
	}
	return res.LastInsertId()
}

// Select runs a read-only query against the corpus. Repositories own the
// SQL; the store never hands out a writable handle.
func (s *Store) Select(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// SelectRow runs a single-row read-only query.
func (s *Store) SelectRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Count returns the current length of a group.
func (s *Store) Count(ctx context.Context, group Group) (int64, error) {
	if !validGroup(group) {
		return 0, fmt.Errorf("%w: unknown group %q", corpuserr.ErrSchemaMismatch, group)
	}
	return s.count(ctx, group)
}

func (s *Store) count(ctx context.Context, group Group) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", group)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Validate replays the sidecar length log against current group counts.
// Rows beyond the recorded baseline (a crash between data commit and log
// write) are quarantined into the salvage region; any shrinkage is fatal.
func (s *Store) Validate(ctx context.Context) (*Report, error) {
	recorded, err := s.lengths.Replay()
	if err != nil {
		return nil, err
	}

	report := &Report{
		SchemaVersion: SchemaVersion,
		Counts:        make(map[Group]int64),
		Recorded:      recorded,
	}

	for _, g := range Groups {
		count, err := s.count(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("corpus: count %s: %w", g, err)
		}
		switch {
		case count < recorded[g]:
			report.Mutations = append(report.Mutations,
				fmt.Sprintf("group %s shrank: recorded %d, found %d", g, recorded[g], count))
		case count > recorded[g]:
			n, err := s.quarantineTail(ctx, g, count-recorded[g])
			if err != nil {
				return nil, err
			}
			report.Quarantined += n
			count -= n
		}
		report.Counts[g] = count
		s.mu.Lock()
		s.recorded[g] = count
		s.mu.Unlock()
	}
	return report, nil
}

// quarantineTail moves the newest n rows of a group into salvage. The tail
// is never silently truncated; operators recover it by hand.
func (s *Store) quarantineTail(ctx context.Context, group Group, n int64) (int64, error) {
	cols := groupColumns[group]
	q := fmt.Sprintf("SELECT id, %s FROM %s ORDER BY id DESC LIMIT ?", strings.Join(cols, ", "), group)
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	type salvageRow struct {
		rowid int64
		body  string
	}
	var tail []salvageRow
	for rows.Next() {
		vals := make([]any, len(cols)+1)
		ptrs := make([]any, len(cols)+1)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, err
		}
		rowid, _ := vals[0].(int64)
		body := make(map[string]any, len(cols))
		for i, c := range cols {
			body[c] = normalizeSQLValue(vals[i+1])
		}
		tail = append(tail, salvageRow{rowid: rowid, body: mustJSON(body)})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := s.clock().UTC().Format(TimeLayout)
	for _, t := range tail {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO salvage (source_group, source_rowid, row_json, quarantined_at) VALUES (?, ?, ?, ?)`,
			string(group), t.rowid, t.body, now); err != nil {
			return 0, err
		}
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id = ?", group), t.rowid); err != nil {
			return 0, err
		}
	}
	if len(tail) > 0 {
		slog.Warn("quarantined incomplete tail", "group", group, "rows", len(tail))
	}
	return int64(len(tail)), nil
}

// CompactAuditEvents removes audit rows older than cutoff after the caller
// has folded them into the supplied signed digest record. The digest is
// appended and the length baseline reset within one critical section. This
// is the only sanctioned row removal outside crash salvage.
func (s *Store) CompactAuditEvents(ctx context.Context, cutoff time.Time, digest Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly.Load() {
		return 0, fmt.Errorf("%w: store is read-only", corpuserr.ErrMutationDetected)
	}
	if err := s.fileLock.Lock(); err != nil {
		return 0, fmt.Errorf("corpus: file lock: %w", err)
	}
	defer func() { _ = s.fileLock.Unlock() }()

	if _, err := s.insert(ctx, GroupAuditDigests, digest); err != nil {
		return 0, err
	}
	digestCount, err := s.count(ctx, GroupAuditDigests)
	if err != nil {
		return 0, err
	}
	if err := s.lengths.Record(GroupAuditDigests, digestCount, s.clock()); err != nil {
		return 0, err
	}
	s.recorded[GroupAuditDigests] = digestCount

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE timestamp < ?`, cutoff.UTC().Format(TimeLayout))
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()

	count, err := s.count(ctx, GroupAuditEvents)
	if err != nil {
		return 0, err
	}
	if err := s.lengths.RecordCompaction(GroupAuditEvents, count, s.clock()); err != nil {
		return 0, err
	}
	s.recorded[GroupAuditEvents] = count
	return removed, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
