package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/corpus/pkg/canonical"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// Recorder builds and persists audit events. Timestamps are UTC and
// strictly monotonic within the process so audit order is total.
type Recorder struct {
	repo  *repository.AuditRepository
	mu    sync.Mutex
	last  time.Time
	clock func() time.Time
}

// NewRecorder returns a recorder writing through the audit repository.
func NewRecorder(repo *repository.AuditRepository) *Recorder {
	return &Recorder{repo: repo, clock: time.Now}
}

// WithClock overrides the clock for tests.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

// Event assembles a catalog-checked audit event without persisting it.
// Services pass the resulting record into repository appends so the event
// shares the data append's critical section.
func (r *Recorder) Event(operation, userID, resource string, result contracts.AuditResult, payload any) (contracts.AuditEvent, error) {
	if !InCatalog(operation) {
		return contracts.AuditEvent{}, fmt.Errorf("audit: operation %q not in catalog", operation)
	}
	ev := contracts.AuditEvent{
		EventID:   uuid.New().String(),
		Timestamp: r.stamp(),
		Operation: operation,
		UserID:    userID,
		Resource:  resource,
		Result:    result,
	}
	if payload != nil {
		digest, err := canonical.Hash(payload)
		if err != nil {
			return contracts.AuditEvent{}, err
		}
		ev.PayloadDigest = "sha256:" + digest
		if meta, ok := payload.(map[string]any); ok {
			ev.Metadata = meta
		}
	}
	return ev, nil
}

// Record builds the event's store record for coupled appends.
func (r *Recorder) Record(operation, userID, resource string, result contracts.AuditResult, payload any) (corpus.Record, error) {
	ev, err := r.Event(operation, userID, resource, result, payload)
	if err != nil {
		return nil, err
	}
	return repository.EventRecord(ev)
}

// Emit persists a standalone audit event (used where no data append is
// involved, e.g. denials and verification results).
func (r *Recorder) Emit(ctx context.Context, operation, userID, resource string, result contracts.AuditResult, payload any) error {
	ev, err := r.Event(operation, userID, resource, result, payload)
	if err != nil {
		return err
	}
	if err := r.repo.Append(ctx, ev); err != nil {
		slog.Error("audit emit failed", "operation", operation, "error", err)
		return err
	}
	return nil
}

func (r *Recorder) stamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Nanosecond)
	}
	r.last = now
	return now
}
