package audit

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/corpus/pkg/canonical"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// Digest summarizes a compacted month of audit events. The aggregate hash
// is retained forever; the raw rows are removed.
type Digest struct {
	DigestID      string `json:"digest_id"`
	Period        string `json:"period"`
	EventCount    int    `json:"event_count"`
	AggregateHash string `json:"aggregate_hash"`
}

// Sweeper compacts audit events older than the retention window into
// HS256-signed monthly digests. It runs daily until stopped.
type Sweeper struct {
	store         *corpus.Store
	repo          *repository.AuditRepository
	recorder      *Recorder
	retentionDays int
	signingKey    []byte
	clock         func() time.Time
}

// NewSweeper wires a retention sweeper. retentionDays below 1 falls back
// to 90.
func NewSweeper(store *corpus.Store, repo *repository.AuditRepository, recorder *Recorder, retentionDays int, signingKey []byte) *Sweeper {
	if retentionDays < 1 {
		retentionDays = 90
	}
	return &Sweeper{
		store:         store,
		repo:          repo,
		recorder:      recorder,
		retentionDays: retentionDays,
		signingKey:    signingKey,
		clock:         time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps once a day until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("audit retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep compacts everything older than the retention window, one digest per
// calendar month, and returns the number of removed rows.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().AddDate(0, 0, -s.retentionDays)
	aged, err := s.repo.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(aged) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]contracts.AuditEvent)
	for _, e := range aged {
		period := e.Timestamp.UTC().Format("2006-01")
		byMonth[period] = append(byMonth[period], e)
	}

	var removed int64
	for period, events := range byMonth {
		digest, sig, err := s.buildDigest(period, events)
		if err != nil {
			return removed, err
		}
		// Compact up to the end of this month's events, bounded by cutoff.
		monthEnd := events[len(events)-1].Timestamp.Add(time.Nanosecond)
		if monthEnd.After(cutoff) {
			monthEnd = cutoff
		}
		n, err := s.store.CompactAuditEvents(ctx, monthEnd, corpus.Record{
			"digest_id":      digest.DigestID,
			"period":         digest.Period,
			"event_count":    digest.EventCount,
			"aggregate_hash": digest.AggregateHash,
			"signature":      sig,
			"created_at":     s.clock().UTC().Format(corpus.TimeLayout),
		})
		if err != nil {
			return removed, err
		}
		removed += n
		_ = s.recorder.Emit(ctx, OpAuditCompacted, "system", "audit/"+period, contracts.ResultSuccess, digest)
		slog.Info("audit events compacted", "period", period, "events", digest.EventCount)
	}
	return removed, nil
}

func (s *Sweeper) buildDigest(period string, events []contracts.AuditEvent) (Digest, string, error) {
	agg, err := canonical.Hash(events)
	if err != nil {
		return Digest{}, "", err
	}
	d := Digest{
		DigestID:      uuid.New().String(),
		Period:        period,
		EventCount:    len(events),
		AggregateHash: "sha256:" + agg,
	}
	body, err := canonical.Marshal(d)
	if err != nil {
		return Digest{}, "", err
	}
	raw, err := jwt.SigningMethodHS256.Sign(string(body), s.signingKey)
	if err != nil {
		return Digest{}, "", fmt.Errorf("audit: sign digest: %w", err)
	}
	return d, base64.RawURLEncoding.EncodeToString(raw), nil
}

// VerifyDigest checks a digest signature against the signing key.
func VerifyDigest(d Digest, signature string, key []byte) error {
	body, err := canonical.Marshal(d)
	if err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("audit: decode signature: %w", err)
	}
	return jwt.SigningMethodHS256.Verify(string(body), raw, key)
}
