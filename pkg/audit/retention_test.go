package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

var signingKey = []byte("test-signing-key")

func TestSweepCompactsAgedEventsIntoSignedDigest(t *testing.T) {
	store, repo, rec := newAuditFixture(t)
	ctx := context.Background()

	// Three events deep in the past, well outside a 90 day window.
	old := time.Date(2020, 5, 10, 8, 0, 0, 0, time.UTC)
	rec.WithClock(func() time.Time { old = old.Add(time.Minute); return old })
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Emit(ctx, audit.OpSessionCreated, "u-1", "session/old", contracts.ResultSuccess, nil))
	}

	sweeper := audit.NewSweeper(store, repo, audit.NewRecorder(repo), 90, signingKey)
	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	// The digest row is signed and verifiable.
	row := store.SelectRow(ctx, `SELECT digest_id, period, event_count, aggregate_hash, signature FROM audit_digests`)
	var d audit.Digest
	var sig string
	require.NoError(t, row.Scan(&d.DigestID, &d.Period, &d.EventCount, &d.AggregateHash, &sig))
	assert.Equal(t, "2020-05", d.Period)
	assert.Equal(t, 3, d.EventCount)
	require.NoError(t, audit.VerifyDigest(d, sig, signingKey))
	assert.Error(t, audit.VerifyDigest(d, sig, []byte("other-key")), "wrong key fails verification")

	// The compaction itself lands on the audit trail.
	events, err := repo.Query(ctx, repository.QueryFilter{Operation: audit.OpAuditCompacted})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// The raw aged rows are gone.
	aged, err := repo.Query(ctx, repository.QueryFilter{Operation: audit.OpSessionCreated})
	require.NoError(t, err)
	assert.Empty(t, aged)
}

func TestSweepNoopWhenNothingAged(t *testing.T) {
	store, repo, _ := newAuditFixture(t)

	sweeper := audit.NewSweeper(store, repo, audit.NewRecorder(repo), 90, signingKey)
	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed, "init's own event is within the window")

	n, err := store.Count(context.Background(), corpus.GroupAuditDigests)
	require.NoError(t, err)
	assert.Zero(t, n)
}
