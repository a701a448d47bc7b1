package export_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/export"
	"github.com/Mindburn-Labs/corpus/pkg/policy"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

var signingKey = []byte("export-test-key")

func newBuilder(t *testing.T) (*export.Builder, *corpus.Store) {
	t.Helper()
	policy.Reset()
	t.Cleanup(policy.Reset)

	store, err := corpus.Init(filepath.Join(t.TempDir(), "corpus.db"), "cred", "salt")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := repository.NewCorpusRepository(store, 4)
	sessions := repository.NewSessionRepository(store)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, contracts.Session{
		SessionID: "s-1", UserID: "u-1", CreatedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}, nil))
	_, err = repo.AppendInteraction(ctx, contracts.Interaction{
		InteractionID: "i-1", SessionID: "s-1",
		Prompt:   "patient reachable at jane.doe@example.com",
		Response: "noted",
		Model:    "echo", Timestamp: time.Date(2026, 8, 1, 9, 5, 0, 0, time.UTC),
	}, nil)
	require.NoError(t, err)

	builder := export.NewBuilder(store, t.TempDir(), signingKey)
	builder.WithClock(func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) })
	return builder, store
}

func TestBuildIsDeterministic(t *testing.T) {
	builder, _ := newBuilder(t)
	ctx := context.Background()

	a, err := builder.Build(ctx, []string{"interactions", "sessions"})
	require.NoError(t, err)
	b, err := builder.Build(ctx, []string{"interactions", "sessions"})
	require.NoError(t, err)

	assert.Equal(t, a.ExportID, b.ExportID, "same content and clock yield the same id")
	require.Equal(t, len(a.Artifacts), len(b.Artifacts))
	for i := range a.Artifacts {
		assert.Equal(t, a.Artifacts[i].SHA256, b.Artifacts[i].SHA256)
	}
}

func TestBuildRedactsPII(t *testing.T) {
	builder, _ := newBuilder(t)

	e, err := builder.Build(context.Background(), []string{"interactions"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(builder.Dir(e.ExportID), "artifacts", "interactions.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "jane.doe@example.com")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestBuildSnapshotsGroupsAtOneBound(t *testing.T) {
	policy.Reset()
	t.Cleanup(policy.Reset)

	store, err := corpus.Init(filepath.Join(t.TempDir(), "corpus.db"), "cred", "salt")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := repository.NewCorpusRepository(store, 4)
	sessions := repository.NewSessionRepository(store)
	builder := export.NewBuilder(store, t.TempDir(), signingKey)
	ctx := context.Background()

	// The interaction is always appended before its session, so any bundle
	// holding a session must also hold that interaction.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			default:
			}
			id := fmt.Sprintf("%06d", n)
			if _, err := repo.AppendInteraction(ctx, contracts.Interaction{
				InteractionID: "i-" + id, SessionID: "s-" + id,
				Prompt: "note", Response: "noted",
				Model: "echo", Timestamp: time.Now().UTC(),
			}, nil); err != nil {
				return
			}
			if err := sessions.Create(ctx, contracts.Session{
				SessionID: "s-" + id, UserID: "u-1", CreatedAt: time.Now().UTC(),
			}, nil); err != nil {
				return
			}
		}
	}()

	readRows := func(exportID, name string) []map[string]any {
		data, err := os.ReadFile(filepath.Join(builder.Dir(exportID), "artifacts", name))
		require.NoError(t, err)
		var rows []map[string]any
		require.NoError(t, json.Unmarshal(data, &rows))
		return rows
	}

	for i := 0; i < 25; i++ {
		e, err := builder.Build(ctx, []string{"interactions", "sessions"})
		require.NoError(t, err)

		have := make(map[string]bool)
		for _, row := range readRows(e.ExportID, "interactions.json") {
			id, _ := row["interaction_id"].(string)
			have[strings.TrimPrefix(id, "i-")] = true
		}
		for _, row := range readRows(e.ExportID, "sessions.json") {
			id, _ := row["session_id"].(string)
			assert.True(t, have[strings.TrimPrefix(id, "s-")],
				"bundle %s holds session %s without the interaction appended before it", e.ExportID, id)
		}
	}
	close(stop)
	<-done
}

func TestBuildRejectsUnknownTarget(t *testing.T) {
	builder, _ := newBuilder(t)
	_, err := builder.Build(context.Background(), []string{"no_such_group"})
	assert.ErrorIs(t, err, corpuserr.ErrValidation)
}

func TestVerifyIntactBundle(t *testing.T) {
	builder, _ := newBuilder(t)

	e, err := builder.Build(context.Background(), []string{"interactions", "sessions"})
	require.NoError(t, err)

	report, err := export.Verify(builder.Dir(e.ExportID), signingKey)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.True(t, report.SignatureValid)
	assert.Empty(t, report.Mismatches)
	assert.Equal(t, e.ExportID, report.ExportID)
}

func TestVerifyDetectsByteFlip(t *testing.T) {
	builder, _ := newBuilder(t)

	e, err := builder.Build(context.Background(), []string{"interactions"})
	require.NoError(t, err)

	artifact := filepath.Join(builder.Dir(e.ExportID), "artifacts", "interactions.json")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(artifact, data, 0o600))

	report, err := export.Verify(builder.Dir(e.ExportID), signingKey)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.True(t, report.SignatureValid, "manifest itself is untouched")
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, "artifacts/interactions.json", report.Mismatches[0].Artifact)
	assert.Equal(t, e.Artifacts[0].SHA256, report.Mismatches[0].Expected)
	assert.NotEqual(t, report.Mismatches[0].Expected, report.Mismatches[0].Actual)
}

func TestVerifyDetectsManifestTampering(t *testing.T) {
	builder, _ := newBuilder(t)

	e, err := builder.Build(context.Background(), []string{"interactions"})
	require.NoError(t, err)

	manifest := filepath.Join(builder.Dir(e.ExportID), "manifest.json")
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["corpus_id"] = "someone-elses-corpus"
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifest, tampered, 0o600))

	report, err := export.Verify(builder.Dir(e.ExportID), signingKey)
	require.NoError(t, err)
	assert.False(t, report.SignatureValid)
}

func TestVerifyWrongKey(t *testing.T) {
	builder, _ := newBuilder(t)

	e, err := builder.Build(context.Background(), []string{"interactions"})
	require.NoError(t, err)

	report, err := export.Verify(builder.Dir(e.ExportID), []byte("other-key"))
	require.NoError(t, err)
	assert.False(t, report.SignatureValid)
}

func TestSignRoundTrip(t *testing.T) {
	sig, err := export.Sign([]byte("payload"), signingKey)
	require.NoError(t, err)
	assert.NotContains(t, sig, "=", "unpadded base64url")
	require.NoError(t, export.VerifySignature([]byte("payload"), sig, signingKey))
	assert.ErrorIs(t, export.VerifySignature([]byte("payload2"), sig, signingKey), corpuserr.ErrIntegrity)
}
