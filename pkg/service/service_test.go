package service_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
	"github.com/Mindburn-Labs/corpus/pkg/service"
)

const (
	ownerCredential = "owner-credential"
	ownerSalt       = "owner-salt"
)

func newContainer(t *testing.T) *service.Container {
	t.Helper()
	service.Reset()
	t.Cleanup(service.Reset)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.CorpusPath = filepath.Join(dir, "corpus.db")
	cfg.AudioDir = filepath.Join(dir, "audio")
	cfg.ExportsDir = filepath.Join(dir, "exports")
	cfg.PolicyPath = filepath.Join(dir, "policy.yaml")
	cfg.EmbeddingDim = 8
	cfg.ExportSigningKey = "service-test-key"
	cfg.MaxJobAttempts = 2

	store, err := corpus.Init(cfg.CorpusPath, ownerCredential, ownerSalt)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	c := service.NewContainer(cfg)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSessionLifecycle(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", map[string]any{"clinic": "east"})
	require.NoError(t, err)
	assert.Equal(t, contracts.SessionOpen, sess.State)

	require.NoError(t, c.Sessions.Finalize(ctx, ownerCredential, sess.SessionID, "u-1"))
	got, err := c.Sessions.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.SessionFinalized, got.State)

	err = c.Sessions.Finalize(ctx, ownerCredential, sess.SessionID, "u-1")
	assert.ErrorIs(t, err, corpuserr.ErrInvalidTransition, "finalized is not re-finalizable")

	require.NoError(t, c.Sessions.Archive(ctx, ownerCredential, sess.SessionID, "u-1"))
	err = c.Sessions.Archive(ctx, ownerCredential, sess.SessionID, "u-1")
	assert.ErrorIs(t, err, corpuserr.ErrInvalidTransition, "archived is terminal")
}

func TestWrongCredentialIsDeniedAndAudited(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	_, err := c.Sessions.Create(ctx, "not-the-owner", "u-1", nil)
	assert.ErrorIs(t, err, corpuserr.ErrOwnershipDenied)

	events, err := c.Audits.Query(ctx, repository.QueryFilter{Operation: audit.OpOwnershipDenied})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendInteractionNeedsOpenSession(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)
	require.NoError(t, c.Sessions.Finalize(ctx, ownerCredential, sess.SessionID, "u-1"))

	_, err = c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "p", Response: "r", Model: "echo",
	})
	assert.ErrorIs(t, err, corpuserr.ErrInvalidTransition)
}

func TestCorrectionTargetMustExist(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)

	_, err = c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "p", Response: "r", Model: "echo",
		Metadata: map[string]any{"correction_of": "no-such-interaction"},
	})
	assert.ErrorIs(t, err, corpuserr.ErrValidation)
}

func TestCorrectionAppendsNewInteraction(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)

	first, err := c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "dosage", Response: "10mg", Model: "echo",
	})
	require.NoError(t, err)

	second, err := c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "dosage", Response: "15mg", Model: "echo",
		Metadata: map[string]any{"correction_of": first},
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	original, err := c.Corpus.GetInteraction(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "10mg", original.Response, "corrections never rewrite the target")

	list, err := c.Corpus.ListInteractions(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSearchSimilarRanksEmbeddedInteraction(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)

	near, err := c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "alpha", Response: "beta", Model: "echo",
	})
	require.NoError(t, err)
	far, err := c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "something else entirely", Response: "unrelated", Model: "echo",
	})
	require.NoError(t, err)

	require.NoError(t, c.Corpus.EmbedInteraction(ctx, near, "echo"))
	require.NoError(t, c.Corpus.EmbedInteraction(ctx, far, "echo"))

	hits, err := c.Corpus.SearchSimilar(ctx, "echo", "alpha\nbeta", "u-1", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, near, hits[0].InteractionID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6, "identical text embeds identically")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMediaUploadRunsTranscription(t *testing.T) {
	c := newContainer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)

	jobID, artifactID, err := c.Media.UploadForTranscription(ctx, ownerCredential,
		sess.SessionID, "u-1", "visit.wav", strings.NewReader("RIFF fake audio payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, artifactID)

	var job *contracts.Job
	require.Eventually(t, func() bool {
		j, err := c.Media.Job(ctx, jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == contracts.JobSucceeded
	}, 10*time.Second, 20*time.Millisecond)
	assert.True(t, strings.HasPrefix(job.ResultRef, "transcript/"))

	segments, err := c.Media.Transcript(ctx, jobID)
	require.NoError(t, err)
	require.NotEmpty(t, segments)
	assert.Contains(t, segments[0].Text, "[transcript ")
}

func TestMediaUploadRejectsUnsupportedExtension(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)

	_, _, err = c.Media.UploadForTranscription(ctx, ownerCredential,
		sess.SessionID, "u-1", "notes.txt", strings.NewReader("not audio"))
	assert.ErrorIs(t, err, corpuserr.ErrUnsupportedMedia)
}

func TestMediaReuploadIsIdempotentPerKind(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)

	payload := "RIFF identical payload"
	jobA, _, err := c.Media.UploadForTranscription(ctx, ownerCredential,
		sess.SessionID, "u-1", "a.wav", strings.NewReader(payload))
	require.NoError(t, err)
	jobB, _, err := c.Media.UploadForTranscription(ctx, ownerCredential,
		sess.SessionID, "u-1", "b.wav", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, jobA, jobB, "same audio content dedupes to one transcribe job")

	jobC, _, err := c.Media.UploadForDiarization(ctx, ownerCredential,
		sess.SessionID, "u-1", "a.wav", strings.NewReader(payload))
	require.NoError(t, err)
	assert.NotEqual(t, jobA, jobC, "diarization of the same audio is distinct work")
}

func TestExportLifecycle(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, ownerCredential, "u-1", nil)
	require.NoError(t, err)
	_, err = c.Corpus.AppendInteraction(ctx, ownerCredential, contracts.Interaction{
		SessionID: sess.SessionID, Prompt: "p", Response: "r", Model: "echo",
	})
	require.NoError(t, err)

	e, err := c.Exports.Create(ctx, ownerCredential, "u-1", []string{"sessions", "interactions"}, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.ExportID, "exp-"))

	report, err := c.Exports.Verify(ctx, e.ExportID, "u-1")
	require.NoError(t, err)
	assert.True(t, report.OK())

	require.NoError(t, c.Exports.Delete(ctx, ownerCredential, e.ExportID, "u-1"))
	err = c.Exports.Delete(ctx, ownerCredential, e.ExportID, "u-1")
	assert.ErrorIs(t, err, corpuserr.ErrInvalidTransition)

	got, err := c.Exports.Get(ctx, e.ExportID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)
}
