package jobs_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/jobs"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

type fixture struct {
	fabric *jobs.Fabric
	repo   *repository.JobRepository
	audits *repository.AuditRepository
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	store, err := corpus.Init(filepath.Join(t.TempDir(), "corpus.db"), "cred", "salt")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.MaxJobAttempts = 2
	if mutate != nil {
		mutate(cfg)
	}

	jobRepo := repository.NewJobRepository(store)
	auditRepo := repository.NewAuditRepository(store)
	fabric, err := jobs.NewFabric(context.Background(), cfg, jobRepo, audit.NewRecorder(auditRepo))
	require.NoError(t, err)
	return &fixture{fabric: fabric, repo: jobRepo, audits: auditRepo}
}

func waitForStatus(t *testing.T, repo *repository.JobRepository, jobID string, want contracts.JobStatus) *contracts.Job {
	t.Helper()
	var job *contracts.Job
	require.Eventually(t, func() bool {
		j, err := repo.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 10*time.Second, 20*time.Millisecond)
	return job
}

func TestEnqueueRequiresHandler(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.fabric.Enqueue(context.Background(), contracts.JobEmbed, "i-1", "d-1", "u-1")
	assert.ErrorIs(t, err, corpuserr.ErrValidation)
}

func TestEnqueueIsIdempotentPerDigest(t *testing.T) {
	f := newFixture(t, nil)
	f.fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "", nil
	})
	ctx := context.Background()

	first, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-1", "digest-1", "u-1")
	require.NoError(t, err)
	second, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-1", "digest-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "same input digest returns the existing job")

	events, err := f.audits.Query(ctx, repository.QueryFilter{Operation: audit.OpJobEnqueued})
	require.NoError(t, err)
	assert.Len(t, events, 1, "one JOB_ENQUEUED event for one admitted job")
}

func TestBackpressureRejectsWithoutJobRecord(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.QueueThreshold = 0 })
	f.fabric.RegisterHandler(contracts.JobTranscribe, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "", nil
	})
	ctx := context.Background()

	_, err := f.fabric.Enqueue(ctx, contracts.JobTranscribe, "a-1", "d-1", "u-1")
	assert.ErrorIs(t, err, corpuserr.ErrBackPressure)

	events, err := f.audits.Query(ctx, repository.QueryFilter{Operation: audit.OpBackpressureReject})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.ResultDenied, events[0].Result)

	enqueued, err := f.audits.Query(ctx, repository.QueryFilter{Operation: audit.OpJobEnqueued})
	require.NoError(t, err)
	assert.Empty(t, enqueued, "a rejected enqueue creates no job")
}

func TestExecuteRunsToSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "embedding/" + job.InputRef, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fabric.Start(ctx)
	defer f.fabric.Stop()

	jobID, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-1", "d-success", "u-1")
	require.NoError(t, err)

	job := waitForStatus(t, f.repo, jobID, contracts.JobSucceeded)
	assert.Equal(t, "embedding/i-1", job.ResultRef)
	assert.Equal(t, 1, job.Attempts)

	events, err := f.audits.Query(context.Background(), repository.QueryFilter{Operation: audit.OpJobSucceeded})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestExecuteValidationErrorIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "", fmt.Errorf("%w: malformed input", corpuserr.ErrValidation)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fabric.Start(ctx)
	defer f.fabric.Stop()

	jobID, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-bad", "d-bad", "u-1")
	require.NoError(t, err)

	job := waitForStatus(t, f.repo, jobID, contracts.JobFailed)
	assert.Equal(t, 1, job.Attempts, "validation errors are not retried")
	assert.Contains(t, job.Error, "malformed input")

	events, err := f.audits.Query(context.Background(), repository.QueryFilter{Operation: audit.OpJobFailed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "VALIDATION_ERROR", events[0].Metadata["error_class"])
	assert.Contains(t, events[0].Metadata["error"], "malformed input")
}

func TestExecuteCountsTerminalRuns(t *testing.T) {
	f := newFixture(t, nil)
	f.fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "ok", nil
	})

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	counter, err := meter.Int64Counter("runs")
	require.NoError(t, err)
	f.fabric.WithRunCounter(counter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fabric.Start(ctx)
	defer f.fabric.Stop()

	jobID, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-1", "d-counted", "u-1")
	require.NoError(t, err)
	waitForStatus(t, f.repo, jobID, contracts.JobSucceeded)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value, "one count per terminal run")
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, nil)
	calls := 0
	f.fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("transient store hiccup")
		}
		return "ok", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fabric.Start(ctx)
	defer f.fabric.Stop()

	jobID, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-1", "d-retry", "u-1")
	require.NoError(t, err)

	job := waitForStatus(t, f.repo, jobID, contracts.JobSucceeded)
	assert.Equal(t, 2, job.Attempts)
}

func TestCancelIsAdvisory(t *testing.T) {
	f := newFixture(t, nil)
	f.fabric.RegisterHandler(contracts.JobTranscribe, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "", nil
	})
	ctx := context.Background()

	// Fabric not started: the job stays pending.
	jobID, err := f.fabric.Enqueue(ctx, contracts.JobTranscribe, "a-1", "d-1", "u-1")
	require.NoError(t, err)

	require.NoError(t, f.fabric.RequestCancel(ctx, jobID, "u-1"))

	job, err := f.repo.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, contracts.JobPending, job.Status, "cancel does not change the folded status")
	assert.True(t, job.CancelAsked)
	assert.True(t, f.fabric.CancelRequested(ctx, jobID))

	events, err := f.audits.Query(ctx, repository.QueryFilter{Operation: audit.OpJobCancelRequested})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestQueueDepth(t *testing.T) {
	f := newFixture(t, nil)
	f.fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		return "", nil
	})
	ctx := context.Background()

	assert.Zero(t, f.fabric.QueueDepth(ctx))
	_, err := f.fabric.Enqueue(ctx, contracts.JobEmbed, "i-1", "d-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.fabric.QueueDepth(ctx))
}
