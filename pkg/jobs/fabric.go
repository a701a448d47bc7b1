package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// Handler executes one job kind. It returns a reference to the produced
// result (transcript id, export id, ...) on success.
type Handler func(ctx context.Context, job *contracts.Job) (resultRef string, err error)

// Fabric enqueues jobs and runs them on a bounded worker pool. Every status
// transition is an appended job event with a coupled audit event; the fabric
// never updates a row in place.
type Fabric struct {
	cfg      *config.Config
	repo     *repository.JobRepository
	recorder *audit.Recorder
	queue    queue

	mu       sync.RWMutex
	handlers map[contracts.JobKind]Handler

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	cancel context.CancelFunc
	clock  func() time.Time
	runs   metric.Int64Counter
}

// NewFabric probes the execution mode: distributed when a broker is
// configured and reachable, native otherwise.
func NewFabric(ctx context.Context, cfg *config.Config, repo *repository.JobRepository, recorder *audit.Recorder) (*Fabric, error) {
	var q queue
	if cfg.JobMode == config.JobModeDistributed {
		rq, err := newRedisQueue(ctx, cfg.BrokerURL)
		if err != nil {
			return nil, err
		}
		q = rq
		slog.Info("job fabric mode", "mode", "distributed", "broker", cfg.BrokerURL)
	} else {
		q = newNativeQueue(cfg.QueueThreshold * 2)
		slog.Info("job fabric mode", "mode", "native", "concurrency", cfg.WorkerConcurrency)
	}
	return &Fabric{
		cfg:      cfg,
		repo:     repo,
		recorder: recorder,
		queue:    q,
		handlers: make(map[contracts.JobKind]Handler),
		sem:      semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		clock:    time.Now,
	}, nil
}

// WithRunCounter wires the terminal-run instrument. Set once at startup,
// before Start.
func (f *Fabric) WithRunCounter(c metric.Int64Counter) *Fabric {
	f.runs = c
	return f
}

// RegisterHandler binds a handler to a job kind. Enqueue rejects kinds
// without a handler.
func (f *Fabric) RegisterHandler(kind contracts.JobKind, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = h
}

func (f *Fabric) handler(kind contracts.JobKind) (Handler, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.handlers[kind]
	return h, ok
}

// Enqueue admits one job. Admission order: backpressure check, idempotency
// check, then the job record with its JOB_ENQUEUED audit event. A rejected
// enqueue creates no job record.
func (f *Fabric) Enqueue(ctx context.Context, kind contracts.JobKind, inputRef, inputDigest, userID string) (string, error) {
	if _, ok := f.handler(kind); !ok {
		return "", fmt.Errorf("%w: no handler for job kind %q", corpuserr.ErrValidation, kind)
	}

	depth, err := f.queue.depth(ctx)
	if err != nil {
		return "", fmt.Errorf("jobs: queue depth: %w", err)
	}
	if depth >= int64(f.cfg.QueueThreshold) {
		_ = f.recorder.Emit(ctx, audit.OpBackpressureReject, userID, string(kind), contracts.ResultDenied,
			map[string]any{"depth": depth, "threshold": f.cfg.QueueThreshold})
		return "", fmt.Errorf("%w: queue depth %d at threshold %d", corpuserr.ErrBackPressure, depth, f.cfg.QueueThreshold)
	}

	if inputDigest != "" {
		existing, err := f.repo.FindActiveByDigest(ctx, inputDigest)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	job := contracts.Job{
		JobID:       uuid.New().String(),
		Kind:        kind,
		InputRef:    inputRef,
		InputDigest: inputDigest,
		CreatedAt:   f.clock().UTC(),
	}
	auditRec, err := f.recorder.Record(audit.OpJobEnqueued, userID, job.JobID, contracts.ResultSuccess,
		map[string]any{"kind": string(kind), "input_digest": inputDigest})
	if err != nil {
		return "", err
	}
	if err := f.repo.Create(ctx, job, auditRec); err != nil {
		return "", err
	}
	if err := f.queue.push(ctx, job.JobID); err != nil {
		// The pending record stays; a worker restart can re-admit it.
		slog.Error("job push failed", "job_id", job.JobID, "error", err)
		return "", err
	}
	return job.JobID, nil
}

// RequestCancel appends the advisory cancel event. Workers honor it between
// retry attempts; a job already terminal cannot be cancelled.
func (f *Fabric) RequestCancel(ctx context.Context, jobID, userID string) error {
	job, err := f.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == contracts.JobSucceeded || job.Status == contracts.JobFailed {
		return fmt.Errorf("%w: job %s is %s", corpuserr.ErrInvalidTransition, jobID, job.Status)
	}
	auditRec, err := f.recorder.Record(audit.OpJobCancelRequested, userID, jobID, contracts.ResultSuccess, nil)
	if err != nil {
		return err
	}
	return f.repo.AppendEvent(ctx, contracts.JobEvent{
		JobID:     jobID,
		Kind:      job.Kind,
		Status:    contracts.JobCancelRequested,
		Attempts:  job.Attempts,
		Timestamp: f.clock().UTC(),
	}, auditRec)
}

// CancelRequested reports whether a cancel event has been appended.
func (f *Fabric) CancelRequested(ctx context.Context, jobID string) bool {
	job, err := f.repo.Get(ctx, jobID)
	return err == nil && job.CancelAsked
}

// QueueDepth exposes the broker depth for backpressure and metrics.
func (f *Fabric) QueueDepth(ctx context.Context) int64 {
	depth, err := f.queue.depth(ctx)
	if err != nil {
		return 0
	}
	return depth
}

// Start launches the dispatcher. Workers are admitted by a weighted
// semaphore so at most WorkerConcurrency jobs run at once.
func (f *Fabric) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			jobID, err := f.queue.pop(runCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				slog.Error("job pop failed", "error", err)
				continue
			}
			if err := f.sem.Acquire(runCtx, 1); err != nil {
				return
			}
			f.wg.Add(1)
			go func(id string) {
				defer f.wg.Done()
				defer f.sem.Release(1)
				f.execute(runCtx, id)
			}(jobID)
		}
	}()
}

// Stop drains the pool and closes the broker.
func (f *Fabric) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	_ = f.queue.close()
}

// execute runs one job to a terminal status. Transient handler errors are
// retried with exponential backoff up to max_job_attempts; validation errors
// and cancel requests end the job immediately.
func (f *Fabric) execute(ctx context.Context, jobID string) {
	job, err := f.repo.Get(ctx, jobID)
	if err != nil {
		slog.Error("job fetch failed", "job_id", jobID, "error", err)
		return
	}
	handler, ok := f.handler(job.Kind)
	if !ok {
		f.finish(ctx, job, 0, "", fmt.Errorf("%w: no handler for kind %q", corpuserr.ErrValidation, job.Kind))
		return
	}

	if err := f.transition(ctx, job, contracts.JobRunning, audit.OpJobStarted, 1, "", "", ""); err != nil {
		slog.Error("job start transition failed", "job_id", jobID, "error", err)
		return
	}

	attempts := 0
	var resultRef string
	op := func() error {
		if f.CancelRequested(ctx, jobID) {
			return backoff.Permanent(errCancelled)
		}
		attempts++
		runCtx, cancel := context.WithTimeout(ctx, f.cfg.JobTimeout(string(job.Kind)))
		defer cancel()

		ref, err := handler(runCtx, job)
		if err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timeout after %s: %w", f.cfg.JobTimeout(string(job.Kind)), err)
			}
			if errors.Is(err, corpuserr.ErrValidation) || errors.Is(err, corpuserr.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		resultRef = ref
		return nil
	}

	maxRetries := uint64(0)
	if f.cfg.MaxJobAttempts > 1 {
		maxRetries = uint64(f.cfg.MaxJobAttempts - 1)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		f.finish(ctx, job, attempts, "", err)
		return
	}
	f.finish(ctx, job, attempts, resultRef, nil)
}

var errCancelled = errors.New("cancel requested")

// finish appends the terminal event. A failure carries both the scrubbed
// message and its taxonomy class, matching the server envelope convention.
func (f *Fabric) finish(ctx context.Context, job *contracts.Job, attempts int, resultRef string, failure error) {
	status := contracts.JobSucceeded
	op := audit.OpJobSucceeded
	cause, class := "", ""
	if failure != nil {
		status = contracts.JobFailed
		op = audit.OpJobFailed
		cause = failure.Error()
		class = corpuserr.StatusLabel(failure)
		if errors.Is(failure, errCancelled) {
			cause = "cancelled"
			class = "CANCELLED"
		}
	}
	if err := f.transition(ctx, job, status, op, attempts, resultRef, cause, class); err != nil {
		slog.Error("job finish transition failed", "job_id", job.JobID, "status", status, "error", err)
	}
	if f.runs != nil {
		f.runs.Add(ctx, 1)
	}
}

func (f *Fabric) transition(ctx context.Context, job *contracts.Job, status contracts.JobStatus, op string, attempts int, resultRef, cause, class string) error {
	result := contracts.ResultSuccess
	if status == contracts.JobFailed {
		result = contracts.ResultFailure
	}
	auditRec, err := f.recorder.Record(op, "", job.JobID, result,
		map[string]any{"kind": string(job.Kind), "attempts": attempts, "error": cause, "error_class": class})
	if err != nil {
		return err
	}
	return f.repo.AppendEvent(ctx, contracts.JobEvent{
		JobID:     job.JobID,
		Kind:      job.Kind,
		Status:    status,
		Attempts:  attempts,
		Error:     cause,
		ResultRef: resultRef,
		Timestamp: f.clock().UTC(),
	}, auditRec)
}
