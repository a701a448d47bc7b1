// Package jobs runs background work over the append-only job event stream.
// The fabric has two execution modes: native (in-process worker pool) and
// distributed (redis list broker). Job state lives in the corpus either way;
// the queue only carries job ids.
package jobs

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// queue carries pending job ids to workers.
type queue interface {
	push(ctx context.Context, jobID string) error
	// pop blocks until a job id is available or ctx is done.
	pop(ctx context.Context) (string, error)
	depth(ctx context.Context) (int64, error)
	close() error
}

// nativeQueue is a buffered in-process channel.
type nativeQueue struct {
	ch chan string
}

func newNativeQueue(capacity int) *nativeQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &nativeQueue{ch: make(chan string, capacity)}
}

func (q *nativeQueue) push(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: job queue full", corpuserr.ErrBackPressure)
	}
}

func (q *nativeQueue) pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *nativeQueue) depth(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

func (q *nativeQueue) close() error { return nil }
