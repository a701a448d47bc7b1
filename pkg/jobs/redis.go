package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisQueueKey = "corpus:jobs"

// redisQueue brokers job ids through a redis list so multiple engine
// instances can share one queue.
type redisQueue struct {
	client *redis.Client
}

func newRedisQueue(ctx context.Context, brokerURL string) (*redisQueue, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("jobs: broker url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("jobs: broker unreachable: %w", err)
	}
	return &redisQueue{client: client}, nil
}

func (q *redisQueue) push(ctx context.Context, jobID string) error {
	return q.client.LPush(ctx, redisQueueKey, jobID).Err()
}

func (q *redisQueue) pop(ctx context.Context) (string, error) {
	for {
		res, err := q.client.BRPop(ctx, time.Second, redisQueueKey).Result()
		if err == redis.Nil {
			continue // poll timeout, re-check ctx via the next call
		}
		if err != nil {
			return "", err
		}
		// BRPOP returns [key, value].
		return res[1], nil
	}
}

func (q *redisQueue) depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, redisQueueKey).Result()
}

func (q *redisQueue) close() error { return q.client.Close() }
