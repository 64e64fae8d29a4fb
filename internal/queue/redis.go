package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/domain"
)

// RedisQueue is a Redis list used as a FIFO job queue: LPUSH to enqueue,
// BRPOP to dequeue. Jobs survive engine restarts but not Redis flushes.
type RedisQueue struct {
	client  *redis.Client
	key     string
	popWait time.Duration
}

// NewRedisQueue creates a Redis-backed queue on the given list key.
func NewRedisQueue(client *redis.Client, key string, popWait time.Duration) *RedisQueue {
	if popWait <= 0 {
		popWait = 2 * time.Second
	}
	return &RedisQueue{client: client, key: key, popWait: popWait}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.SendJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.SendJob, error) {
	res, err := q.client.BRPop(ctx, q.popWait, q.key).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", q.key, err)
	}
	// BRPOP returns [key, value].
	var job domain.SendJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error { return nil }
