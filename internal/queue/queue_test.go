package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
)

func testJob(id string) *domain.SendJob {
	return &domain.SendJob{
		JobID:       id,
		CampaignID:  "camp-1",
		MessageID:   "msg-" + id,
		Recipient:   domain.Recipient{ID: "1", Email: "user@example.com"},
		SenderEmail: "alerts@mail.example.com",
		Domain:      "mail.example.com",
		Day:         1,
		Hour:        9,
		Minute:      30,
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisQueue(client, "jobs:test", 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("a")))
	require.NoError(t, q.Enqueue(ctx, testJob("b")))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.JobID, "FIFO order")
	assert.Equal(t, "user@example.com", got.Recipient.Email)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", got.JobID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(8, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("a")))
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.JobID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, testJob("b")), ErrClosed)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 500*time.Millisecond, p.Backoff(4), "capped at MaxDelay")
}

func TestRetryPolicyDo(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = p.Do(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
