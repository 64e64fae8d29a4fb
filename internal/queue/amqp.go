package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/ignite/campaign-engine/internal/domain"
)

// AMQPQueue is a durable RabbitMQ queue. Messages are acked only after they
// unmarshal cleanly; malformed payloads are rejected without requeue so they
// cannot wedge the consumer.
type AMQPQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	name       string
	deliveries <-chan amqp.Delivery
	popWait    time.Duration
}

// NewAMQPQueue dials the broker and declares a durable queue.
func NewAMQPQueue(url, name string, popWait time.Duration) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	if popWait <= 0 {
		popWait = 2 * time.Second
	}
	return &AMQPQueue{conn: conn, ch: ch, name: name, popWait: popWait}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job *domain.SendJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.ch.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	})
}

func (q *AMQPQueue) Dequeue(ctx context.Context) (*domain.SendJob, error) {
	if q.deliveries == nil {
		deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("consume %s: %w", q.name, err)
		}
		q.deliveries = deliveries
	}

	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		var job domain.SendJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			d.Nack(false, false)
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		d.Ack(false)
		return &job, nil
	case <-time.After(q.popWait):
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth inspects the queue without consuming.
func (q *AMQPQueue) Depth(ctx context.Context) (int64, error) {
	state, err := q.ch.QueueInspect(q.name)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", q.name, err)
	}
	return int64(state.Messages), nil
}

func (q *AMQPQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}
