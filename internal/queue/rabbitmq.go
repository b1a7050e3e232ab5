package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// broker is the part of shared/rabbitmq.Client the queue needs.
type broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitQueue publishes persistent messages and consumes them with manual acks.
// Prefetch is applied by the client, so a worker holds at most that many jobs.
type RabbitQueue struct {
	broker      broker
	consumerTag string
	logger      *slog.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitQueue wraps a connected broker client.
func NewRabbitQueue(b broker, consumerTag string, logger *slog.Logger) *RabbitQueue {
	return &RabbitQueue{
		broker:      b,
		consumerTag: consumerTag,
		logger:      logger,
	}
}

func (q *RabbitQueue) Enqueue(ctx context.Context, jobID string) error {
	body, err := encodeMessage(jobID)
	if err != nil {
		return err
	}
	if err := q.broker.PublishWithRetry(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RabbitQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.broker.Consume(q.consumerTag)
	if err != nil {
		return nil, err
	}
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitQueue) Dequeue(ctx context.Context) (*Message, error) {
	deliveries, err := q.consume()
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil, ErrClosed
			}

			jobID, err := decodeMessage(d.Body)
			if err != nil {
				q.logger.Error("Rejecting malformed queue message",
					slog.Uint64("delivery_tag", d.DeliveryTag),
					slog.String("error", err.Error()),
				)
				if nackErr := d.Nack(false, false); nackErr != nil {
					q.logger.Error("Failed to reject message", slog.String("error", nackErr.Error()))
				}
				continue
			}

			return &Message{
				JobID: jobID,
				ack: func(context.Context) error {
					return d.Ack(false)
				},
				nack: func(_ context.Context, requeue bool) error {
					return d.Nack(false, requeue)
				},
			}, nil
		}
	}
}

func (q *RabbitQueue) Close() error {
	return q.broker.Close()
}
