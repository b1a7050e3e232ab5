package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// pollTimeout bounds each blocking pop so ctx is checked regularly.
const pollTimeout = time.Second

// RedisQueue is a Redis list. Producers LPUSH; the consumer atomically moves the
// oldest entry to a processing list and removes it from there on Ack.
type RedisQueue struct {
	client     *redis.Client
	name       string
	processing string
	logger     *slog.Logger
}

// NewRedisQueue creates a queue on the list called name.
func NewRedisQueue(client *redis.Client, name string, logger *slog.Logger) *RedisQueue {
	if name == "" {
		name = DefaultName
	}
	return &RedisQueue{
		client:     client,
		name:       name,
		processing: name + ":processing",
		logger:     logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	body, err := encodeMessage(jobID)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.name, body).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Recover puts messages left in the processing list by a crashed consumer back at
// the head of the queue. It returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.name, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
		moved++
	}
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := q.client.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("failed to dequeue job: %w", err)
		}

		jobID, err := decodeMessage([]byte(body))
		if err != nil {
			q.logger.Error("Dropping malformed queue message",
				slog.String("queue", q.name),
				slog.String("body", body),
				slog.String("error", err.Error()),
			)
			if remErr := q.client.LRem(ctx, q.processing, 1, body).Err(); remErr != nil {
				q.logger.Error("Failed to remove malformed message", slog.String("error", remErr.Error()))
			}
			continue
		}

		return q.message(jobID, body), nil
	}
}

func (q *RedisQueue) message(jobID, body string) *Message {
	return &Message{
		JobID: jobID,
		ack: func(ctx context.Context) error {
			return q.client.LRem(ctx, q.processing, 1, body).Err()
		},
		nack: func(ctx context.Context, requeue bool) error {
			_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, q.processing, 1, body)
				if requeue {
					pipe.RPush(ctx, q.name, body)
				}
				return nil
			})
			return err
		},
	}
}

// Close leaves the shared client open; its owner closes it.
func (q *RedisQueue) Close() error {
	return nil
}
