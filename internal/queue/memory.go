package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process FIFO for tests and single-process runs.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []string
	signal  chan struct{}
	closed  chan struct{}
	closeMu sync.Once
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string) error {
	if _, err := encodeMessage(jobID); err != nil {
		return err
	}
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	q.mu.Lock()
	q.items = append(q.items, jobID)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			jobID := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.wake()
			}
			q.mu.Unlock()
			return q.message(jobID), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, ErrClosed
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) message(jobID string) *Message {
	return &Message{
		JobID: jobID,
		nack: func(_ context.Context, requeue bool) error {
			if !requeue {
				return nil
			}
			q.mu.Lock()
			q.items = append([]string{jobID}, q.items...)
			q.mu.Unlock()
			q.wake()
			return nil
		},
	}
}

// Len returns the number of waiting messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) Close() error {
	q.closeMu.Do(func() { close(q.closed) })
	return nil
}
