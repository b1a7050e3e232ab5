// Package queue carries job ids from the payment gate to the worker service in FIFO
// order. Consumers receive one message at a time and must Ack or Nack it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultName is the queue (or Redis list) used when none is configured.
const DefaultName = "queue:vanity"

var (
	ErrClosed         = errors.New("queue closed")
	ErrInvalidMessage = errors.New("invalid queue message")
)

// Queue is implemented by every transport.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a message arrives or ctx is done.
	Dequeue(ctx context.Context) (*Message, error)
	Close() error
}

// Message is one delivered job id.
type Message struct {
	JobID string

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, requeue bool) error
}

// Ack removes the message from the queue for good.
func (m *Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Nack rejects the message; with requeue it is delivered again ahead of newer messages.
func (m *Message) Nack(ctx context.Context, requeue bool) error {
	if m.nack == nil {
		return nil
	}
	return m.nack(ctx, requeue)
}

type envelope struct {
	JobID string `json:"job_id"`
}

func encodeMessage(jobID string) ([]byte, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: empty job id", ErrInvalidMessage)
	}
	return json.Marshal(envelope{JobID: jobID})
}

func decodeMessage(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.JobID == "" {
		return "", fmt.Errorf("%w: missing job_id", ErrInvalidMessage)
	}
	return env.JobID, nil
}
