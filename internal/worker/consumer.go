package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/vanity-farm/internal/metrics"
	"github.com/cuongbtq/vanity-farm/internal/queue"
	"github.com/cuongbtq/vanity-farm/internal/worker/domain"
)

// dequeueBackoff is the pause after a transport error.
const dequeueBackoff = time.Second

// Start consumes the queue until ctx is cancelled. Jobs run one at a time.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("units", len(w.units)),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("kill_timeout", w.killTimeout),
	)

	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker context canceled, stopping")
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				w.logger.Warn("Job queue closed, stopping worker")
				return nil
			}
			w.logger.Error("Failed to dequeue job", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		w.handleMessage(ctx, msg)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *queue.Message) {
	settleCtx := context.WithoutCancel(ctx)

	if err := validateJobID(msg.JobID); err != nil {
		w.logger.Error("Dropping queue message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		if nackErr := msg.Nack(settleCtx, false); nackErr != nil {
			w.logger.Error("Failed to NACK message with invalid job_id", slog.String("error", nackErr.Error()))
		}
		return
	}

	err := w.processJob(ctx, msg.JobID)
	if err == nil {
		if ackErr := msg.Ack(settleCtx); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeueJob(err)
	level := slog.LevelError
	if errors.Is(err, domain.ErrJobFailed) {
		level = slog.LevelWarn
	}
	w.logger.Log(ctx, level, "Job processing failed",
		slog.String("job_id", msg.JobID),
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)
	if requeue {
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
	}

	if nackErr := msg.Nack(settleCtx, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("job_id", msg.JobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// validateJobID rejects queue messages whose job id is not a UUID.
func validateJobID(jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidJobID, err)
	}
	return nil
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrJobFailed) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}

func retryable(format string, err error) error {
	return domain.NewRetryableError(fmt.Errorf(format+": %w", err))
}
