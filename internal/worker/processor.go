package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/metrics"
	"github.com/cuongbtq/vanity-farm/internal/worker/domain"
)

// processJob runs one job to a terminal status. A nil return acks the message.
func (w *Worker) processJob(ctx context.Context, jobID string) error {
	started := time.Now()
	logger := w.logger.With(slog.String("job_id", jobID))

	job, err := w.ledger.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			logger.Warn("Job not found in ledger, dropping message")
			metrics.JobsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return nil
		}
		return retryable("failed to load job", err)
	}

	if job.Status != ledger.StatusPaid {
		logger.Warn("Job is not awaiting work, skipping", slog.String("status", string(job.Status)))
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	logger.Info("Processing job",
		slog.String("mode", string(job.Constraint.Mode)),
		slog.String("prefix", job.Constraint.Prefix),
		slog.String("suffix", job.Constraint.Suffix),
		slog.String("algorithm", string(job.Algorithm)),
		slog.Int("units", len(w.units)),
	)

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if w.jobTimeout > 0 {
		var cancelTimeout context.CancelFunc
		jobCtx, cancelTimeout = context.WithTimeoutCause(jobCtx, w.jobTimeout, domain.ErrJobTimeout)
		defer cancelTimeout()
	}

	w.setActive(job.ID, cancel)
	result := w.runUnits(jobCtx, job)
	w.setActive("", nil)

	finalizeCtx, cancelFinalize := context.WithTimeout(context.WithoutCancel(ctx), w.finalizeTimeout)
	defer cancelFinalize()

	if result.found != nil {
		return w.complete(finalizeCtx, logger, job, result, started)
	}
	return w.fail(finalizeCtx, logger, job, result, started)
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, job *ledger.Job, result *searchResult, started time.Time) error {
	env, err := w.codec.Seal(&delivery.Payload{
		Address:   result.found.Address,
		Seed:      result.found.Seed,
		Algorithm: string(result.found.Algorithm),
		ReceiptTx: job.ReceiptTx,
	}, job.DeliverySecret, job.ID)
	if err != nil {
		return retryable("failed to seal result", err)
	}

	if err := w.ledger.Complete(ctx, job.ID, env); err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) || errors.Is(err, ledger.ErrNotFound) {
			logger.Warn("Job left paid state before completion, discarding result", slog.String("error", err.Error()))
			return nil
		}
		return retryable("failed to complete job", err)
	}

	elapsed := time.Since(started)
	metrics.JobsTotal.WithLabelValues(metrics.OutcomeComplete).Inc()
	metrics.JobDuration.WithLabelValues(metrics.OutcomeComplete).Observe(elapsed.Seconds())
	metrics.JobAttempts.Observe(float64(result.progress.Attempts))

	logger.Info("Job completed successfully",
		slog.String("unit", result.unit),
		slog.String("attempts", humanize.Comma(int64(result.progress.Attempts))),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
	)
	return nil
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *ledger.Job, result *searchResult, started time.Time) error {
	if err := w.ledger.Fail(ctx, job.ID); err != nil {
		if !errors.Is(err, ledger.ErrInvalidTransition) && !errors.Is(err, ledger.ErrNotFound) {
			return retryable("failed to mark job failed", err)
		}
		logger.Warn("Job left paid state before failure was recorded", slog.String("error", err.Error()))
	}

	elapsed := time.Since(started)
	metrics.JobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	metrics.JobDuration.WithLabelValues(metrics.OutcomeFailed).Observe(elapsed.Seconds())
	metrics.JobAttempts.Observe(float64(result.progress.Attempts))

	logger.Info("Job marked failed",
		slog.String("reason", string(result.reason)),
		slog.String("attempts", humanize.Comma(int64(result.progress.Attempts))),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
	)

	if result.faulted {
		return fmt.Errorf("%w: %s: %w", domain.ErrJobFailed, result.reason, domain.ErrWorkerFault)
	}
	return fmt.Errorf("%w: %s", domain.ErrJobFailed, result.reason)
}
