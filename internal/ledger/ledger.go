// Package ledger is the shared store for vanity jobs: the job record, its live
// progress and its sealed result. Every mutation is atomic per job id.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
)

// Status is a job's lifecycle state. paid is the only non-terminal state.
type Status string

const (
	StatusPaid     Status = "paid"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	// StatusUnknown is reported for ids the ledger does not hold.
	StatusUnknown Status = "unknown"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

const (
	// DefaultResultTTL is how long a sealed result waits for redemption.
	DefaultResultTTL = 30 * time.Minute
	// DefaultRecordTTL is how long a completed job record is kept.
	DefaultRecordTTL = 24 * time.Hour
)

var (
	ErrConflict          = errors.New("job already exists")
	ErrNotFound          = errors.New("job not found")
	ErrForbidden         = errors.New("forbidden")
	ErrNotReady          = errors.New("not ready")
	ErrGone              = errors.New("gone")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is one paid search request.
type Job struct {
	ID             string             `json:"id"`
	Status         Status             `json:"status"`
	Constraint     matcher.Constraint `json:"constraint"`
	Algorithm      xrpl.Algorithm     `json:"algorithm"`
	DeliverySecret string             `json:"-"`
	ReceiptTx      string             `json:"receipt_tx"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Progress is the aggregate telemetry of a running job.
type Progress struct {
	Attempts uint64  `json:"attempts"`
	Rate     float64 `json:"rate"`
}

// Redemption is what a successful redeem hands back.
type Redemption struct {
	Envelope  *delivery.Envelope `json:"cipher"`
	ReceiptTx string             `json:"txid"`
}

// Ledger is implemented by every storage backend.
type Ledger interface {
	// Create stores job with status paid. It fails with ErrConflict when the id or
	// the receipt is already known.
	Create(ctx context.Context, job *Job) error
	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, jobID string) (*Job, error)
	// SetProgress overwrites the job's progress. Writes to terminal jobs are dropped.
	SetProgress(ctx context.Context, jobID string, p Progress) error
	// GetProgress returns zero progress when none is recorded.
	GetProgress(ctx context.Context, jobID string) (*Progress, error)
	// Complete stores the sealed result with a bounded lifetime, marks the job
	// complete and clears progress. Only a paid job can complete.
	Complete(ctx context.Context, jobID string, env *delivery.Envelope) error
	// Fail marks a paid job failed and clears progress.
	Fail(ctx context.Context, jobID string) error
	// Redeem hands out the sealed result exactly once. See decideRedeem.
	Redeem(ctx context.Context, jobID, token string) (*Redemption, error)
}

// Options tune retention.
type Options struct {
	ResultTTL time.Duration
	RecordTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.ResultTTL <= 0 {
		o.ResultTTL = DefaultResultTTL
	}
	if o.RecordTTL < 0 {
		o.RecordTTL = 0
	}
	return o
}

func prepareCreate(job *Job, now time.Time) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	if job.DeliverySecret == "" {
		return errors.New("delivery secret is required")
	}
	job.Status = StatusPaid
	job.Algorithm = xrpl.ParseAlgorithm(string(job.Algorithm))
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now.UTC()
	}
	return nil
}
