package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/queue"
	"github.com/cuongbtq/vanity-farm/internal/search"
	"github.com/cuongbtq/vanity-farm/internal/worker/domain"
)

// Config holds worker configuration
type Config struct {
	Logger *slog.Logger
	Ledger ledger.Ledger
	Queue  queue.Queue
	Codec  *delivery.Codec
	// Units are planned once at startup and launched for every job.
	Units    []search.Unit
	WorkerID string

	TelemetryInterval uint64
	// ProgressInterval throttles ledger progress writes; zero writes every update.
	// A throttled total is written once the interval has elapsed.
	ProgressInterval time.Duration
	KillTimeout      time.Duration
	JobTimeout       time.Duration
	FinalizeTimeout  time.Duration
	MaxUnitRestarts  int
}

// Worker consumes paid jobs one at a time and runs every unit on each of them.
type Worker struct {
	logger   *slog.Logger
	ledger   ledger.Ledger
	queue    queue.Queue
	codec    *delivery.Codec
	units    []search.Unit
	workerID string

	telemetryInterval uint64
	progressInterval  time.Duration
	killTimeout       time.Duration
	jobTimeout        time.Duration
	finalizeTimeout   time.Duration
	maxUnitRestarts   int

	mu     sync.Mutex
	active *activeJob
}

type activeJob struct {
	id     string
	cancel context.CancelCauseFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		ledger:            cfg.Ledger,
		queue:             cfg.Queue,
		codec:             cfg.Codec,
		units:             cfg.Units,
		workerID:          cfg.WorkerID,
		telemetryInterval: cfg.TelemetryInterval,
		progressInterval:  cfg.ProgressInterval,
		killTimeout:       cfg.KillTimeout,
		jobTimeout:        cfg.JobTimeout,
		finalizeTimeout:   cfg.FinalizeTimeout,
		maxUnitRestarts:   cfg.MaxUnitRestarts,
	}
	if w.codec == nil {
		w.codec = delivery.NewCodec(0)
	}
	if w.killTimeout <= 0 {
		w.killTimeout = search.DefaultKillTimeout
	}
	if w.finalizeTimeout <= 0 {
		w.finalizeTimeout = 30 * time.Second
	}
	return w
}

// StopJob interrupts the job if this worker is running it. The job ends failed.
func (w *Worker) StopJob(jobID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil || w.active.id != jobID {
		return domain.ErrJobNotActive
	}

	w.logger.Info("Stop requested for job", slog.String("job_id", jobID))
	w.active.cancel(domain.ErrStopRequested)
	return nil
}

// ActiveJob returns the id of the job in progress, or "".
func (w *Worker) ActiveJob() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return ""
	}
	return w.active.id
}

func (w *Worker) setActive(id string, cancel context.CancelCauseFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cancel == nil {
		w.active = nil
		return
	}
	w.active = &activeJob{id: id, cancel: cancel}
}

// UnitCount returns the number of planned units.
func (w *Worker) UnitCount() int {
	return len(w.units)
}
