package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/delivery"
)

// State is where the poller is in a job's life.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateRedeemed  State = "redeemed"
)

const DefaultPollInterval = 2 * time.Second

// ErrJobFailed is returned when the farm gives up on the job.
var ErrJobFailed = errors.New("job failed")

// Service is the part of the HTTP API the poller drives.
type Service interface {
	Progress(ctx context.Context, job *Job) (*dto.ProgressResponse, error)
	Redeem(ctx context.Context, job *Job) (*dto.DeliveryResponse, error)
}

// PollerConfig wires a Poller.
type PollerConfig struct {
	Service  Service
	Codec    *delivery.Codec
	Interval time.Duration
	Logger   *slog.Logger
	// OnProgress, when set, receives every successful progress read.
	OnProgress func(p *dto.ProgressResponse)
	// OnTransition, when set, receives every state change.
	OnTransition func(from, to State)
}

// Poller follows one job until its result is redeemed and opened locally.
type Poller struct {
	service      Service
	codec        *delivery.Codec
	interval     time.Duration
	logger       *slog.Logger
	onProgress   func(p *dto.ProgressResponse)
	onTransition func(from, to State)

	state State
}

func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	codec := cfg.Codec
	if codec == nil {
		codec = delivery.NewCodec(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		service:      cfg.Service,
		codec:        codec,
		interval:     interval,
		logger:       logger,
		onProgress:   cfg.OnProgress,
		onTransition: cfg.OnTransition,
		state:        StateSubmitted,
	}
}

// State returns the current state.
func (p *Poller) State() State {
	return p.state
}

func (p *Poller) transition(to State) {
	from := p.state
	if from == to {
		return
	}
	p.state = to
	if p.onTransition != nil {
		p.onTransition(from, to)
	}
}

// Run polls job on the configured interval until it completes or fails, then redeems
// the result exactly once and opens it with the job's token. Transient polling errors
// are logged and retried on the next tick; ctx cancels the loop.
func (p *Poller) Run(ctx context.Context, job *Job) (*delivery.Payload, error) {
	if p.state != StateSubmitted {
		return nil, fmt.Errorf("poller already used: state %s", p.state)
	}
	token, err := job.Token()
	if err != nil {
		return nil, err
	}

	p.transition(StatePolling)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := p.poll(ctx, job)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	resp, err := p.service.Redeem(ctx, job)
	if err != nil {
		p.transition(StateFailed)
		return nil, fmt.Errorf("redeem: %w", err)
	}

	payload, err := p.codec.Open(resp.Cipher, token, job.ID)
	if err != nil {
		p.transition(StateFailed)
		return nil, fmt.Errorf("open result: %w", err)
	}

	p.transition(StateRedeemed)
	return payload, nil
}

// poll reads progress once. It reports done when the job is complete.
func (p *Poller) poll(ctx context.Context, job *Job) (bool, error) {
	prog, err := p.service.Progress(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Warn("Progress poll failed, retrying", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return false, nil
	}

	if p.onProgress != nil {
		p.onProgress(prog)
	}

	switch prog.Status {
	case string(StateComplete):
		p.transition(StateComplete)
		return true, nil
	case string(StateFailed):
		p.transition(StateFailed)
		return false, ErrJobFailed
	}
	return false, nil
}
