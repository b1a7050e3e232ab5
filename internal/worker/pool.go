package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/metrics"
	"github.com/cuongbtq/vanity-farm/internal/search"
	"github.com/cuongbtq/vanity-farm/internal/worker/domain"
)

// unitMsg is what the per-unit forwarders send to the control loop.
type unitMsg struct {
	index  int
	event  search.Event
	exited bool
}

// searchResult is the outcome of running every unit on one job.
type searchResult struct {
	found    *matcher.Candidate
	unit     string
	progress ledger.Progress
	reason   domain.StopReason
	// faulted is set when every unit ended on a fault.
	faulted bool
}

// slot tracks one planned unit across restarts.
type slot struct {
	running  bool
	started  bool
	faulted  bool
	restarts int
}

// runUnits launches every unit on job and drives them from a single control loop
// until one reports a match, ctx ends, or all of them exit. Units still alive
// killTimeout after the stop signal are abandoned.
func (w *Worker) runUnits(ctx context.Context, job *ledger.Job) *searchResult {
	params := search.Params{
		Constraint:        job.Constraint,
		Algorithm:         job.Algorithm,
		TelemetryInterval: w.telemetryInterval,
	}
	logger := w.logger.With(slog.String("job_id", job.ID))

	unitsCtx, stopUnits := context.WithCancel(context.WithoutCancel(ctx))
	defer stopUnits()
	abandon := make(chan struct{})
	defer close(abandon)

	msgs := make(chan unitMsg)
	slots := make([]slot, len(w.units))
	agg := newAggregator(len(w.units))
	active := 0

	forward := func(i int, events <-chan search.Event) {
		for ev := range events {
			select {
			case msgs <- unitMsg{index: i, event: ev}:
			case <-abandon:
				return
			}
		}
		select {
		case msgs <- unitMsg{index: i, exited: true}:
		case <-abandon:
		}
	}

	launch := func(i int) {
		s := &slots[i]
		s.running = true
		active++

		events, err := w.units[i].Run(unitsCtx, params)
		if err != nil {
			logger.Error("Failed to start search unit",
				slog.String("unit", w.units[i].Name()),
				slog.String("error", err.Error()),
			)
			metrics.UnitFaults.WithLabelValues(w.units[i].Name()).Inc()
			s.started = false
			s.faulted = true
			go func() {
				select {
				case msgs <- unitMsg{index: i, exited: true}:
				case <-abandon:
				}
			}()
			return
		}

		s.started = true
		metrics.UnitsActive.Inc()
		go forward(i, events)
	}

	result := &searchResult{}
	var (
		finished    bool
		killTimer   <-chan time.Time
		jobDone     = ctx.Done()
		lastPublish time.Time
		// pending holds a throttled total until flushTimer fires.
		pending    *ledger.Progress
		flushTimer <-chan time.Time
	)

	publish := func(p ledger.Progress) {
		lastPublish = time.Now()
		pending = nil
		if err := w.ledger.SetProgress(ctx, job.ID, p); err != nil {
			logger.Warn("Failed to publish job progress", slog.String("error", err.Error()))
		}
	}

	stop := func(reason domain.StopReason) {
		if killTimer != nil {
			return
		}
		result.reason = reason
		stopUnits()
		killTimer = time.After(w.killTimeout)
	}

	for i := range w.units {
		launch(i)
	}

	for active > 0 {
		select {
		case <-jobDone:
			jobDone = nil
			if !finished {
				reason := stopReason(ctx)
				logger.Info("Stopping search units", slog.String("reason", string(reason)))
				stop(reason)
			}

		case <-flushTimer:
			flushTimer = nil
			if pending != nil && !finished {
				publish(*pending)
			}

		case <-killTimer:
			for i := range slots {
				if !slots[i].running {
					continue
				}
				logger.Warn("Abandoning search unit that ignored stop",
					slog.String("unit", w.units[i].Name()),
					slog.Duration("kill_timeout", w.killTimeout),
				)
				slots[i].running = false
				if slots[i].started {
					metrics.UnitsActive.Dec()
				}
			}
			active = 0

		case m := <-msgs:
			s := &slots[m.index]
			name := w.units[m.index].Name()

			if m.exited {
				s.running = false
				active--
				if s.started {
					metrics.UnitsActive.Dec()
				}
				agg.stopped(m.index)

				if s.faulted && !finished && killTimer == nil && s.restarts < w.maxUnitRestarts {
					s.restarts++
					s.faulted = false
					agg.restart(m.index)
					logger.Info("Restarting search unit",
						slog.String("unit", name),
						slog.Int("restart", s.restarts),
					)
					launch(m.index)
				}
				continue
			}

			switch m.event.Type {
			case search.EventProgress:
				if finished {
					continue
				}
				agg.update(m.index, m.event.Attempts, m.event.Rate)
				total := agg.total()
				if wait := w.progressInterval - time.Since(lastPublish); wait > 0 {
					pending = &total
					if flushTimer == nil {
						flushTimer = time.After(wait)
					}
					continue
				}
				publish(total)

			case search.EventFound:
				if finished {
					logger.Debug("Ignoring match reported after completion", slog.String("unit", name))
					continue
				}
				if m.event.Result == nil || !matcher.Matches(m.event.Result.Address, job.Constraint) {
					logger.Error("Search unit reported an address that does not match",
						slog.String("unit", name),
					)
					s.faulted = true
					metrics.UnitFaults.WithLabelValues(name).Inc()
					continue
				}
				finished = true
				agg.update(m.index, m.event.Attempts, 0)
				result.found = m.event.Result
				result.unit = name
				logger.Info("Match found",
					slog.String("unit", name),
					slog.String("address", m.event.Result.Address),
				)
				stop(domain.StopFound)

			case search.EventError:
				s.faulted = true
				metrics.UnitFaults.WithLabelValues(name).Inc()
				logger.Warn("Search unit faulted",
					slog.String("unit", name),
					slog.String("error", m.event.Error),
				)
			}
		}
	}

	result.progress = agg.total()
	if result.reason == "" {
		result.reason = domain.StopExhausted
		result.faulted = len(slots) > 0
		for _, s := range slots {
			if !s.faulted {
				result.faulted = false
			}
		}
	}
	return result
}

func stopReason(ctx context.Context) domain.StopReason {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, domain.ErrStopRequested):
		return domain.StopRequested
	case errors.Is(cause, domain.ErrJobTimeout):
		return domain.StopTimeout
	default:
		return domain.StopShutdown
	}
}
