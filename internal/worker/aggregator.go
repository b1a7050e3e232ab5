package worker

import "github.com/cuongbtq/vanity-farm/internal/ledger"

// unitStats is the latest telemetry of one unit slot. A slot may host several
// instances over a job when a faulted unit is restarted; base carries the attempts
// of earlier instances so the slot total never goes backwards.
type unitStats struct {
	base uint64
	last uint64
	rate float64
}

// aggregator sums per-unit telemetry into job progress.
type aggregator struct {
	units []unitStats
}

func newAggregator(n int) *aggregator {
	return &aggregator{units: make([]unitStats, n)}
}

// update replaces the slot's record. A report below the previous one means the
// instance started over.
func (a *aggregator) update(i int, attempts uint64, rate float64) {
	u := &a.units[i]
	if attempts < u.last {
		u.base += u.last
	}
	u.last = attempts
	u.rate = rate
}

// restart folds the current instance into the base before a new one starts.
func (a *aggregator) restart(i int) {
	u := &a.units[i]
	u.base += u.last
	u.last = 0
	u.rate = 0
}

// stopped zeroes the slot's rate; its attempts still count.
func (a *aggregator) stopped(i int) {
	a.units[i].rate = 0
}

func (a *aggregator) total() ledger.Progress {
	var p ledger.Progress
	for _, u := range a.units {
		p.Attempts += u.base + u.last
		p.Rate += u.rate
	}
	return p
}
