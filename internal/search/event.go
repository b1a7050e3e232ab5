// Package search runs the brute-force address search. A Unit is one independently
// running search loop; it reports back to its owner only through Events.
package search

import (
	"context"

	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
)

// EventType identifies what a unit is reporting.
type EventType string

const (
	EventProgress EventType = "progress"
	EventFound    EventType = "found"
	EventError    EventType = "error"
)

// DefaultTelemetryInterval is the number of attempts between progress events.
const DefaultTelemetryInterval = 1000

// Event is one message from a running unit. Attempts is always the unit's cumulative
// count since it started, never a delta.
type Event struct {
	Type     EventType          `json:"type"`
	Attempts uint64             `json:"attempts"`
	Rate     float64            `json:"rate,omitempty"`
	Result   *matcher.Candidate `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Params describe one search run.
type Params struct {
	Constraint        matcher.Constraint
	Algorithm         xrpl.Algorithm
	TelemetryInterval uint64
}

func (p Params) interval() uint64 {
	if p.TelemetryInterval == 0 {
		return DefaultTelemetryInterval
	}
	return p.TelemetryInterval
}

// Unit is a launchable search unit. Run starts one search and returns its event stream;
// the stream is closed once the unit has fully stopped. Cancelling ctx is the stop
// signal. Each call to Run starts a fresh instance.
type Unit interface {
	Name() string
	Run(ctx context.Context, p Params) (<-chan Event, error)
}
