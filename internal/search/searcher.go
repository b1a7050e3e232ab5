package search

import (
	"context"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
)

// GenerateFunc produces one candidate keypair.
type GenerateFunc func(algo xrpl.Algorithm) (*matcher.Candidate, error)

// Searcher is the generate-and-match loop shared by every unit flavour.
type Searcher struct {
	generate GenerateFunc
	now      func() time.Time
}

// NewSearcher returns a Searcher drawing candidates from gen, or from
// matcher.Generate when gen is nil.
func NewSearcher(gen GenerateFunc) *Searcher {
	if gen == nil {
		gen = matcher.Generate
	}
	return &Searcher{generate: gen, now: time.Now}
}

// Search loops until a match, a generation error or ctx cancellation, calling emit for
// every event. Nothing is emitted once ctx is done.
func (s *Searcher) Search(ctx context.Context, p Params, emit func(Event)) {
	interval := p.interval()
	algo := xrpl.ParseAlgorithm(string(p.Algorithm))

	var attempts uint64
	windowStart := s.now()

	send := func(ev Event) bool {
		if ctx.Err() != nil {
			return false
		}
		emit(ev)
		return true
	}

	for {
		if ctx.Err() != nil {
			return
		}

		candidate, err := s.generate(algo)
		if err != nil {
			send(Event{Type: EventError, Attempts: attempts, Error: err.Error()})
			return
		}
		attempts++

		if matcher.Matches(candidate.Address, p.Constraint) {
			send(Event{Type: EventFound, Attempts: attempts, Result: candidate})
			return
		}

		if attempts%interval == 0 {
			now := s.now()
			var rate float64
			if elapsed := now.Sub(windowStart).Seconds(); elapsed > 0 {
				rate = float64(interval) / elapsed
			}
			windowStart = now
			if !send(Event{Type: EventProgress, Attempts: attempts, Rate: rate}) {
				return
			}
		}
	}
}
