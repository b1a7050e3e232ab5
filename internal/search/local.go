package search

import (
	"context"
)

// LocalUnit runs the search loop on its own goroutine inside the current process.
type LocalUnit struct {
	name     string
	searcher *Searcher
}

// NewLocalUnit creates a goroutine-backed unit. A nil gen uses matcher.Generate.
func NewLocalUnit(name string, gen GenerateFunc) *LocalUnit {
	return &LocalUnit{name: name, searcher: NewSearcher(gen)}
}

func (u *LocalUnit) Name() string { return u.name }

// Run starts the loop. Events are delivered with backpressure; a cancelled ctx
// unblocks a pending send and ends the goroutine.
func (u *LocalUnit) Run(ctx context.Context, p Params) (<-chan Event, error) {
	out := make(chan Event, 1)

	go func() {
		defer close(out)
		u.searcher.Search(ctx, p, func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
	}()

	return out, nil
}
