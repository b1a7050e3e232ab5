package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator returns a non-matching address until call number hitAt.
func scriptedGenerator(hitAt uint64, hook func(call uint64)) GenerateFunc {
	var calls uint64
	return func(algo xrpl.Algorithm) (*matcher.Candidate, error) {
		calls++
		if hook != nil {
			hook(calls)
		}
		address := "rzzzzzzzzz"
		if calls == hitAt {
			address = "rABzzzzzzz"
		}
		return &matcher.Candidate{Address: address, Seed: "seed", Algorithm: algo}, nil
	}
}

func prefixParams(interval uint64) Params {
	return Params{
		Constraint:        matcher.Constraint{Mode: matcher.ModePrefix, Prefix: "AB", Length: 2},
		Algorithm:         xrpl.Ed25519,
		TelemetryInterval: interval,
	}
}

func collect(s *Searcher, ctx context.Context, p Params) []Event {
	var events []Event
	s.Search(ctx, p, func(ev Event) { events = append(events, ev) })
	return events
}

func TestSearcher_FoundAfterCumulativeProgress(t *testing.T) {
	s := NewSearcher(scriptedGenerator(35, nil))

	events := collect(s, context.Background(), prefixParams(10))

	require.Len(t, events, 4)
	for i, ev := range events[:3] {
		assert.Equal(t, EventProgress, ev.Type)
		assert.Equal(t, uint64(10*(i+1)), ev.Attempts)
	}

	found := events[3]
	assert.Equal(t, EventFound, found.Type)
	assert.Equal(t, uint64(35), found.Attempts)
	require.NotNil(t, found.Result)
	assert.Equal(t, "rABzzzzzzz", found.Result.Address)
	assert.Equal(t, xrpl.Ed25519, found.Result.Algorithm)
}

func TestSearcher_ReportsRatePerWindow(t *testing.T) {
	s := NewSearcher(scriptedGenerator(25, nil))
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	events := collect(s, context.Background(), prefixParams(10))

	require.Len(t, events, 3)
	assert.InDelta(t, 10.0, events[0].Rate, 1e-9)
	assert.InDelta(t, 10.0, events[1].Rate, 1e-9)
}

func TestSearcher_GenerationErrorEmitsOneErrorEvent(t *testing.T) {
	var calls int
	s := NewSearcher(func(algo xrpl.Algorithm) (*matcher.Candidate, error) {
		calls++
		if calls == 13 {
			return nil, errors.New("entropy source exhausted")
		}
		return &matcher.Candidate{Address: "rzzzz"}, nil
	})

	events := collect(s, context.Background(), prefixParams(5))

	require.Len(t, events, 3)
	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, EventError, events[2].Type)
	assert.Equal(t, uint64(12), events[2].Attempts)
	assert.Contains(t, events[2].Error, "entropy source exhausted")
}

func TestSearcher_StopEmitsNothingFurther(t *testing.T) {
	tests := []struct {
		name     string
		cancelAt uint64
	}{
		{name: "between reports", cancelAt: 25},
		{name: "on a report boundary", cancelAt: 30},
		{name: "on the matching attempt", cancelAt: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			s := NewSearcher(scriptedGenerator(40, func(call uint64) {
				if call == tt.cancelAt {
					cancel()
				}
			}))

			events := collect(s, ctx, prefixParams(10))

			for _, ev := range events {
				assert.Equal(t, EventProgress, ev.Type)
				assert.Less(t, ev.Attempts, tt.cancelAt)
			}
		})
	}
}

func TestSearcher_DefaultsTelemetryInterval(t *testing.T) {
	s := NewSearcher(scriptedGenerator(DefaultTelemetryInterval+1, nil))

	events := collect(s, context.Background(), prefixParams(0))

	require.Len(t, events, 2)
	assert.Equal(t, uint64(DefaultTelemetryInterval), events[0].Attempts)
	assert.Equal(t, EventFound, events[1].Type)
}

func TestSearcher_RealGeneratorFindsEasyPattern(t *testing.T) {
	s := NewSearcher(nil)
	p := Params{
		Constraint: matcher.Constraint{Mode: matcher.ModePrefix, Prefix: "", Length: 1},
		Algorithm:  xrpl.Secp256k1,
	}

	events := collect(s, context.Background(), p)

	require.Len(t, events, 1)
	assert.Equal(t, EventFound, events[0].Type)
	assert.Equal(t, uint64(1), events[0].Attempts)

	kp, err := xrpl.KeypairFromSeed(events[0].Result.Seed)
	require.NoError(t, err)
	assert.Equal(t, events[0].Result.Address, kp.Address)
}

func TestLocalUnit_StreamsUntilFoundThenCloses(t *testing.T) {
	unit := NewLocalUnit("cpu-0", scriptedGenerator(21, nil))
	assert.Equal(t, "cpu-0", unit.Name())

	events, err := unit.Run(context.Background(), prefixParams(10))
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, EventFound, got[2].Type)
	assert.Equal(t, uint64(21), got[2].Attempts)
}

func TestLocalUnit_CancelClosesStream(t *testing.T) {
	unit := NewLocalUnit("cpu-0", scriptedGenerator(0, nil))
	ctx, cancel := context.WithCancel(context.Background())

	events, err := unit.Run(ctx, prefixParams(10))
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, EventProgress, first.Type)
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unit did not stop after cancel")
	}
}
