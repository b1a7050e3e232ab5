package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"testing"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "SEARCH_UNIT_HELPER"

// TestHelperProcess is not a real test. It stands in for the search-unit binary when
// the test binary re-executes itself.
func TestHelperProcess(t *testing.T) {
	behavior := os.Getenv(helperEnv)
	if behavior == "" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}

	progress := `{"type":"progress","attempts":1000,"rate":50}`

	switch behavior {
	case "found":
		fmt.Println("starting search")
		fmt.Println(progress)
		fmt.Println(`{"type":"found","attempts":1234,"result":{"address":"rABcdef","seed":"sEdTest","public_key":"ED00","algorithm":"ed25519"}}`)
	case "crash":
		fmt.Println(progress)
		os.Exit(3)
	case "hang":
		signal.Ignore(os.Interrupt)
		fmt.Println(progress)
		time.Sleep(time.Minute)
	case "args":
		line, _ := json.Marshal(Event{Type: EventProgress, Attempts: uint64(len(args)), Error: fmt.Sprint(args)})
		fmt.Println(string(line))
	}
}

func helperUnit(t *testing.T, behavior string, killTimeout time.Duration) *ProcessUnit {
	t.Helper()
	t.Setenv(helperEnv, behavior)

	exe, err := os.Executable()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProcessUnit("proc-"+behavior, exe, logger,
		WithArgs("-test.run=^TestHelperProcess$", "--"),
		WithKillTimeout(killTimeout),
		WithStderr(io.Discard),
	)
}

func drain(t *testing.T, events <-chan Event, within time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("event stream still open after %s", within)
			return got
		}
	}
}

func TestProcessUnit_ParsesEventLines(t *testing.T) {
	unit := helperUnit(t, "found", time.Second)

	events, err := unit.Run(context.Background(), prefixParams(1000))
	require.NoError(t, err)

	got := drain(t, events, 10*time.Second)

	require.Len(t, got, 2)
	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, uint64(1000), got[0].Attempts)
	assert.Equal(t, 50.0, got[0].Rate)

	assert.Equal(t, EventFound, got[1].Type)
	assert.Equal(t, uint64(1234), got[1].Attempts)
	require.NotNil(t, got[1].Result)
	assert.Equal(t, "rABcdef", got[1].Result.Address)
	assert.Equal(t, xrpl.Ed25519, got[1].Result.Algorithm)
}

func TestProcessUnit_AbnormalExitBecomesErrorEvent(t *testing.T) {
	unit := helperUnit(t, "crash", time.Second)

	events, err := unit.Run(context.Background(), prefixParams(1000))
	require.NoError(t, err)

	got := drain(t, events, 10*time.Second)

	require.Len(t, got, 2)
	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, EventError, got[1].Type)
	assert.Contains(t, got[1].Error, "exit status 3")
}

func TestProcessUnit_ForceKillsAfterTimeout(t *testing.T) {
	killTimeout := 300 * time.Millisecond
	unit := helperUnit(t, "hang", killTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := unit.Run(ctx, prefixParams(1000))
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, EventProgress, ev.Type)
	case <-time.After(10 * time.Second):
		t.Fatal("helper never reported progress")
	}

	stoppedAt := time.Now()
	cancel()

	got := drain(t, events, killTimeout+5*time.Second)
	assert.Empty(t, got)
	assert.Less(t, time.Since(stoppedAt), killTimeout+5*time.Second)
}

func TestProcessUnit_PassesSearchFlags(t *testing.T) {
	unit := helperUnit(t, "args", time.Second)
	p := Params{
		Constraint:        matcher.Constraint{Mode: matcher.ModeCombo, Prefix: "ABC", Suffix: "xyz", Length: 3},
		Algorithm:         xrpl.Secp256k1,
		TelemetryInterval: 500,
	}

	events, err := unit.Run(context.Background(), p)
	require.NoError(t, err)

	got := drain(t, events, 10*time.Second)

	require.Len(t, got, 1)
	assert.Equal(t, uint64(len(ProcessArgs(p))), got[0].Attempts)
	assert.Equal(t, fmt.Sprint(ProcessArgs(p)), got[0].Error)
}

func TestProcessUnit_StartFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	unit := NewProcessUnit("missing", "/nonexistent/search-unit", logger)

	_, err := unit.Run(context.Background(), prefixParams(1000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start unit missing")
}

func TestProcessArgs(t *testing.T) {
	p := Params{
		Constraint: matcher.Constraint{Mode: matcher.ModeSuffix, Suffix: "xyz", Length: 3},
		Algorithm:  xrpl.Ed25519,
	}

	assert.Equal(t, []string{
		"-mode", "suffix",
		"-prefix", "",
		"-suffix", "xyz",
		"-len", "3",
		"-algorithm", "ed25519",
		"-report-every", "1000",
	}, ProcessArgs(p))
}

func TestCountDevices(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{name: "empty", output: "", want: 0},
		{name: "one device", output: "GPU 0: NVIDIA GeForce RTX 4090 (UUID: GPU-1234)\n", want: 1},
		{
			name:   "two devices with noise",
			output: "GPU 0: NVIDIA A100 (UUID: GPU-a)\n  MIG 1g.10gb Device 0\nGPU 1: NVIDIA A100 (UUID: GPU-b)\n",
			want:   2,
		},
		{name: "error text", output: "NVIDIA-SMI has failed because it couldn't communicate with the driver", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countDevices([]byte(tt.output)))
		})
	}
}

func TestDetectGPUs_MissingTool(t *testing.T) {
	n, err := DetectGPUs(context.Background(), []string{"definitely-not-a-gpu-tool-xyz"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
