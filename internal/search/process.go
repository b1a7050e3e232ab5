package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"time"
)

// DefaultKillTimeout is how long a process unit gets to exit after SIGINT before it is killed.
const DefaultKillTimeout = 5 * time.Second

// ProcessUnit runs the search in a child process that writes one JSON Event per line
// on stdout. The stop signal is SIGINT; a child still alive after the kill timeout is
// killed.
type ProcessUnit struct {
	name        string
	path        string
	args        []string
	killTimeout time.Duration
	stderr      io.Writer
	logger      *slog.Logger
}

// ProcessOption customises a ProcessUnit.
type ProcessOption func(*ProcessUnit)

// WithArgs sets arguments placed before the search flags, e.g. a device selector.
func WithArgs(args ...string) ProcessOption {
	return func(u *ProcessUnit) { u.args = args }
}

// WithKillTimeout overrides DefaultKillTimeout.
func WithKillTimeout(d time.Duration) ProcessOption {
	return func(u *ProcessUnit) {
		if d > 0 {
			u.killTimeout = d
		}
	}
}

// WithStderr forwards the child's stderr.
func WithStderr(w io.Writer) ProcessOption {
	return func(u *ProcessUnit) { u.stderr = w }
}

// NewProcessUnit creates a unit executing path.
func NewProcessUnit(name, path string, logger *slog.Logger, opts ...ProcessOption) *ProcessUnit {
	u := &ProcessUnit{
		name:        name,
		path:        path,
		killTimeout: DefaultKillTimeout,
		stderr:      os.Stderr,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *ProcessUnit) Name() string { return u.name }

// ProcessArgs renders p as search-unit command line flags.
func ProcessArgs(p Params) []string {
	return []string{
		"-mode", string(p.Constraint.Mode),
		"-prefix", p.Constraint.Prefix,
		"-suffix", p.Constraint.Suffix,
		"-len", strconv.Itoa(p.Constraint.Length),
		"-algorithm", string(p.Algorithm),
		"-report-every", strconv.FormatUint(p.interval(), 10),
	}
}

// Run starts the child and streams its events. The returned channel closes once the
// child has exited and its output is drained.
func (u *ProcessUnit) Run(ctx context.Context, p Params) (<-chan Event, error) {
	args := append(slices.Clone(u.args), ProcessArgs(p)...)

	cmd := exec.CommandContext(ctx, u.path, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = u.killTimeout
	cmd.Stderr = u.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open unit stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start unit %s: %w", u.name, err)
	}

	u.logger.Debug("Search unit process started",
		slog.String("unit", u.name),
		slog.Int("pid", cmd.Process.Pid),
	)

	out := make(chan Event, 1)
	go func() {
		defer close(out)

		finished := false
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			var ev Event
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				u.logger.Warn("Discarding malformed unit output",
					slog.String("unit", u.name),
					slog.String("line", scanner.Text()),
				)
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			if ev.Type == EventFound || ev.Type == EventError {
				finished = true
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}

		waitErr := cmd.Wait()
		if waitErr != nil && ctx.Err() == nil && !finished {
			select {
			case out <- Event{Type: EventError, Error: fmt.Sprintf("unit exited: %v", waitErr)}:
			case <-ctx.Done():
			}
		}

		u.logger.Debug("Search unit process exited",
			slog.String("unit", u.name),
			slog.Any("error", waitErr),
		)
	}()

	return out, nil
}
