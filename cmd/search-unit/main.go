// Command search-unit runs one search loop and reports on stdout, one JSON event per
// line. SIGINT stops it without further output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/search"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
	"github.com/cuongbtq/vanity-farm/shared/logger"
)

const (
	exitOK    = 0
	exitFault = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("search-unit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", "prefix", "Pattern mode: prefix, suffix or combo")
	prefix := fs.String("prefix", "", "Characters after the leading r")
	suffix := fs.String("suffix", "", "Trailing characters")
	length := fs.Int("len", 0, "Pattern length")
	algorithm := fs.String("algorithm", string(xrpl.DefaultAlgorithm), "Key algorithm: ed25519 or secp256k1")
	reportEvery := fs.Uint64("report-every", search.DefaultTelemetryInterval, "Attempts between progress reports")
	logLevel := fs.String("log-level", "info", "Log level for stderr diagnostics")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	log, err := logger.New(&logger.Config{Level: *logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	var mu sync.Mutex
	enc := json.NewEncoder(stdout)
	emit := func(ev search.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(ev); err != nil {
			log.Error("Failed to write event", slog.String("error", err.Error()))
		}
	}

	m, err := matcher.ParseMode(*mode)
	if err != nil {
		emit(search.Event{Type: search.EventError, Error: err.Error()})
		return exitUsage
	}
	c := matcher.Constraint{Mode: m, Prefix: *prefix, Suffix: *suffix, Length: *length}
	if err := c.Validate(); err != nil {
		emit(search.Event{Type: search.EventError, Error: err.Error()})
		return exitUsage
	}

	params := search.Params{
		Constraint:        c,
		Algorithm:         xrpl.ParseAlgorithm(*algorithm),
		TelemetryInterval: *reportEvery,
	}
	log.Debug("Search started",
		slog.String("mode", string(c.Mode)),
		slog.String("algorithm", string(params.Algorithm)),
		slog.String("expected_attempts", humanize.Commaf(matcher.ExpectedAttempts(c.Difficulty()))),
	)

	var last search.Event
	search.NewSearcher(nil).Search(ctx, params, func(ev search.Event) {
		last = ev
		emit(ev)
	})

	switch last.Type {
	case search.EventFound:
		log.Debug("Match found", slog.String("attempts", humanize.Comma(int64(last.Attempts))))
	case search.EventError:
		return exitFault
	}
	return exitOK
}
