// Command vanity-client submits a payment to the farm, follows the job and prints the
// opened keypair once it is redeemed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/client"
	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/shared/logger"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	cyan   = color.New(color.FgCyan)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

const maxETASeconds = float64(math.MaxInt64 / int64(time.Second))

type options struct {
	apiURL      string
	txid        string
	jobID       string
	progressURL string
	deliveryURL string
	interval    time.Duration
	timeout     time.Duration
	iterations  int
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		red.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("vanity-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.apiURL, "api", "http://localhost:8080", "Base URL of the API service")
	fs.StringVar(&o.txid, "txid", "", "Hash of the validated payment transaction")
	fs.StringVar(&o.jobID, "job-id", "", "Resume an existing job instead of submitting a payment")
	fs.StringVar(&o.progressURL, "progress-url", "", "Progress URL of the job to resume")
	fs.StringVar(&o.deliveryURL, "delivery-url", "", "Delivery URL of the job to resume")
	fs.DurationVar(&o.interval, "interval", client.DefaultPollInterval, "Progress poll interval")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "Per-request timeout")
	fs.IntVar(&o.iterations, "iterations", delivery.DefaultIterations, "Key derivation rounds the farm seals with")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	resuming := o.jobID != "" || o.deliveryURL != ""
	switch {
	case o.txid == "" && !resuming:
		return nil, errors.New("either -txid or -job-id with -delivery-url is required")
	case o.txid != "" && resuming:
		return nil, errors.New("-txid cannot be combined with -job-id or -delivery-url")
	case resuming && (o.jobID == "" || o.deliveryURL == ""):
		return nil, errors.New("-job-id and -delivery-url must be given together")
	}
	if o.progressURL == "" && o.jobID != "" {
		o.progressURL = "/api/progress/" + o.jobID
	}
	return &o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{Level: o.logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}

	api := client.NewAPI(o.apiURL, o.timeout)

	job := &client.Job{ID: o.jobID, ProgressURL: o.progressURL, DeliveryURL: o.deliveryURL}
	if o.txid != "" {
		cyan.Fprintf(stdout, "Verifying payment %s\n", o.txid)
		job, err = api.Submit(ctx, o.txid)
		if err != nil {
			return fmt.Errorf("submit payment: %w", err)
		}
		green.Fprintf(stdout, "Job %s queued\n", job.ID)
		fmt.Fprintf(stdout, "  progress: %s\n  delivery: %s\n", job.ProgressURL, job.DeliveryURL)
	}

	poller := client.NewPoller(client.PollerConfig{
		Service:      api,
		Codec:        delivery.NewCodec(o.iterations),
		Interval:     o.interval,
		Logger:       log.Logger,
		OnProgress:   func(p *dto.ProgressResponse) { printProgress(stdout, p) },
		OnTransition: func(from, to client.State) { printTransition(stdout, from, to) },
	})

	log.Debug("Polling job", slog.String("job_id", job.ID), slog.Duration("interval", o.interval))

	payload, err := poller.Run(ctx, job)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout)
	green.Fprintln(stdout, "Vanity address ready")
	bold.Fprint(stdout, "  address:   ")
	fmt.Fprintln(stdout, payload.Address)
	bold.Fprint(stdout, "  seed:      ")
	fmt.Fprintln(stdout, payload.Seed)
	bold.Fprint(stdout, "  algorithm: ")
	fmt.Fprintln(stdout, payload.Algorithm)
	bold.Fprint(stdout, "  receipt:   ")
	fmt.Fprintln(stdout, payload.ReceiptTx)
	yellow.Fprintln(stdout, "Store the seed now. It cannot be fetched again.")
	return nil
}

func printProgress(w io.Writer, p *dto.ProgressResponse) {
	line := fmt.Sprintf("  %-8s %s attempts  %s/s", p.Status, humanize.Comma(int64(p.Attempts)), humanize.CommafWithDigits(p.Rate, 0))
	if p.ETASeconds != nil && *p.ETASeconds < maxETASeconds {
		eta := time.Duration(*p.ETASeconds * float64(time.Second)).Round(time.Second)
		line += "  eta " + eta.String()
	}
	fmt.Fprintln(w, line)
}

func printTransition(w io.Writer, from, to client.State) {
	c := cyan
	switch to {
	case client.StateComplete, client.StateRedeemed:
		c = green
	case client.StateFailed:
		c = red
	}
	c.Fprintf(w, "%s -> %s\n", from, to)
}
