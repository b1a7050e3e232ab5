// Package payment turns a validated on-ledger payment into a queued vanity job.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/vanity-farm/internal/ledger"
)

// SecretLength is the number of random bytes in a delivery secret.
const SecretLength = 16

var (
	ErrInvalidTxID        = errors.New("invalid transaction id")
	ErrNotValidated       = errors.New("tx not validated")
	ErrNotPayment         = errors.New("not a payment")
	ErrBadDestination     = errors.New("bad destination")
	ErrInsufficientAmount = errors.New("insufficient amount")
	ErrMissingMemo        = errors.New("missing memo")
	ErrBadMemo            = errors.New("bad memo json")
	ErrBadIntent          = errors.New("bad intent")
	ErrBadOrder           = errors.New("bad order")
	ErrAlreadyRedeemed    = errors.New("payment already used")
	ErrEnqueue            = errors.New("failed to enqueue job")
)

// Enqueuer hands a job id to the worker farm.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Config controls payment verification.
type Config struct {
	Destination    string
	MinAmountDrops uint64
	VerifyAttempts int
	VerifyInterval time.Duration
	PublicBaseURL  string
}

// Receipt is returned to the payer once a job is queued.
type Receipt struct {
	JobID       string `json:"jobId"`
	ProgressURL string `json:"progressUrl"`
	DeliveryURL string `json:"deliveryUrl"`
}

// Gate verifies payments and creates jobs.
type Gate struct {
	fetcher TxFetcher
	ledger  ledger.Ledger
	queue   Enqueuer
	cfg     Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewGate(fetcher TxFetcher, l ledger.Ledger, q Enqueuer, cfg Config, logger *slog.Logger) *Gate {
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 1
	}
	return &Gate{
		fetcher: fetcher,
		ledger:  l,
		queue:   q,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Verify checks txid and, if it is a valid vanity payment, records a paid job and
// enqueues it.
func (g *Gate) Verify(ctx context.Context, txid string) (*Receipt, error) {
	txid = strings.ToUpper(strings.TrimSpace(txid))
	if !isTxHash(txid) {
		return nil, ErrInvalidTxID
	}
	logger := g.logger.With(slog.String("txid", txid))

	tx, err := g.fetchValidated(ctx, txid)
	if err != nil {
		return nil, err
	}

	if err := g.checkPayment(tx); err != nil {
		logger.Warn("Payment rejected", slog.String("error", err.Error()))
		return nil, err
	}

	constraint, algo, err := DecodeMemo(tx)
	if err != nil {
		logger.Warn("Payment memo rejected", slog.String("error", err.Error()))
		return nil, err
	}

	secret, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate delivery secret: %w", err)
	}

	receiptTx := tx.Hash
	if receiptTx == "" {
		receiptTx = txid
	}
	job := &ledger.Job{
		ID:             uuid.New().String(),
		Constraint:     constraint,
		Algorithm:      algo,
		DeliverySecret: secret,
		ReceiptTx:      strings.ToUpper(receiptTx),
	}
	if err := g.ledger.Create(ctx, job); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, ErrAlreadyRedeemed
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := g.queue.Enqueue(ctx, job.ID); err != nil {
		logger.Error("Job recorded but not queued",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	logger.Info("Payment verified, job queued",
		slog.String("job_id", job.ID),
		slog.String("mode", string(constraint.Mode)),
		slog.String("algorithm", string(algo)),
	)
	return g.receipt(job.ID, secret), nil
}

// fetchValidated polls the node until the transaction is validated or attempts run out.
func (g *Gate) fetchValidated(ctx context.Context, txid string) (*Tx, error) {
	var (
		last    *Tx
		lastErr error
	)
	for attempt := 1; attempt <= g.cfg.VerifyAttempts; attempt++ {
		tx, err := g.fetcher.FetchTx(ctx, txid)
		switch {
		case err == nil && tx.Validated:
			return tx, nil
		case err == nil:
			last = tx
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			lastErr = err
			if !errors.Is(err, ErrTxNotFound) {
				g.logger.Warn("Transaction lookup failed",
					slog.String("txid", txid),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			}
		}

		if attempt == g.cfg.VerifyAttempts {
			break
		}
		if err := g.sleep(ctx, g.cfg.VerifyInterval); err != nil {
			return nil, err
		}
	}

	if last != nil {
		return nil, ErrNotValidated
	}
	if lastErr != nil && !errors.Is(lastErr, ErrTxNotFound) {
		return nil, fmt.Errorf("fetch tx: %w", lastErr)
	}
	return nil, ErrTxNotFound
}

func (g *Gate) checkPayment(tx *Tx) error {
	if tx.TransactionType != "Payment" {
		return ErrNotPayment
	}
	if tx.Destination != g.cfg.Destination {
		return fmt.Errorf("%w: got %s", ErrBadDestination, tx.Destination)
	}
	if g.cfg.MinAmountDrops == 0 {
		return nil
	}

	amount := tx.DeliverMax
	if len(amount) == 0 {
		amount = tx.Amount
	}
	drops, ok := parseDrops(amount)
	if !ok || drops < g.cfg.MinAmountDrops {
		return ErrInsufficientAmount
	}
	return nil
}

func (g *Gate) receipt(jobID, secret string) *Receipt {
	base := strings.TrimRight(g.cfg.PublicBaseURL, "/")
	return &Receipt{
		JobID:       jobID,
		ProgressURL: fmt.Sprintf("%s/api/progress/%s", base, jobID),
		DeliveryURL: fmt.Sprintf("%s/api/deliver/%s?token=%s", base, jobID, url.QueryEscape(secret)),
	}
}

// parseDrops reads a native XRP amount. Issued currency amounts are objects and never qualify.
func parseDrops(raw json.RawMessage) (uint64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isTxHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func newSecret() (string, error) {
	b := make([]byte, SecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
