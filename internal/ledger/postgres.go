package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the vanity_jobs table. Progress and the sealed result live on the
// job row and are nulled out when no longer valid.
const Schema = `
CREATE TABLE IF NOT EXISTS vanity_jobs (
	job_id            TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	mode              TEXT NOT NULL,
	prefix            TEXT NOT NULL DEFAULT '',
	suffix            TEXT NOT NULL DEFAULT '',
	length            INTEGER NOT NULL,
	algorithm         TEXT NOT NULL,
	delivery_secret   TEXT,
	secret_digest     TEXT,
	receipt_tx        TEXT,
	attempts          BIGINT,
	rate              DOUBLE PRECISION,
	result            TEXT,
	result_expires_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS vanity_jobs_receipt_tx_key ON vanity_jobs (receipt_tx);
`

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type jobRow struct {
	JobID          string         `db:"job_id"`
	Status         string         `db:"status"`
	Mode           string         `db:"mode"`
	Prefix         string         `db:"prefix"`
	Suffix         string         `db:"suffix"`
	Length         int            `db:"length"`
	Algorithm      string         `db:"algorithm"`
	DeliverySecret sql.NullString `db:"delivery_secret"`
	ReceiptTx      sql.NullString `db:"receipt_tx"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *jobRow) toJob() *Job {
	return &Job{
		ID:     r.JobID,
		Status: Status(r.Status),
		Constraint: matcher.Constraint{
			Mode:   matcher.Mode(r.Mode),
			Prefix: r.Prefix,
			Suffix: r.Suffix,
			Length: r.Length,
		},
		Algorithm:      xrpl.ParseAlgorithm(r.Algorithm),
		DeliverySecret: r.DeliverySecret.String,
		ReceiptTx:      r.ReceiptTx.String,
		CreatedAt:      r.CreatedAt,
	}
}

// PostgresLedger stores jobs in a single table. Redemption locks the row with
// SELECT ... FOR UPDATE.
type PostgresLedger struct {
	db     *sqlx.DB
	opts   Options
	logger *slog.Logger
}

// NewPostgresLedger creates a ledger on db.
func NewPostgresLedger(db *sqlx.DB, opts Options, logger *slog.Logger) *PostgresLedger {
	return &PostgresLedger{db: db, opts: opts.withDefaults(), logger: logger}
}

// Migrate creates the schema if it does not exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Create(ctx context.Context, job *Job) error {
	if err := prepareCreate(job, time.Now()); err != nil {
		return err
	}

	query := `
		INSERT INTO vanity_jobs (
			job_id, status, mode, prefix, suffix, length,
			algorithm, delivery_secret, receipt_tx, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		ON CONFLICT DO NOTHING
	`

	result, err := l.db.ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		string(job.Constraint.Mode),
		job.Constraint.Prefix,
		job.Constraint.Suffix,
		job.Constraint.Length,
		string(job.Algorithm),
		job.DeliverySecret,
		job.ReceiptTx,
		job.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}

	l.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("receipt_tx", job.ReceiptTx),
	)
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT job_id, status, mode, prefix, suffix, length, algorithm,
			CASE WHEN result_expires_at IS NOT NULL AND result_expires_at <= NOW() THEN NULL
				ELSE delivery_secret END AS delivery_secret,
			receipt_tx, created_at
		FROM vanity_jobs
		WHERE job_id = $1
	`

	var row jobRow
	if err := l.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toJob(), nil
}

func (l *PostgresLedger) SetProgress(ctx context.Context, jobID string, p Progress) error {
	query := `
		UPDATE vanity_jobs
		SET attempts = $2, rate = $3, updated_at = NOW()
		WHERE job_id = $1 AND status = $4
	`

	result, err := l.db.ExecContext(ctx, query, jobID, int64(p.Attempts), p.Rate, string(StatusPaid))
	if err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := l.status(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (l *PostgresLedger) GetProgress(ctx context.Context, jobID string) (*Progress, error) {
	query := `SELECT attempts, rate FROM vanity_jobs WHERE job_id = $1`

	var attempts sql.NullInt64
	var rate sql.NullFloat64
	err := l.db.QueryRowContext(ctx, query, jobID).Scan(&attempts, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return &Progress{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	return &Progress{Attempts: uint64(attempts.Int64), Rate: rate.Float64}, nil
}

func (l *PostgresLedger) Complete(ctx context.Context, jobID string, env *delivery.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	query := `
		UPDATE vanity_jobs
		SET status = $2, result = $3, result_expires_at = NOW() + ($4 * INTERVAL '1 second'),
			attempts = NULL, rate = NULL, updated_at = NOW()
		WHERE job_id = $1 AND status = $5
	`

	return l.transition(ctx, jobID, StatusComplete, query,
		jobID, string(StatusComplete), string(data), l.opts.ResultTTL.Seconds(), string(StatusPaid))
}

func (l *PostgresLedger) Fail(ctx context.Context, jobID string) error {
	query := `
		UPDATE vanity_jobs
		SET status = $2, attempts = NULL, rate = NULL, updated_at = NOW()
		WHERE job_id = $1 AND status = $3
	`

	return l.transition(ctx, jobID, StatusFailed, query, jobID, string(StatusFailed), string(StatusPaid))
}

// transition runs a guarded paid -> to update and explains a miss.
func (l *PostgresLedger) transition(ctx context.Context, jobID string, to Status, query string, args ...interface{}) error {
	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := l.status(ctx, jobID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}

	l.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
	)
	return nil
}

func (l *PostgresLedger) status(ctx context.Context, jobID string) (Status, error) {
	var status string
	err := l.db.GetContext(ctx, &status, `SELECT status FROM vanity_jobs WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return Status(status), nil
}

func (l *PostgresLedger) List(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `
		SELECT job_id, status, mode, prefix, suffix, length, algorithm, receipt_tx, created_at
		FROM vanity_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// one extra row tells the caller another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.limit()+1)

	var rows []jobRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *rows[i].toJob())
	}
	return jobs, nil
}

func (l *PostgresLedger) Redeem(ctx context.Context, jobID, token string) (*Redemption, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT status, delivery_secret, secret_digest, receipt_tx, result,
			(result IS NOT NULL AND result_expires_at > NOW()) AS live
		FROM vanity_jobs
		WHERE job_id = $1
		FOR UPDATE
	`

	var (
		status  string
		secret  sql.NullString
		digest  sql.NullString
		receipt sql.NullString
		result  sql.NullString
		live    bool
	)

	st := redeemState{}
	err = tx.QueryRowxContext(ctx, query, jobID).Scan(&status, &secret, &digest, &receipt, &result, &live)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read job: %w", err)
	default:
		st = redeemState{
			found:  true,
			status: Status(status),
			secret: secret.String,
			digest: digest.String,
			live:   live,
		}
	}

	action, verdict := decideRedeem(st, token)
	if action == redeemReject {
		return nil, verdict
	}

	var env *delivery.Envelope
	if action == redeemDeliver {
		if env, err = delivery.UnmarshalEnvelope([]byte(result.String)); err != nil {
			return nil, err
		}
	}

	scrub := `
		UPDATE vanity_jobs
		SET delivery_secret = NULL, secret_digest = $2, result = NULL, result_expires_at = NULL, updated_at = NOW()
		WHERE job_id = $1
	`
	if _, err := tx.ExecContext(ctx, scrub, jobID, tokenDigest(secret.String)); err != nil {
		return nil, fmt.Errorf("failed to scrub delivery secret: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	if action == redeemScrub {
		return nil, verdict
	}

	l.logger.Info("Job result redeemed", slog.String("job_id", jobID))
	return &Redemption{Envelope: env, ReceiptTx: receipt.String}, nil
}

// PurgeExpired replaces the delivery secret of every job whose result has expired
// with its digest and drops the result.
func (l *PostgresLedger) PurgeExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE vanity_jobs
		SET secret_digest = encode(sha256(convert_to(delivery_secret, 'UTF8')), 'hex'),
			delivery_secret = NULL, result = NULL, result_expires_at = NULL, updated_at = NOW()
		WHERE result_expires_at <= NOW() AND delivery_secret IS NOT NULL
	`
	res, err := l.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purged rows: %w", err)
	}
	if n > 0 {
		l.logger.Info("Purged expired results", slog.Int64("count", n))
	}
	return n, nil
}
