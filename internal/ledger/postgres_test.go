package ledger

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresLedger(sqlx.NewDb(db, "sqlmock"), testOptions, logger), mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestPostgresLedger_Migrate(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS vanity_jobs")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, l.Migrate(context.Background()))
}

func TestPostgresLedger_Create(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "inserted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("INSERT INTO vanity_jobs")).
					WithArgs("j1", "paid", "prefix", "AB", "", 2, "ed25519", "secret-j1", "TX-j1", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "duplicate id or receipt",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("ON CONFLICT DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrConflict,
		},
		{
			name: "unique violation",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("INSERT INTO vanity_jobs")).WillReturnError(&pq.Error{Code: uniqueViolation})
			},
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newPostgresLedger(t)
			tt.setup(mock)

			err := l.Create(context.Background(), newJob("j1"))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPostgresLedger_Get(t *testing.T) {
	l, mock := newPostgresLedger(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	columns := []string{"job_id", "status", "mode", "prefix", "suffix", "length", "algorithm", "delivery_secret", "receipt_tx", "created_at"}
	mock.ExpectQuery(q("FROM vanity_jobs")).WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("j1", "complete", "combo", "ABC", "xyz", 3, "secp256k1", nil, "TX-j1", created))
	mock.ExpectQuery(q("FROM vanity_jobs")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	job, err := l.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, "ABC", job.Constraint.Prefix)
	assert.Equal(t, "xyz", job.Constraint.Suffix)
	assert.Equal(t, 3, job.Constraint.Length)
	assert.Equal(t, "secp256k1", string(job.Algorithm))
	assert.Empty(t, job.DeliverySecret)
	assert.Equal(t, created, job.CreatedAt)

	_, err = l.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresLedger_GetHidesSecretOfExpiredResult(t *testing.T) {
	l, mock := newPostgresLedger(t)

	mock.ExpectQuery(q("THEN NULL")).WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "status", "mode", "prefix", "suffix", "length", "algorithm", "delivery_secret", "receipt_tx", "created_at"}).
			AddRow("j1", "complete", "prefix", "AB", "", 2, "ed25519", nil, "TX-j1", time.Now()))

	job, err := l.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Empty(t, job.DeliverySecret)
}

func TestPostgresLedger_PurgeExpired(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    int64
		wantErr bool
	}{
		{
			name: "replaces secrets with digests",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("SET secret_digest = encode(sha256(")).WillReturnResult(sqlmock.NewResult(0, 3))
			},
			want: 3,
		},
		{
			name: "nothing expired",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("WHERE result_expires_at <= NOW()")).WillReturnResult(sqlmock.NewResult(0, 0))
			},
		},
		{
			name: "database error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("UPDATE vanity_jobs")).WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newPostgresLedger(t)
			tt.setup(mock)

			n, err := l.PurgeExpired(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestPostgresLedger_SetProgress(t *testing.T) {
	l, mock := newPostgresLedger(t)

	mock.ExpectExec(q("SET attempts = $2, rate = $3")).WithArgs("j1", int64(5000), 120.5, "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET attempts = $2, rate = $3")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT status FROM vanity_jobs")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	require.NoError(t, l.SetProgress(context.Background(), "j1", Progress{Attempts: 5000, Rate: 120.5}))
	require.ErrorIs(t, l.SetProgress(context.Background(), "missing", Progress{}), ErrNotFound)
}

func TestPostgresLedger_GetProgress(t *testing.T) {
	l, mock := newPostgresLedger(t)

	mock.ExpectQuery(q("SELECT attempts, rate FROM vanity_jobs")).WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "rate"}).AddRow(int64(7000), 99.5))
	mock.ExpectQuery(q("SELECT attempts, rate FROM vanity_jobs")).WithArgs("j2").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "rate"}).AddRow(nil, nil))

	p, err := l.GetProgress(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, Progress{Attempts: 7000, Rate: 99.5}, *p)

	p, err = l.GetProgress(context.Background(), "j2")
	require.NoError(t, err)
	assert.Equal(t, Progress{}, *p)
}

func TestPostgresLedger_Complete(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "paid job completes",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("SET status = $2, result = $3")).
					WithArgs("j1", "complete", sqlmock.AnyArg(), float64(1800), "paid").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already terminal",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("SET status = $2, result = $3")).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(q("SELECT status FROM vanity_jobs")).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
			},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "unknown job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("SET status = $2, result = $3")).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(q("SELECT status FROM vanity_jobs")).WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newPostgresLedger(t)
			tt.setup(mock)

			err := l.Complete(context.Background(), "j1", testEnvelope)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPostgresLedger_Fail(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectExec(q("SET status = $2, attempts = NULL")).WithArgs("J2", "failed", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.Fail(context.Background(), "J2"))
}

func TestPostgresLedger_Redeem(t *testing.T) {
	blob, err := testEnvelope.Marshal()
	require.NoError(t, err)
	columns := []string{"status", "delivery_secret", "secret_digest", "receipt_tx", "result", "live"}

	tests := []struct {
		name    string
		token   string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name:  "delivers and scrubs",
			token: "tok",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("FOR UPDATE")).WithArgs("j1").
					WillReturnRows(sqlmock.NewRows(columns).AddRow("complete", "tok", nil, "TX-j1", string(blob), true))
				mock.ExpectExec(q("SET delivery_secret = NULL")).WithArgs("j1", tokenDigest("tok")).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:  "wrong token leaves row untouched",
			token: "bad",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("FOR UPDATE")).
					WillReturnRows(sqlmock.NewRows(columns).AddRow("complete", "tok", nil, "TX-j1", string(blob), true))
				mock.ExpectRollback()
			},
			wantErr: ErrForbidden,
		},
		{
			name:  "second redemption",
			token: "tok",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("FOR UPDATE")).
					WillReturnRows(sqlmock.NewRows(columns).AddRow("complete", nil, tokenDigest("tok"), "TX-j1", nil, false))
				mock.ExpectRollback()
			},
			wantErr: ErrGone,
		},
		{
			name:  "expired result scrubs secret",
			token: "tok",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("FOR UPDATE")).
					WillReturnRows(sqlmock.NewRows(columns).AddRow("complete", "tok", nil, "TX-j1", string(blob), false))
				mock.ExpectExec(q("SET delivery_secret = NULL")).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantErr: ErrGone,
		},
		{
			name:  "not complete",
			token: "tok",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("FOR UPDATE")).
					WillReturnRows(sqlmock.NewRows(columns).AddRow("failed", "tok", nil, "TX-j1", nil, false))
				mock.ExpectRollback()
			},
			wantErr: ErrNotReady,
		},
		{
			name:  "unknown job",
			token: "tok",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectRollback()
			},
			wantErr: ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newPostgresLedger(t)
			tt.setup(mock)

			got, err := l.Redeem(context.Background(), "j1", tt.token)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testEnvelope, got.Envelope)
			assert.Equal(t, "TX-j1", got.ReceiptTx)
		})
	}
}
